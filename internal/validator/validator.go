// Package validator implements the Validator record and its registry: the
// stake-and-reputation-weighted proposer set BT2C's consensus driver reads
// from on every slot.
package validator

import (
	"time"

	"github.com/bt2c/bt2c-core/internal/consensusconstants"
	"github.com/bt2c/bt2c-core/internal/crypto"
)

// State is a validator's lifecycle stage.
type State string

const (
	StateInactive   State = "Inactive"
	StateActive     State = "Active"
	StateJailed     State = "Jailed"
	StateTombstoned State = "Tombstoned"
)

// Validator is one registered participant in block production.
type Validator struct {
	Address    string
	PublicKey  []byte // compressed SEC1 encoding, see crypto.SerializePublicKey
	Stake      uint64
	Moniker    string
	State      State
	Reputation float64

	BlocksProduced uint64
	BlocksMissed   uint64
	Uptime         float64 // percentage, 0-100

	LastActive  time.Time
	JailedUntil time.Time

	IsFirstValidator          bool
	JoinedDuringDistribution  bool
	DistributionRewardClaimed bool
}

// IsEligible reports whether v may currently be selected as proposer:
// Active, sufficiently staked, and past any jail sentence.
func (v *Validator) IsEligible(now time.Time) bool {
	return v.State == StateActive &&
		v.Stake >= consensusconstants.MinStake &&
		!now.Before(v.JailedUntil)
}

// reputationMultiplier converts v's reputation into the selection-weight
// multiplier applied on top of its stake share.
func (v *Validator) reputationMultiplier() float64 {
	m := consensusconstants.ReputationMultiplierMin + v.Reputation/consensusconstants.ReputationMultiplierDivisor
	if m < consensusconstants.ReputationMultiplierMin {
		return consensusconstants.ReputationMultiplierMin
	}
	if m > consensusconstants.ReputationMultiplierMax {
		return consensusconstants.ReputationMultiplierMax
	}
	return m
}

// PublicKeyParsed parses v's stored public key bytes.
func (v *Validator) PublicKeyParsed() (*crypto.PublicKey, error) {
	return crypto.ParsePublicKey(v.PublicKey)
}

// applyReputationUpdate folds in the flat produced/missed delta plus the
// accuracy and uptime correction terms, then clamps to the protocol
// bounds. accuracy and uptime are both expressed as percentages measured
// against a 95% baseline.
//
// The data model defines only a single "uptime" tracked metric; this
// package treats the formula's "accuracy" term as that same uptime value
// (produced / (produced+missed) * 100), since no separate accuracy signal
// exists to track. See DESIGN.md for this decision.
func (v *Validator) applyReputationUpdate(produced bool) {
	delta := consensusconstants.ReputationMissedDelta
	if produced {
		delta = consensusconstants.ReputationProducedDelta
	}
	accuracy := v.Uptime
	uptime := v.Uptime
	next := v.Reputation + delta +
		(accuracy-consensusconstants.ReputationAccuracyBaseline)/consensusconstants.ReputationAccuracyDivisor +
		(uptime-consensusconstants.ReputationUptimeBaseline)/consensusconstants.ReputationUptimeDivisor

	if next < consensusconstants.ReputationMin {
		next = consensusconstants.ReputationMin
	}
	if next > consensusconstants.ReputationMax {
		next = consensusconstants.ReputationMax
	}
	v.Reputation = next
}

// recomputeUptime recalculates Uptime from BlocksProduced/BlocksMissed. A
// validator with no recorded slots yet is treated as 100% up.
func (v *Validator) recomputeUptime() {
	total := v.BlocksProduced + v.BlocksMissed
	if total == 0 {
		v.Uptime = 100
		return
	}
	v.Uptime = float64(v.BlocksProduced) / float64(total) * 100
}
