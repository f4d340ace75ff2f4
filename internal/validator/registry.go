package validator

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bt2c/bt2c-core/internal/consensusconstants"
	"github.com/bt2c/bt2c-core/internal/crypto"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
	"github.com/bt2c/bt2c-core/internal/events"
)

// DistributionResult reports the outcome of ProcessDistributionReward.
type DistributionResult struct {
	Success bool
	Amount  uint64
	Reason  string
}

// Registry is the single, thread-safe holder of every registered
// validator. It is the single writer to validator state; the consensus
// driver and state machine both go through it.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]*Validator

	genesisTime      time.Time
	developerAddress string // configured developer-node address, empty if unset

	log  *zap.SugaredLogger
	bus  *events.Bus
}

// NewRegistry creates an empty registry. developerAddress may be empty, in
// which case the first successful registration becomes the first
// validator.
func NewRegistry(developerAddress string, genesisTime time.Time, bus *events.Bus, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{
		validators:       make(map[string]*Validator),
		genesisTime:      genesisTime,
		developerAddress: developerAddress,
		log:              log.Named("validator"),
		bus:              bus,
	}
}

// Get returns the validator at address, if registered.
func (r *Registry) Get(address string) (*Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[address]
	return v, ok
}

// Register enrolls a new validator. stake must be at least MinStake. The
// first successful registration is marked IsFirstValidator if its address
// matches the configured developer address, or if no developer address is
// configured and the registry is currently empty.
func (r *Registry) Register(address string, pub *crypto.PublicKey, stake uint64, moniker string, now time.Time) (*Validator, error) {
	if stake < consensusconstants.MinStake {
		return nil, internalerrors.New(internalerrors.KindValidatorIneligible,
			fmt.Sprintf("stake %d below minimum %d", stake, consensusconstants.MinStake), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.validators[address]; exists {
		return nil, internalerrors.New(internalerrors.KindInvalidStructure, "validator already registered", nil)
	}

	isFirst := false
	if r.developerAddress != "" {
		isFirst = address == r.developerAddress
	} else {
		isFirst = len(r.validators) == 0
	}

	v := &Validator{
		Address:                  address,
		PublicKey:                crypto.SerializePublicKey(pub),
		Stake:                    stake,
		Moniker:                  moniker,
		State:                    StateInactive,
		Reputation:               consensusconstants.ReputationStart,
		Uptime:                   100,
		LastActive:               now,
		IsFirstValidator:         isFirst,
		JoinedDuringDistribution: now.Before(r.genesisTime.Add(consensusconstants.DistributionPeriod)),
	}
	r.validators[address] = v

	if stake >= consensusconstants.MinStake {
		v.State = StateActive
	}

	r.publish(events.ValidatorRegistered, v)
	return v, nil
}

// Activate transitions address from Inactive to Active, if its stake
// still satisfies MinStake.
func (r *Registry) Activate(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[address]
	if !ok || v.State != StateInactive || v.Stake < consensusconstants.MinStake {
		return false
	}
	v.State = StateActive
	r.publish(events.ValidatorActivated, v)
	return true
}

// Deactivate transitions address from Active to Inactive.
func (r *Registry) Deactivate(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[address]
	if !ok || v.State != StateActive {
		return false
	}
	v.State = StateInactive
	return true
}

// Jail transitions address from Active to Jailed for duration.
func (r *Registry) Jail(address string, duration time.Duration, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[address]
	if !ok || v.State != StateActive {
		return false
	}
	v.State = StateJailed
	v.JailedUntil = now.Add(duration)
	r.publish(events.ValidatorJailed, v)
	return true
}

// TryUnjail transitions address from Jailed to Inactive once its jail
// sentence has elapsed.
func (r *Registry) TryUnjail(address string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[address]
	if !ok || v.State != StateJailed || now.Before(v.JailedUntil) {
		return false
	}
	v.State = StateInactive
	r.publish(events.ValidatorUnjailed, v)
	return true
}

// Tombstone permanently disables address. Tombstoned is terminal: no
// further transition is possible.
func (r *Registry) Tombstone(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[address]
	if !ok || v.State == StateTombstoned {
		return false
	}
	v.State = StateTombstoned
	r.publish(events.ValidatorTombstoned, v)
	return true
}

// UpdateStake sets address's stake to newStake, flipping its lifecycle
// state between Active and Inactive according to MinStake.
func (r *Registry) UpdateStake(address string, newStake uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[address]
	if !ok {
		return internalerrors.New(internalerrors.KindNotFound, "validator not found", nil).WithHash(address)
	}
	v.Stake = newStake
	switch {
	case newStake < consensusconstants.MinStake && v.State == StateActive:
		v.State = StateInactive
	case newStake >= consensusconstants.MinStake && v.State == StateInactive:
		v.State = StateActive
	}
	return nil
}

// SelectProposer deterministically picks the next proposer from the
// eligible validator set, weighted by stake share and reputation
// multiplier. seed is typically the previous block's hash. Returns false
// if no validator is eligible.
func (r *Registry) SelectProposer(seed crypto.Hash, now time.Time) (*Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eligible := make([]*Validator, 0, len(r.validators))
	for _, v := range r.validators {
		if v.IsEligible(now) {
			eligible = append(eligible, v)
		}
	}
	if len(eligible) == 0 {
		return nil, false
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Address < eligible[j].Address })

	var totalStake uint64
	for _, v := range eligible {
		totalStake += v.Stake
	}
	if totalStake == 0 {
		return nil, false
	}

	weights := make([]float64, len(eligible))
	var totalWeight float64
	for i, v := range eligible {
		stakeShare := float64(v.Stake) / float64(totalStake)
		weights[i] = stakeShare * v.reputationMultiplier()
		totalWeight += weights[i]
	}
	if totalWeight <= 0 {
		return nil, false
	}

	u := uniformFromSeed(seed)
	var cumulative float64
	for i, v := range eligible {
		cumulative += weights[i] / totalWeight
		if u < cumulative {
			return v, true
		}
	}
	// Floating point rounding may leave cumulative just short of 1; fall
	// back to the last candidate rather than returning none.
	return eligible[len(eligible)-1], true
}

// uniformFromSeed derives a uniform value in [0,1) from the top 32 bits of
// H(seed).
func uniformFromSeed(seed crypto.Hash) float64 {
	digest := crypto.SumHash(seed[:])
	top32 := binary.BigEndian.Uint32(digest[:4])
	return float64(top32) / float64(math.MaxUint32+1)
}

// RecordProduced records that address successfully produced its slot and
// updates its reputation.
func (r *Registry) RecordProduced(address string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[address]
	if !ok {
		return internalerrors.New(internalerrors.KindNotFound, "validator not found", nil).WithHash(address)
	}
	v.BlocksProduced++
	v.LastActive = now
	v.recomputeUptime()
	v.applyReputationUpdate(true)
	return nil
}

// RecordMissed records that address failed to produce its allotted slot.
// If its missed-block count exceeds MaxMissedBlocks, it is jailed for
// DefaultJailDuration.
func (r *Registry) RecordMissed(address string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[address]
	if !ok {
		return internalerrors.New(internalerrors.KindNotFound, "validator not found", nil).WithHash(address)
	}
	v.BlocksMissed++
	v.recomputeUptime()
	v.applyReputationUpdate(false)

	if v.State == StateActive && v.BlocksMissed > consensusconstants.MaxMissedBlocks {
		v.State = StateJailed
		v.JailedUntil = now.Add(consensusconstants.DefaultJailDuration)
		r.publish(events.ValidatorJailed, v)
	}
	return nil
}

// ProcessDistributionReward pays out the one-time genesis distribution
// reward to address, if it is within the 14-day distribution window and
// has not already claimed. The first validator claims DeveloperReward;
// every other validator claims EarlyValidatorReward.
func (r *Registry) ProcessDistributionReward(address string, now time.Time) (DistributionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[address]
	if !ok {
		return DistributionResult{}, internalerrors.New(internalerrors.KindNotFound, "validator not found", nil).WithHash(address)
	}

	if now.After(r.genesisTime.Add(consensusconstants.DistributionPeriod)) {
		return DistributionResult{Success: false, Reason: "distribution window closed"}, nil
	}
	if v.DistributionRewardClaimed {
		return DistributionResult{Success: false, Reason: "already claimed"}, internalerrors.New(internalerrors.KindAlreadyClaimed, "distribution reward already claimed", nil).WithHash(address)
	}

	amount := consensusconstants.EarlyValidatorReward
	if v.IsFirstValidator {
		amount = consensusconstants.DeveloperReward
	}
	v.DistributionRewardClaimed = true

	if v.IsFirstValidator {
		r.publish(events.RewardDeveloper, v)
	} else {
		r.publish(events.RewardEarlyValidator, v)
	}
	return DistributionResult{Success: true, Amount: amount}, nil
}

// All returns a snapshot slice of every registered validator, sorted by
// address for deterministic iteration.
func (r *Registry) All() []*Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Validator, 0, len(r.validators))
	for _, v := range r.validators {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (r *Registry) publish(t events.Type, v *Validator) {
	if r.bus == nil {
		return
	}
	cp := *v
	r.bus.Publish(events.Event{Type: t, Payload: &cp})
}
