// Package consensusconstants holds the protocol constants that every node
// must reproduce bit-exactly to stay in consensus with its peers.
package consensusconstants

import "time"

const (
	// UnitsPerCoin is the number of smallest BT2C units in one whole coin,
	// the fixed-point scale every Account balance, stake and reward is
	// denominated in. Integer arithmetic at this scale (in particular the
	// block-reward right-shift below) stays exact because UnitsPerCoin is a
	// power of two times a power of five.
	UnitsPerCoin uint64 = 100_000_000

	// MinStake is the minimum stake, in the smallest BT2C unit, required to
	// register or remain an Active validator.
	MinStake uint64 = 1000 * UnitsPerCoin

	// MaxMissedBlocks is the number of missed slots an Active validator may
	// accumulate before being Jailed.
	MaxMissedBlocks uint64 = 50

	// DefaultJailDuration is how long a Jailed validator must wait before it
	// becomes eligible to call TryUnjail.
	DefaultJailDuration = 24 * time.Hour

	// ReputationMin and ReputationMax bound every validator's reputation.
	ReputationMin = 0.0
	ReputationMax = 200.0

	// ReputationStart is the reputation assigned to a newly registered
	// validator.
	ReputationStart = 100.0

	// ReputationMultiplierDivisor converts a reputation score into the
	// selection-weight multiplier: 0.5 + reputation/ReputationMultiplierDivisor,
	// clamped to [ReputationMultiplierMin, ReputationMultiplierMax]. The value
	// is taken verbatim from the reference behavior; it is not a round number
	// by design and must not be "cleaned up."
	ReputationMultiplierDivisor = 133.33
	ReputationMultiplierMin     = 0.5
	ReputationMultiplierMax     = 2.0

	// ReputationAccuracyDivisor and ReputationUptimeDivisor scale the
	// accuracy and uptime terms of the reputation update formula.
	ReputationAccuracyDivisor = 5.0
	ReputationUptimeDivisor   = 5.0

	// ReputationProducedDelta and ReputationMissedDelta are the flat
	// adjustments applied on a produced or missed slot, before the
	// accuracy/uptime terms.
	ReputationProducedDelta = 1.0
	ReputationMissedDelta   = -5.0

	// ReputationAccuracyBaseline and ReputationUptimeBaseline are the
	// baselines the accuracy and uptime terms are measured against.
	ReputationAccuracyBaseline = 95.0
	ReputationUptimeBaseline   = 95.0

	// DistributionPeriod is the length of the post-genesis window during
	// which developer/early-validator rewards may be claimed.
	DistributionPeriod = 14 * 24 * time.Hour

	// DeveloperReward and EarlyValidatorReward are the one-time distribution
	// rewards, in units.
	DeveloperReward      uint64 = 100 * UnitsPerCoin
	EarlyValidatorReward uint64 = 1 * UnitsPerCoin

	// InitialReward, HalvingInterval and MinReward govern block-reward
	// issuance and halving. InitialReward halves by integer right shift
	// every HalvingInterval blocks; at UnitsPerCoin's scale that shift lands
	// on an exact value (10.5, 5.25, ... BT2C) rather than truncating a
	// fraction away.
	InitialReward   uint64 = 21 * UnitsPerCoin
	HalvingInterval uint64 = 210000
	MinReward       uint64 = 0

	// MaxSupply is the hard cap on total issued supply, in units.
	MaxSupply uint64 = 21_000_000 * UnitsPerCoin

	// DefaultBlockTime, DefaultProposerTimeout, DefaultVotingTimeout and
	// FinalityDepth are the consensus driver's scheduling parameters.
	DefaultBlockTime       = 300 * time.Second
	DefaultProposerTimeout = 30 * time.Second
	DefaultVotingTimeout   = 15 * time.Second
	FinalityDepth          = 6

	// MaxFutureDrift bounds how far ahead of "now" a block or transaction
	// timestamp may be.
	MaxFutureDrift = 60 * time.Second

	// DefaultMaxBlockBytes and DefaultMaxTransactionsPerBlock bound how much
	// of the mempool a proposer may draw into a single block.
	DefaultMaxBlockBytes           = 1 * 1024 * 1024
	DefaultMaxTransactionsPerBlock = 2000

	// DefaultMempoolMaxCount, DefaultMempoolMaxBytes and
	// DefaultMempoolExpiration are the mempool's default capacity bounds.
	DefaultMempoolMaxCount   = 50000
	DefaultMempoolMaxBytes   = 64 * 1024 * 1024
	DefaultMempoolExpiration = 24 * time.Hour

	// DefaultMempoolPersistInterval is how often the mempool mirror is
	// flushed to its durable backing store.
	DefaultMempoolPersistInterval = 10 * time.Second

	// CoinbaseSender is the sentinel sender address for coinbase
	// transactions.
	CoinbaseSender = "0"

	// AddressPrefix is prepended to every derived BT2C address.
	AddressPrefix = "bt2c_"

	// HDPurpose, HDCoinType and HDAccount fix the BIP44 derivation path
	// m/44'/999'/0'/0/n used for wallet key derivation.
	HDPurpose  uint32 = 44
	HDCoinType uint32 = 999
	HDAccount  uint32 = 0
)
