package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bt2c/bt2c-core/internal/consensusconstants"
	"github.com/bt2c/bt2c-core/internal/core"
	"github.com/bt2c/bt2c-core/internal/crypto"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
	"github.com/bt2c/bt2c-core/internal/events"
	"github.com/bt2c/bt2c-core/internal/validator"
)

// Account is one address's balance, nonce and stake. Accounts are created
// on first reference and never destroyed; a zero balance is a valid,
// persistent state.
type Account struct {
	Address   string
	Balance   uint64
	Nonce     uint64
	Stake     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// accountSnapshot is the per-key journal entry recorded before an account
// is first touched during a block application, so a rejection anywhere in
// the block can restore every touched account verbatim.
type accountSnapshot struct {
	existed bool
	value   Account
}

// Manager is the single writer to chain state. Reads proceed under a
// shared lock; ApplyBlock holds the exclusive lock for the duration of
// one block, including its journal-and-rollback path.
type Manager struct {
	mu sync.RWMutex

	accounts      map[string]*Account
	validators    *validator.Registry
	currentHeight uint64
	lastBlock     *core.Block
	totalSupply   uint64

	genesisTime time.Time
	log         *zap.SugaredLogger
	bus         *events.Bus
}

// NewManager creates an empty state at genesis, with no accounts and
// current height 0 awaiting the genesis block.
func NewManager(validators *validator.Registry, genesisTime time.Time, bus *events.Bus, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		accounts:    make(map[string]*Account),
		validators:  validators,
		genesisTime: genesisTime,
		log:         log.Named("state"),
		bus:         bus,
	}
}

// Balance implements core.BalanceReader.
func (m *Manager) Balance(address string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(address)
}

func (m *Manager) balanceLocked(address string) uint64 {
	if a, ok := m.accounts[address]; ok {
		return a.Balance
	}
	return 0
}

// Nonce implements core.BalanceReader.
func (m *Manager) Nonce(address string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nonceLocked(address)
}

func (m *Manager) nonceLocked(address string) uint64 {
	if a, ok := m.accounts[address]; ok {
		return a.Nonce
	}
	return 0
}

// Stake returns address's current stake.
func (m *Manager) Stake(address string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.accounts[address]; ok {
		return a.Stake
	}
	return 0
}

// Account returns a copy of address's account record.
func (m *Manager) Account(address string) Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.accounts[address]; ok {
		return *a
	}
	return Account{Address: address}
}

// CurrentHeight returns the height of the last applied block.
func (m *Manager) CurrentHeight() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentHeight
}

// LastBlockHash returns the hash of the last applied block, or the zero
// hash before genesis.
func (m *Manager) LastBlockHash() crypto.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastBlock == nil {
		return crypto.Hash{}
	}
	return m.lastBlock.Hash
}

// HasGenesis reports whether a genesis block has been applied yet.
// CurrentHeight alone cannot distinguish "no block applied" from "height
// 0 applied", since both read as zero.
func (m *Manager) HasGenesis() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastBlock != nil
}

// TotalSupply returns the total amount of BT2C minted so far.
func (m *Manager) TotalSupply() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalSupply
}

// CalculateBlockReward returns the coinbase reward due at height. Height 0
// is the one-time developer/early-validator distribution mint; every other
// height halves InitialReward every HalvingInterval blocks down to
// MinReward, clamped so it never pushes total supply past MaxSupply. The
// halving is computed by integer right shift rather than floating-point
// exponentiation, keeping the schedule exactly reproducible across nodes.
func (m *Manager) CalculateBlockReward(height uint64) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calculateBlockRewardLocked(height)
}

// calculateBlockRewardLocked is CalculateBlockReward's body, callable by
// methods that already hold m.mu.
func (m *Manager) calculateBlockRewardLocked(height uint64) uint64 {
	supply := m.totalSupply

	// Height 0's coinbase is the one-time developer/early-validator
	// distribution mint, not a halving-schedule block reward.
	if height == 0 {
		reward := consensusconstants.DeveloperReward + consensusconstants.EarlyValidatorReward
		if supply+reward > consensusconstants.MaxSupply {
			if supply >= consensusconstants.MaxSupply {
				return 0
			}
			reward = consensusconstants.MaxSupply - supply
		}
		return reward
	}

	halvings := height / consensusconstants.HalvingInterval
	var reward uint64
	if halvings < 64 {
		reward = consensusconstants.InitialReward >> halvings
	}
	if reward < consensusconstants.MinReward {
		reward = consensusconstants.MinReward
	}
	if supply+reward > consensusconstants.MaxSupply {
		if supply >= consensusconstants.MaxSupply {
			return 0
		}
		reward = consensusconstants.MaxSupply - supply
	}
	return reward
}

func (m *Manager) touch(journal map[string]*accountSnapshot, address string) *Account {
	if _, recorded := journal[address]; !recorded {
		if existing, ok := m.accounts[address]; ok {
			journal[address] = &accountSnapshot{existed: true, value: *existing}
		} else {
			journal[address] = &accountSnapshot{existed: false}
		}
	}
	if a, ok := m.accounts[address]; ok {
		return a
	}
	a := &Account{Address: address}
	m.accounts[address] = a
	return a
}

func (m *Manager) rollback(journal map[string]*accountSnapshot) {
	for address, snap := range journal {
		if snap.existed {
			v := snap.value
			m.accounts[address] = &v
		} else {
			delete(m.accounts, address)
		}
	}
}

// ApplyBlock validates block against the current chain tip and, if valid,
// applies every transaction atomically: balances, nonces and the reward
// mint all commit together or not at all. now is the wall-clock time used
// for the timestamp-drift check.
func (m *Manager) ApplyBlock(block *core.Block, proposerPubKey *crypto.PublicKey, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := block.IsValidAgainst(m.lastBlock, proposerPubKey, now); err != nil {
		return err
	}

	expectedReward := m.calculateBlockRewardLocked(block.Height)
	if block.Reward != expectedReward {
		return internalerrors.New(internalerrors.KindInvalidReward,
			fmt.Sprintf("block declares reward %d, expected %d", block.Reward, expectedReward), nil).WithHash(block.Hash.String())
	}

	// Pass 1: simulate every non-coinbase transaction against a working
	// copy of the touched accounts' balance/nonce, without mutating real
	// state. Any failure here leaves m.accounts completely untouched.
	working := make(map[string]*Account)
	get := func(address string) *Account {
		if a, ok := working[address]; ok {
			return a
		}
		if a, ok := m.accounts[address]; ok {
			cp := *a
			working[address] = &cp
			return &cp
		}
		a := &Account{Address: address}
		working[address] = a
		return a
	}

	for i, tx := range block.Transactions {
		if i == 0 {
			continue // coinbase, validated structurally by block.IsValidAgainst
		}
		reader := workingReader{accounts: working, fallback: m}
		if err := tx.IsValidAgainst(reader); err != nil {
			return err
		}
		sender := get(tx.Sender)
		sender.Balance -= tx.Amount + tx.Fee
		sender.Nonce = tx.Nonce
		recipient := get(tx.Recipient)
		recipient.Balance += tx.Amount
	}

	// Pass 2: commit. The block has already been fully validated, so this
	// pass cannot fail on business logic; the journal exists purely so an
	// unexpected condition can still restore exact prior state.
	journal := make(map[string]*accountSnapshot)
	priorSupply := m.totalSupply

	coinbase := block.Transactions[0]
	proposer := m.touch(journal, coinbase.Recipient)
	proposer.Balance += coinbase.Amount
	proposer.UpdatedAt = now
	if proposer.CreatedAt.IsZero() {
		proposer.CreatedAt = now
	}
	m.totalSupply += block.Reward

	for _, tx := range block.Transactions[1:] {
		sender := m.touch(journal, tx.Sender)
		if sender.Balance < tx.Amount+tx.Fee {
			m.rollback(journal)
			m.totalSupply = priorSupply
			return internalerrors.New(internalerrors.KindInsufficientFunds, "balance changed during commit pass", nil).WithHash(tx.Hash.String())
		}
		sender.Balance -= tx.Amount + tx.Fee
		sender.Nonce = tx.Nonce
		sender.UpdatedAt = now

		recipient := m.touch(journal, tx.Recipient)
		recipient.Balance += tx.Amount
		recipient.UpdatedAt = now
		if recipient.CreatedAt.IsZero() {
			recipient.CreatedAt = now
		}

		if tx.Fee > 0 {
			proposer.Balance += tx.Fee
		}

		m.publish(events.TransactionApplied, &tx)
	}

	m.currentHeight = block.Height
	m.lastBlock = block

	m.publish(events.BlockApplied, block)
	m.publish(events.RewardBlock, rewardEvent{Address: coinbase.Recipient, Amount: block.Reward, Height: block.Height})
	return nil
}

type workingReader struct {
	accounts map[string]*Account
	fallback *Manager
}

// Balance and Nonce assume the caller already holds fallback.mu, as
// ApplyBlock does for the duration of block application.
func (w workingReader) Balance(address string) uint64 {
	if a, ok := w.accounts[address]; ok {
		return a.Balance
	}
	return w.fallback.balanceLocked(address)
}

func (w workingReader) Nonce(address string) uint64 {
	if a, ok := w.accounts[address]; ok {
		return a.Nonce
	}
	return w.fallback.nonceLocked(address)
}

type rewardEvent struct {
	Address string
	Amount  uint64
	Height  uint64
}

// UpdateStake moves delta (positive or negative) between an address's
// balance and stake, flipping the associated validator between Active and
// Inactive as it crosses MinStake.
func (m *Manager) UpdateStake(address string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[address]
	if !ok {
		return internalerrors.New(internalerrors.KindNotFound, "account not found", nil).WithHash(address)
	}

	if delta > 0 {
		amount := uint64(delta)
		if a.Balance < amount {
			return internalerrors.New(internalerrors.KindInsufficientFunds, "balance below requested stake increase", nil).WithHash(address)
		}
		a.Balance -= amount
		a.Stake += amount
	} else if delta < 0 {
		amount := uint64(-delta)
		if a.Stake < amount {
			return internalerrors.New(internalerrors.KindInsufficientFunds, "stake below requested decrease", nil).WithHash(address)
		}
		a.Stake -= amount
		a.Balance += amount
	}
	a.UpdatedAt = time.Now()

	if m.validators != nil {
		_ = m.validators.UpdateStake(address, a.Stake)
	}
	return nil
}

// RegistrationPayload is the canonical signable record a prospective
// validator submits to prove ownership of its public key before joining
// the registry.
type RegistrationPayload struct {
	Address   string `json:"address"`
	PublicKey []byte `json:"publicKey"`
	Stake     uint64 `json:"stake"`
	Moniker   string `json:"moniker"`
	Signature []byte `json:"signature,omitempty"`
}

// SignableBytes returns the canonical encoding of the payload minus its
// signature.
func (p *RegistrationPayload) SignableBytes() []byte {
	clone := struct {
		Address   string `json:"address"`
		PublicKey []byte `json:"publicKey"`
		Stake     uint64 `json:"stake"`
		Moniker   string `json:"moniker"`
	}{p.Address, p.PublicKey, p.Stake, p.Moniker}
	data, err := json.Marshal(clone)
	if err != nil {
		panic(fmt.Sprintf("state: registration payload marshal: %v", err))
	}
	return data
}

// RegisterValidator verifies payload's self-signature, delegates
// registration to the validator registry, debits the account's balance by
// the staked amount, and — if within the post-genesis distribution
// window — immediately awards the developer or early-validator reward.
func (m *Manager) RegisterValidator(payload RegistrationPayload, now time.Time) (*validator.Validator, error) {
	pub, err := crypto.ParsePublicKey(payload.PublicKey)
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindCrypto, "parse registration public key", err)
	}
	if !crypto.Verify(payload.SignableBytes(), payload.Signature, pub) {
		return nil, internalerrors.New(internalerrors.KindInvalidSignature, "registration signature does not verify", nil)
	}

	m.mu.Lock()
	account := m.touchLocked(payload.Address)
	if account.Balance < payload.Stake {
		m.mu.Unlock()
		return nil, internalerrors.New(internalerrors.KindInsufficientFunds, "balance below requested stake", nil).WithHash(payload.Address)
	}
	account.Balance -= payload.Stake
	account.Stake += payload.Stake
	account.UpdatedAt = now
	m.mu.Unlock()

	v, err := m.validators.Register(payload.Address, pub, payload.Stake, payload.Moniker, now)
	if err != nil {
		return nil, err
	}

	if result, rewardErr := m.validators.ProcessDistributionReward(payload.Address, now); rewardErr == nil && result.Success {
		m.mu.Lock()
		acc := m.touchLocked(payload.Address)
		acc.Balance += result.Amount
		acc.UpdatedAt = now
		m.totalSupply += result.Amount
		m.mu.Unlock()
	}

	return v, nil
}

// RegisterGenesisValidator seeds address as a validator at chain bootstrap,
// before any block (and therefore the height-0 coinbase) has been applied.
// Unlike RegisterValidator, the stake is newly issued rather than debited
// from a pre-funded balance, so it is minted straight into the account's
// Stake and counted into totalSupply to preserve the supply invariant.
//
// The first validator registered (the developer node) is paid its
// distribution reward by the height-0 coinbase instead of here, so that
// reward is never double-minted; every other genesis validator seed still
// claims its one-time EarlyValidatorReward through the normal distribution
// path.
func (m *Manager) RegisterGenesisValidator(address string, pub *crypto.PublicKey, stake uint64, moniker string, now time.Time) (*validator.Validator, error) {
	m.mu.Lock()
	account := m.touchLocked(address)
	account.Stake += stake
	account.UpdatedAt = now
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	m.totalSupply += stake
	m.mu.Unlock()

	v, err := m.validators.Register(address, pub, stake, moniker, now)
	if err != nil {
		return nil, err
	}

	if v.IsFirstValidator {
		return v, nil
	}

	if result, rewardErr := m.validators.ProcessDistributionReward(address, now); rewardErr == nil && result.Success {
		m.mu.Lock()
		acc := m.touchLocked(address)
		acc.Balance += result.Amount
		acc.UpdatedAt = now
		m.totalSupply += result.Amount
		m.mu.Unlock()
	}

	return v, nil
}

func (m *Manager) touchLocked(address string) *Account {
	if a, ok := m.accounts[address]; ok {
		return a
	}
	a := &Account{Address: address}
	m.accounts[address] = a
	return a
}

// Credit directly credits address's balance outside block application,
// e.g. to fund accounts before the first block is applied.
func (m *Manager) Credit(address string, amount uint64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.touchLocked(address)
	a.Balance += amount
	a.UpdatedAt = now
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
}

func (m *Manager) publish(t events.Type, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Type: t, Payload: payload})
}
