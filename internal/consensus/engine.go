package consensus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bt2c/bt2c-core/internal/blockstore"
	"github.com/bt2c/bt2c-core/internal/consensusconstants"
	"github.com/bt2c/bt2c-core/internal/core"
	"github.com/bt2c/bt2c-core/internal/crypto"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
	"github.com/bt2c/bt2c-core/internal/events"
	"github.com/bt2c/bt2c-core/internal/mempool"
	"github.com/bt2c/bt2c-core/internal/state"
	"github.com/bt2c/bt2c-core/internal/validator"
)

// incomingBufferSize bounds how many not-yet-processed blocks Run's
// receive loop may queue before SubmitBlock starts dropping newly
// submitted blocks.
const incomingBufferSize = 8

// Config holds an Engine's scheduling parameters, the node's own
// validator identity (if any), and the block it should draw from the
// mempool.
type Config struct {
	BlockTime               time.Duration
	ProposerTimeout         time.Duration
	MaxTransactionsPerBlock int
	MaxBlockBytes           int

	// SelfAddress and SelfPrivateKey identify this node's own validator.
	// SelfPrivateKey is nil for a non-validating (follower) node: it will
	// never be picked as proposer by SelectProposer since it was never
	// registered, but if it is somehow selected, Tick treats it as not
	// self and waits like any other follower.
	SelfAddress    string
	SelfPrivateKey *crypto.PrivateKey
}

// DefaultConfig returns the protocol's default scheduling parameters for
// address with no signing key (a follower node). Callers that validate
// set SelfPrivateKey afterward.
func DefaultConfig(selfAddress string) Config {
	return Config{
		BlockTime:               consensusconstants.DefaultBlockTime,
		ProposerTimeout:         consensusconstants.DefaultProposerTimeout,
		MaxTransactionsPerBlock: consensusconstants.DefaultMaxTransactionsPerBlock,
		MaxBlockBytes:           consensusconstants.DefaultMaxBlockBytes,
		SelfAddress:             selfAddress,
	}
}

// Engine drives one BT2C node's participation in consensus: selecting the
// proposer every slot, producing and applying a block when it is this
// node's turn, or waiting for the network to deliver one otherwise.
type Engine struct {
	mu    sync.Mutex
	phase Phase

	cfg Config

	registry    *validator.Registry
	state       *state.Manager
	store       *blockstore.Store
	pool        *mempool.Mempool
	bus         *events.Bus
	broadcaster Broadcaster

	incoming chan *core.Block
	stop     chan struct{}
	wg       sync.WaitGroup

	log *zap.SugaredLogger
}

// NewEngine assembles an Engine from its collaborators. broadcaster may
// be nil, in which case NoopBroadcaster is used.
func NewEngine(cfg Config, registry *validator.Registry, stateMgr *state.Manager, store *blockstore.Store, pool *mempool.Mempool, bus *events.Bus, broadcaster Broadcaster, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &Engine{
		phase:       PhaseIdle,
		cfg:         cfg,
		registry:    registry,
		state:       stateMgr,
		store:       store,
		pool:        pool,
		bus:         bus,
		broadcaster: broadcaster,
		incoming:    make(chan *core.Block, incomingBufferSize),
		log:         log.Named("consensus"),
	}
}

// Phase returns the engine's current slot phase, for status reporting.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// SubmitBlock hands a block received from the network to the engine,
// queuing it whatever the current phase. If the buffer is full, the
// block is dropped with a warning: a block that matters will be
// retransmitted, and the engine must never block on a slow peer.
func (e *Engine) SubmitBlock(block *core.Block) {
	select {
	case e.incoming <- block:
	default:
		e.log.Warnw("dropping submitted block, incoming buffer full", "height", block.Height)
	}
}

// Run starts the engine's slot loop in a background goroutine, advancing
// one slot every cfg.BlockTime until Stop is called.
func (e *Engine) Run() {
	e.stop = make(chan struct{})
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.BlockTime)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				if err := e.runSlot(time.Now()); err != nil {
					e.log.Warnw("slot ended with error", "error", err)
				}
			}
		}
	}()
}

// Stop halts the slot loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.stop == nil {
		return
	}
	close(e.stop)
	e.wg.Wait()
}

// runSlot performs one full slot using real time: if a follower, it waits
// up to cfg.ProposerTimeout on e.incoming for the expected proposer's
// block before recording a miss.
func (e *Engine) runSlot(now time.Time) error {
	proposer, ok := e.selectProposer(now)
	if !ok {
		e.setPhase(PhaseIdle)
		return internalerrors.New(internalerrors.KindValidatorIneligible, "no eligible validator for this slot", nil)
	}

	if proposer.Address == e.cfg.SelfAddress && e.cfg.SelfPrivateKey != nil {
		return e.Tick(now, proposer, nil)
	}

	e.setPhase(PhaseWaiting)
	deadline := time.NewTimer(e.cfg.ProposerTimeout)
	defer deadline.Stop()
	select {
	case block := <-e.incoming:
		return e.Tick(now, proposer, block)
	case <-deadline.C:
		return e.Tick(now, proposer, nil)
	}
}

func (e *Engine) selectProposer(now time.Time) (*validator.Validator, bool) {
	e.setPhase(PhaseSelectingProposer)
	seed := e.state.LastBlockHash()
	return e.registry.SelectProposer(seed, now)
}

// Tick runs one slot's outcome deterministically given an already-selected
// proposer and, for a follower slot, the block received for it (nil if
// none arrived). It is the engine's single entry point exercised
// directly by tests, with Run/runSlot supplying real proposer selection
// and timeouts around it.
func (e *Engine) Tick(now time.Time, proposer *validator.Validator, received *core.Block) error {
	if proposer.Address == e.cfg.SelfAddress && e.cfg.SelfPrivateKey != nil {
		return e.produceAndApply(proposer, now)
	}
	return e.waitForBlock(proposer, received, now)
}

func (e *Engine) produceAndApply(proposer *validator.Validator, now time.Time) error {
	e.setPhase(PhaseProducing)
	block, err := e.buildBlock(now)
	if err != nil {
		e.setPhase(PhaseIdle)
		return err
	}

	e.setPhase(PhaseApplying)
	pubKey, err := proposer.PublicKeyParsed()
	if err != nil {
		e.setPhase(PhaseIdle)
		return internalerrors.New(internalerrors.KindCrypto, "parse own public key", err)
	}
	if err := e.applyAndStore(block, pubKey, now); err != nil {
		e.setPhase(PhaseIdle)
		return err
	}
	if err := e.registry.RecordProduced(proposer.Address, now); err != nil {
		e.log.Warnw("record produced failed", "error", err)
	}

	e.setPhase(PhaseBroadcasting)
	if err := e.broadcaster.BroadcastBlock(block); err != nil {
		e.log.Warnw("broadcast failed", "height", block.Height, "error", err)
	}

	e.setPhase(PhaseIdle)
	return nil
}

func (e *Engine) waitForBlock(proposer *validator.Validator, received *core.Block, now time.Time) error {
	e.setPhase(PhaseWaiting)
	if received != nil && received.ValidatorAddress == proposer.Address {
		e.setPhase(PhaseApplying)
		pubKey, err := proposer.PublicKeyParsed()
		if err != nil {
			e.setPhase(PhaseIdle)
			return internalerrors.New(internalerrors.KindCrypto, "parse proposer public key", err)
		}
		if err := e.applyAndStore(received, pubKey, now); err != nil {
			e.setPhase(PhaseIdle)
			return err
		}
		if err := e.registry.RecordProduced(proposer.Address, now); err != nil {
			e.log.Warnw("record produced failed", "error", err)
		}
		e.setPhase(PhaseIdle)
		return nil
	}

	e.setPhase(PhaseMissRecorded)
	err := e.registry.RecordMissed(proposer.Address, now)
	e.setPhase(PhaseIdle)
	if err != nil {
		return err
	}
	return internalerrors.New(internalerrors.KindValidatorIneligible,
		"proposer "+proposer.Address+" missed its slot", nil)
}

func (e *Engine) buildBlock(now time.Time) (*core.Block, error) {
	height := e.nextHeight()
	reward := e.state.CalculateBlockReward(height)
	ts := uint64(now.UnixMilli())

	coinbase := core.NewCoinbaseTransaction(e.cfg.SelfAddress, reward, ts)
	txs := e.pool.Take(e.cfg.MaxTransactionsPerBlock, e.cfg.MaxBlockBytes)
	all := make([]core.Transaction, 0, len(txs)+1)
	all = append(all, coinbase)
	all = append(all, txs...)

	block := core.NewBlock(height, e.state.LastBlockHash(), all, e.cfg.SelfAddress, reward, ts)
	if err := block.Finalize(e.cfg.SelfPrivateKey); err != nil {
		return nil, err
	}
	return block, nil
}

func (e *Engine) applyAndStore(block *core.Block, proposerPubKey *crypto.PublicKey, now time.Time) error {
	if err := e.state.ApplyBlock(block, proposerPubKey, now); err != nil {
		return err
	}
	if err := e.store.AddBlock(block); err != nil {
		return err
	}
	if len(block.Transactions) > 1 {
		e.pool.RemoveIncluded(block.Transactions[1:])
	}
	return nil
}

func (e *Engine) nextHeight() uint64 {
	if !e.state.HasGenesis() {
		return 0
	}
	return e.state.CurrentHeight() + 1
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}
