// Package mempool holds transactions waiting for inclusion in a block:
// fee/timestamp/nonce-ordered, capacity- and expiry-bounded, optionally
// mirrored to a durable key-value store so a restart does not lose
// pending transactions.
package mempool

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bt2c/bt2c-core/internal/consensusconstants"
	"github.com/bt2c/bt2c-core/internal/core"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
	"github.com/bt2c/bt2c-core/internal/events"
)

// Outcome is the result of Add.
type Outcome struct {
	Accepted bool
	Reason   string
}

type entry struct {
	tx         core.Transaction
	receivedAt time.Time
	size       int
}

// Mirror is the durable backing store a Mempool may optionally persist
// to. BoltMirror implements it over bbolt; tests may use
// an in-memory fake.
type Mirror interface {
	SaveAll(txs []core.Transaction) error
	LoadAll() ([]core.Transaction, error)
}

// Config bounds a Mempool's capacity and lifetime policy.
type Config struct {
	MaxCount         int
	MaxBytes         int
	Expiration       time.Duration
	PersistInterval  time.Duration
}

// DefaultConfig returns the protocol's default mempool bounds.
func DefaultConfig() Config {
	return Config{
		MaxCount:        consensusconstants.DefaultMempoolMaxCount,
		MaxBytes:        consensusconstants.DefaultMempoolMaxBytes,
		Expiration:      consensusconstants.DefaultMempoolExpiration,
		PersistInterval: consensusconstants.DefaultMempoolPersistInterval,
	}
}

// Mempool is the node's pending-transaction pool.
type Mempool struct {
	mu sync.RWMutex

	cfg Config

	byHash    map[string]*entry
	byAddress map[string]map[uint64]string // address -> nonce -> hash
	totalSize int

	mirror Mirror
	bus    *events.Bus
	log    *zap.SugaredLogger

	stopSweep chan struct{}
	stopWG    sync.WaitGroup
}

// New creates a Mempool with cfg's bounds and an optional mirror. New
// does not read the mirror: LoadFromMirror replays its contents, and
// StartSweeping persists the pool to it every cfg.PersistInterval.
func New(cfg Config, mirror Mirror, bus *events.Bus, log *zap.SugaredLogger) *Mempool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Mempool{
		cfg:       cfg,
		byHash:    make(map[string]*entry),
		byAddress: make(map[string]map[uint64]string),
		mirror:    mirror,
		bus:       bus,
		log:       log.Named("mempool"),
	}
}

// LoadFromMirror replays the durable mirror's contents at startup,
// re-validating each transaction's signature and structure (but not
// chain-state-dependent nonce/balance, since that is state's job on
// every Add) before admitting it.
func (m *Mempool) LoadFromMirror() error {
	if m.mirror == nil {
		return nil
	}
	txs, err := m.mirror.LoadAll()
	if err != nil {
		return internalerrors.New(internalerrors.KindStoreIO, "load mempool mirror", err)
	}
	for _, tx := range txs {
		if !tx.VerifySignature() {
			m.log.Warnw("dropping mirrored transaction with invalid signature", "hash", tx.Hash.String())
			continue
		}
		if tx.Amount == 0 {
			m.log.Warnw("dropping mirrored transaction with zero amount", "hash", tx.Hash.String())
			continue
		}
		m.insertLocked(tx, time.UnixMilli(int64(tx.Timestamp)))
	}
	return nil
}

// Add validates tx's signature and structure immediately, and its
// nonce/balance against state using a light, best-known-state policy
// (reject if nonce is not ahead of state's current nonce, or balance is
// insufficient). Duplicates are rejected idempotently, never silently.
func (m *Mempool) Add(tx core.Transaction, state core.BalanceReader) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := tx.Hash.String()
	if _, exists := m.byHash[hash]; exists {
		return Outcome{Accepted: false, Reason: "duplicate transaction"}
	}
	if !tx.VerifySignature() {
		return Outcome{Accepted: false, Reason: "invalid signature"}
	}
	if tx.Amount == 0 {
		return Outcome{Accepted: false, Reason: "amount must be positive"}
	}
	if tx.Nonce <= state.Nonce(tx.Sender) {
		return Outcome{Accepted: false, Reason: "nonce not ahead of current state"}
	}
	if state.Balance(tx.Sender) < tx.Amount+tx.Fee {
		return Outcome{Accepted: false, Reason: "insufficient balance"}
	}

	size := len(tx.SignableBytes()) + len(tx.Signature) + len(tx.SenderPublicKey)
	if len(m.byHash) >= m.cfg.MaxCount || m.totalSize+size > m.cfg.MaxBytes {
		if !m.evictOneLocked() {
			return Outcome{Accepted: false, Reason: "mempool full"}
		}
	}

	m.insertLocked(tx, time.Now())
	m.publish(events.TransactionApplied, &tx)
	return Outcome{Accepted: true}
}

func (m *Mempool) insertLocked(tx core.Transaction, receivedAt time.Time) {
	size := len(tx.SignableBytes()) + len(tx.Signature) + len(tx.SenderPublicKey)
	hash := tx.Hash.String()
	m.byHash[hash] = &entry{tx: tx, receivedAt: receivedAt, size: size}
	m.totalSize += size
	if m.byAddress[tx.Sender] == nil {
		m.byAddress[tx.Sender] = make(map[uint64]string)
	}
	m.byAddress[tx.Sender][tx.Nonce] = hash
}

// evictOneLocked removes the single lowest-priority entry (lowest fee,
// breaking ties by the latest transaction timestamp) to make room for an
// incoming transaction. Returns false if the pool is empty.
func (m *Mempool) evictOneLocked() bool {
	if len(m.byHash) == 0 {
		return false
	}
	var worstHash string
	var worst *entry
	for hash, e := range m.byHash {
		if worst == nil ||
			e.tx.Fee < worst.tx.Fee ||
			(e.tx.Fee == worst.tx.Fee && e.tx.Timestamp > worst.tx.Timestamp) {
			worst = e
			worstHash = hash
		}
	}
	m.removeLocked(worstHash)
	return true
}

func (m *Mempool) removeLocked(hash string) {
	e, ok := m.byHash[hash]
	if !ok {
		return
	}
	delete(m.byHash, hash)
	m.totalSize -= e.size
	if byNonce, ok := m.byAddress[e.tx.Sender]; ok {
		delete(byNonce, e.tx.Nonce)
		if len(byNonce) == 0 {
			delete(m.byAddress, e.tx.Sender)
		}
	}
}

// Remove drops a transaction by hash, typically after block inclusion.
func (m *Mempool) Remove(hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(hash)
}

// RemoveIncluded drops every transaction in txs, by hash.
func (m *Mempool) RemoveIncluded(txs []core.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		m.removeLocked(tx.Hash.String())
	}
}

// Take returns up to maxCount transactions, bounded additionally by
// maxBytes total size, ordered by fee descending, then timestamp
// ascending, with each sender's own transactions kept in strictly
// ascending nonce order.
func (m *Mempool) Take(maxCount, maxBytes int) []core.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*entry, 0, len(m.byHash))
	for _, e := range m.byHash {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].tx.Fee != all[j].tx.Fee {
			return all[i].tx.Fee > all[j].tx.Fee
		}
		if all[i].tx.Timestamp != all[j].tx.Timestamp {
			return all[i].tx.Timestamp < all[j].tx.Timestamp
		}
		return all[i].tx.Hash.String() < all[j].tx.Hash.String()
	})

	// Re-sequence each sender's transactions into strictly ascending
	// nonce order while otherwise preserving the fee/timestamp ranking of
	// each sender's first-eligible transaction.
	nextNonceOffset := make(map[string][]*entry)
	order := make([]*entry, 0, len(all))
	for _, e := range all {
		nextNonceOffset[e.tx.Sender] = append(nextNonceOffset[e.tx.Sender], e)
	}
	seen := make(map[string]bool)
	for _, e := range all {
		if seen[e.tx.Sender] {
			continue
		}
		seen[e.tx.Sender] = true
		bucket := nextNonceOffset[e.tx.Sender]
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].tx.Nonce < bucket[j].tx.Nonce })
		order = append(order, bucket...)
	}

	out := make([]core.Transaction, 0, maxCount)
	size := 0
	for _, e := range order {
		if len(out) >= maxCount {
			break
		}
		if size+e.size > maxBytes {
			continue
		}
		out = append(out, e.tx)
		size += e.size
	}
	return out
}

// Pending returns the sender's currently pending transactions, in
// ascending nonce order.
func (m *Mempool) Pending(address string) []core.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byNonce, ok := m.byAddress[address]
	if !ok {
		return nil
	}
	nonces := make([]uint64, 0, len(byNonce))
	for n := range byNonce {
		nonces = append(nonces, n)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	out := make([]core.Transaction, 0, len(nonces))
	for _, n := range nonces {
		out = append(out, m.byHash[byNonce[n]].tx)
	}
	return out
}

// Count returns the number of pending transactions.
func (m *Mempool) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byHash)
}

// SweepExpired prunes every entry older than cfg.Expiration relative to
// now. Called periodically by StartSweeping, and callable directly from
// tests.
func (m *Mempool) SweepExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []string
	for hash, e := range m.byHash {
		if now.Sub(e.receivedAt) > m.cfg.Expiration {
			expired = append(expired, hash)
		}
	}
	for _, hash := range expired {
		m.removeLocked(hash)
	}
	return len(expired)
}

// StartSweeping launches the periodic expiry sweeper and, if a mirror is
// configured, the periodic persistence loop. Stop must be called to halt
// both.
func (m *Mempool) StartSweeping() {
	m.stopSweep = make(chan struct{})
	m.stopWG.Add(1)
	go func() {
		defer m.stopWG.Done()
		ticker := time.NewTicker(m.cfg.Expiration / 24)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.SweepExpired(time.Now()); n > 0 {
					m.log.Infow("swept expired transactions", "count", n)
				}
			case <-m.stopSweep:
				return
			}
		}
	}()

	if m.mirror != nil && m.cfg.PersistInterval > 0 {
		m.stopWG.Add(1)
		go func() {
			defer m.stopWG.Done()
			ticker := time.NewTicker(m.cfg.PersistInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := m.persist(); err != nil {
						m.log.Warnw("mempool persist failed", "error", err)
					}
				case <-m.stopSweep:
					return
				}
			}
		}()
	}
}

// Stop halts the sweeper and persistence loops started by StartSweeping.
func (m *Mempool) Stop() {
	if m.stopSweep == nil {
		return
	}
	close(m.stopSweep)
	m.stopWG.Wait()
}

func (m *Mempool) persist() error {
	m.mu.RLock()
	txs := make([]core.Transaction, 0, len(m.byHash))
	for _, e := range m.byHash {
		txs = append(txs, e.tx)
	}
	m.mu.RUnlock()
	return m.mirror.SaveAll(txs)
}

func (m *Mempool) publish(t events.Type, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Type: t, Payload: payload})
}
