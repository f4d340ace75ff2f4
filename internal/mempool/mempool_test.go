package mempool_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bt2c/bt2c-core/internal/core"
	"github.com/bt2c/bt2c-core/internal/crypto"
	"github.com/bt2c/bt2c-core/internal/mempool"
)

type stubState struct {
	balances map[string]uint64
	nonces   map[string]uint64
}

func (s *stubState) Balance(address string) uint64 { return s.balances[address] }
func (s *stubState) Nonce(address string) uint64    { return s.nonces[address] }

func newTx(t *testing.T, priv *crypto.PrivateKey, recipient string, amount, fee, nonce, ts uint64) core.Transaction {
	t.Helper()
	tx := &core.Transaction{
		Sender:    crypto.DeriveAddress(priv.PubKey()),
		Recipient: recipient,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: ts,
	}
	require.NoError(t, tx.Sign(priv))
	return *tx
}

func richState(addr string, balance uint64) *stubState {
	return &stubState{
		balances: map[string]uint64{addr: balance},
		nonces:   map[string]uint64{},
	}
}

func TestAdd_RejectsDuplicateAndInvalidSignature(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)
	state := richState(addr, 1000)

	pool := mempool.New(mempool.DefaultConfig(), nil, nil, nil)
	tx := newTx(t, priv, "bt2c_recipient", 100, 1, 1, 1000)

	out := pool.Add(tx, state)
	require.True(t, out.Accepted)

	out = pool.Add(tx, state)
	require.False(t, out.Accepted)
	require.Equal(t, "duplicate transaction", out.Reason)

	tampered := tx
	tampered.Amount = 999
	out = pool.Add(tampered, state)
	require.False(t, out.Accepted)
}

func TestAdd_RejectsStaleNonceAndInsufficientBalance(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)
	state := richState(addr, 10)

	pool := mempool.New(mempool.DefaultConfig(), nil, nil, nil)

	state.nonces[addr] = 5
	stale := newTx(t, priv, "bt2c_recipient", 1, 0, 5, 1000)
	out := pool.Add(stale, state)
	require.False(t, out.Accepted)
	require.Equal(t, "nonce not ahead of current state", out.Reason)

	poor := newTx(t, priv, "bt2c_recipient", 100, 1, 6, 1000)
	out = pool.Add(poor, state)
	require.False(t, out.Accepted)
	require.Equal(t, "insufficient balance", out.Reason)
}

func TestTake_OrdersByFeeDescThenTimestampAsc(t *testing.T) {
	priv1, pub1, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	priv2, pub2, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	priv3, pub3, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr1 := crypto.DeriveAddress(pub1)
	addr2 := crypto.DeriveAddress(pub2)
	addr3 := crypto.DeriveAddress(pub3)

	state := &stubState{
		balances: map[string]uint64{addr1: 10000, addr2: 10000, addr3: 10000},
		nonces:   map[string]uint64{},
	}

	pool := mempool.New(mempool.DefaultConfig(), nil, nil, nil)
	low := newTx(t, priv1, "bt2c_x", 10, 1, 1, 3000)
	high := newTx(t, priv2, "bt2c_x", 10, 5, 1, 2000)
	mid := newTx(t, priv3, "bt2c_x", 10, 1, 1, 1000)
	require.True(t, pool.Add(low, state).Accepted)
	require.True(t, pool.Add(high, state).Accepted)
	require.True(t, pool.Add(mid, state).Accepted)

	ordered := pool.Take(10, 1<<20)
	require.Len(t, ordered, 3)
	require.Equal(t, high.Hash, ordered[0].Hash)
	require.Equal(t, mid.Hash, ordered[1].Hash)
	require.Equal(t, low.Hash, ordered[2].Hash)
}

func TestTake_KeepsSenderNonceOrderAscending(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)
	state := richState(addr, 100000)

	pool := mempool.New(mempool.DefaultConfig(), nil, nil, nil)
	second := newTx(t, priv, "bt2c_x", 10, 5, 2, 1000)
	first := newTx(t, priv, "bt2c_x", 10, 5, 1, 2000)
	require.True(t, pool.Add(second, state).Accepted)
	require.True(t, pool.Add(first, state).Accepted)

	ordered := pool.Take(10, 1<<20)
	require.Len(t, ordered, 2)
	require.Equal(t, uint64(1), ordered[0].Nonce)
	require.Equal(t, uint64(2), ordered[1].Nonce)
}

func TestAdd_EvictsLowestFeeWhenFull(t *testing.T) {
	priv1, pub1, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	priv2, pub2, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr1 := crypto.DeriveAddress(pub1)
	addr2 := crypto.DeriveAddress(pub2)

	state := &stubState{
		balances: map[string]uint64{addr1: 10000, addr2: 10000},
		nonces:   map[string]uint64{},
	}

	cfg := mempool.DefaultConfig()
	cfg.MaxCount = 1
	pool := mempool.New(cfg, nil, nil, nil)

	cheap := newTx(t, priv1, "bt2c_x", 10, 1, 1, 1000)
	require.True(t, pool.Add(cheap, state).Accepted)

	pricey := newTx(t, priv2, "bt2c_x", 10, 50, 1, 1000)
	out := pool.Add(pricey, state)
	require.True(t, out.Accepted)
	require.Equal(t, 1, pool.Count())

	remaining := pool.Take(10, 1<<20)
	require.Len(t, remaining, 1)
	require.Equal(t, pricey.Hash, remaining[0].Hash)
}

func TestRemoveIncluded(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)
	state := richState(addr, 1000)

	pool := mempool.New(mempool.DefaultConfig(), nil, nil, nil)
	tx := newTx(t, priv, "bt2c_x", 10, 1, 1, 1000)
	require.True(t, pool.Add(tx, state).Accepted)
	require.Equal(t, 1, pool.Count())

	pool.RemoveIncluded([]core.Transaction{tx})
	require.Equal(t, 0, pool.Count())
}

func TestSweepExpired(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)
	state := richState(addr, 1000)

	cfg := mempool.DefaultConfig()
	cfg.Expiration = time.Hour
	pool := mempool.New(cfg, nil, nil, nil)
	tx := newTx(t, priv, "bt2c_x", 10, 1, 1, 1000)
	require.True(t, pool.Add(tx, state).Accepted)

	swept := pool.SweepExpired(time.Now().Add(2 * time.Hour))
	require.Equal(t, 1, swept)
	require.Equal(t, 0, pool.Count())
}

func TestPending_ReturnsAscendingNonceOrder(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)
	state := richState(addr, 100000)

	pool := mempool.New(mempool.DefaultConfig(), nil, nil, nil)
	second := newTx(t, priv, "bt2c_x", 10, 5, 2, 1000)
	first := newTx(t, priv, "bt2c_x", 10, 5, 1, 2000)
	require.True(t, pool.Add(second, state).Accepted)
	require.True(t, pool.Add(first, state).Accepted)

	pending := pool.Pending(addr)
	require.Len(t, pending, 2)
	require.Equal(t, uint64(1), pending[0].Nonce)
	require.Equal(t, uint64(2), pending[1].Nonce)
}
