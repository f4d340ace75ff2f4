package mempool_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bt2c/bt2c-core/internal/core"
	"github.com/bt2c/bt2c-core/internal/crypto"
	"github.com/bt2c/bt2c-core/internal/mempool"
)

func TestBoltMirror_SaveAndLoadRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)

	path := filepath.Join(t.TempDir(), "mempool.db")
	mirror, err := mempool.OpenBoltMirror(path)
	require.NoError(t, err)
	defer mirror.Close()

	tx := newTx(t, priv, "bt2c_x", 10, 1, 1, 1000)
	require.NoError(t, mirror.SaveAll([]core.Transaction{tx}))

	loaded, err := mirror.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, tx.Hash, loaded[0].Hash)
	require.Equal(t, addr, loaded[0].Sender)
}

func TestMempool_LoadFromMirror(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_ = pub

	path := filepath.Join(t.TempDir(), "mempool.db")
	mirror, err := mempool.OpenBoltMirror(path)
	require.NoError(t, err)
	defer mirror.Close()

	tx := newTx(t, priv, "bt2c_x", 10, 1, 1, 1000)
	require.NoError(t, mirror.SaveAll([]core.Transaction{tx}))

	pool := mempool.New(mempool.DefaultConfig(), mirror, nil, nil)
	require.NoError(t, pool.LoadFromMirror())
	require.Equal(t, 1, pool.Count())
}
