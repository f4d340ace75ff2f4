package blockstore_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bt2c/bt2c-core/internal/blockstore"
	"github.com/bt2c/bt2c-core/internal/core"
	"github.com/bt2c/bt2c-core/internal/crypto"
)

func buildChain(t *testing.T, n int) ([]*core.Block, *crypto.PrivateKey, *crypto.PublicKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)

	var blocks []*core.Block
	var previousHash crypto.Hash
	ts := uint64(time.Now().UnixMilli())
	for i := 0; i < n; i++ {
		ts += 1000
		coinbase := core.NewCoinbaseTransaction(addr, 21, ts)
		block := core.NewBlock(uint64(i), previousHash, []core.Transaction{coinbase}, addr, 21, ts)
		require.NoError(t, block.Finalize(priv))
		blocks = append(blocks, block)
		previousHash = block.Hash
	}
	return blocks, priv, pub
}

func TestAddAndGetByHeightAndHash(t *testing.T) {
	dir := t.TempDir()
	store, err := blockstore.Open(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	blocks, _, _ := buildChain(t, 3)
	for _, b := range blocks {
		require.NoError(t, store.AddBlock(b))
	}

	got, err := store.GetByHeight(1)
	require.NoError(t, err)
	require.Equal(t, blocks[1].Hash, got.Hash)

	got, err = store.GetByHash(blocks[2].Hash.String())
	require.NoError(t, err)
	require.Equal(t, uint64(2), got.Height)

	height, ok := store.Height()
	require.True(t, ok)
	require.Equal(t, uint64(2), height)
}

func TestGetRange_BoundedToMax(t *testing.T) {
	dir := t.TempDir()
	store, err := blockstore.Open(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	blocks, _, _ := buildChain(t, 5)
	for _, b := range blocks {
		require.NoError(t, store.AddBlock(b))
	}

	got, err := store.GetRange(0, 2)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, uint64(0), got[0].Height)
	require.Equal(t, uint64(2), got[2].Height)
}

func TestAddBlock_RejectsDuplicateHeight(t *testing.T) {
	dir := t.TempDir()
	store, err := blockstore.Open(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	blocks, _, _ := buildChain(t, 1)
	require.NoError(t, store.AddBlock(blocks[0]))
	require.Error(t, store.AddBlock(blocks[0]))
}

func TestValidateChain_DetectsTampering(t *testing.T) {
	dir := t.TempDir()
	store, err := blockstore.Open(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	blocks, _, pub := buildChain(t, 3)
	for _, b := range blocks {
		require.NoError(t, store.AddBlock(b))
	}

	lookup := func(address string) (*crypto.PublicKey, error) { return pub, nil }
	require.NoError(t, store.ValidateChain(lookup, time.Now().Add(time.Hour)))

	tamperedStore, err := blockstore.Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer tamperedStore.Close()

	forged, _, _ := buildChain(t, 3)
	require.NoError(t, tamperedStore.AddBlock(blocks[0]))
	require.NoError(t, tamperedStore.AddBlock(blocks[1]))
	require.NoError(t, tamperedStore.AddBlock(forged[2]))
	require.Error(t, tamperedStore.ValidateChain(lookup, time.Now().Add(time.Hour)))
}

func TestOpen_RebuildsIndexFromLogWhenIndexMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := blockstore.Open(dir, nil)
	require.NoError(t, err)

	blocks, _, _ := buildChain(t, 4)
	for _, b := range blocks {
		require.NoError(t, store.AddBlock(b))
	}
	require.NoError(t, store.Close())

	require.NoError(t, os.Remove(filepath.Join(dir, "blocks.idx")))

	reopened, err := blockstore.Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	height, ok := reopened.Height()
	require.True(t, ok)
	require.Equal(t, uint64(3), height)

	got, err := reopened.GetByHeight(2)
	require.NoError(t, err)
	require.Equal(t, blocks[2].Hash, got.Hash)
}
