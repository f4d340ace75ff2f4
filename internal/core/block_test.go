package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bt2c/bt2c-core/internal/core"
	"github.com/bt2c/bt2c-core/internal/crypto"
)

func buildBlock(t *testing.T, proposerPriv *crypto.PrivateKey, validatorAddr string, height uint64, prevHash crypto.Hash, transfers ...core.Transaction) *core.Block {
	t.Helper()
	coinbase := core.NewCoinbaseTransaction(validatorAddr, 21, 1700000000000)
	txs := append([]core.Transaction{coinbase}, transfers...)
	b := core.NewBlock(height, prevHash, txs, validatorAddr, 21, 1700000000000)
	require.NoError(t, b.Finalize(proposerPriv))
	return b
}

func TestBlock_FinalizeAndVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)

	b := buildBlock(t, priv, addr, 1, crypto.Hash{})
	require.True(t, b.VerifySignature(pub))
	require.Equal(t, b.ComputeHash(), b.Hash)
}

func TestBlock_MerkleRoot_OddTransactionCount(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)

	tx1, _ := newSignedTransfer(t, "bt2c_a", 1, 0, 1)
	tx2, _ := newSignedTransfer(t, "bt2c_b", 1, 0, 1)
	b := buildBlock(t, priv, addr, 1, crypto.Hash{}, *tx1, *tx2)

	require.Equal(t, b.ComputeMerkleRoot(), b.MerkleRoot)
	require.NotEqual(t, crypto.Hash{}, b.MerkleRoot)
}

func TestBlock_MerkleRoot_EmptyIsHashOfEmpty(t *testing.T) {
	b := &core.Block{}
	require.Equal(t, crypto.SumHash(nil), b.ComputeMerkleRoot())
	require.NotEqual(t, crypto.Hash{}, b.ComputeMerkleRoot())
}

func TestBlock_IsValidAgainst_Genesis(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)

	b := buildBlock(t, priv, addr, 0, crypto.Hash{})
	require.NoError(t, b.IsValidAgainst(nil, pub, time.UnixMilli(1700000001000)))
}

func TestBlock_IsValidAgainst_WrongHeight(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)

	genesis := buildBlock(t, priv, addr, 0, crypto.Hash{})
	next := buildBlock(t, priv, addr, 5, genesis.Hash)
	err = next.IsValidAgainst(genesis, pub, time.UnixMilli(1700000001000))
	require.Error(t, err)
}

func TestBlock_IsValidAgainst_WrongPreviousHash(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)

	genesis := buildBlock(t, priv, addr, 0, crypto.Hash{})
	next := buildBlock(t, priv, addr, 1, crypto.Hash{0xFF})
	err = next.IsValidAgainst(genesis, pub, time.UnixMilli(1700000001000))
	require.Error(t, err)
}

func TestBlock_IsValidAgainst_BadSignature(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)
	_, otherPub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	b := buildBlock(t, priv, addr, 0, crypto.Hash{})
	err = b.IsValidAgainst(nil, otherPub, time.UnixMilli(1700000001000))
	require.Error(t, err)
}

func TestBlock_IsValidAgainst_RejectsMissingCoinbase(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)
	tx, _ := newSignedTransfer(t, "bt2c_a", 1, 0, 1)

	b := core.NewBlock(0, crypto.Hash{}, []core.Transaction{*tx}, addr, 21, 1700000000000)
	require.NoError(t, b.Finalize(priv))
	err = b.IsValidAgainst(nil, pub, time.UnixMilli(1700000001000))
	require.Error(t, err)
}

func TestBlock_IsValidAgainst_RejectsFutureTimestamp(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	addr := crypto.DeriveAddress(pub)

	farFuture := uint64(time.Now().Add(48 * time.Hour).UnixMilli())
	coinbase := core.NewCoinbaseTransaction(addr, 21, farFuture)
	b := core.NewBlock(0, crypto.Hash{}, []core.Transaction{coinbase}, addr, 21, farFuture)
	require.NoError(t, b.Finalize(priv))

	err = b.IsValidAgainst(nil, pub, time.Now())
	require.Error(t, err)
}
