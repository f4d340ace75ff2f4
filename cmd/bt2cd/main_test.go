package main

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bt2c/bt2c-core/internal/crypto"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
)

// TestBuildNode_InitializesAndStopsCleanly mirrors the teacher's node
// smoke test: build every component, let the engine run briefly, then
// stop it and confirm nothing panics along the way.
func TestBuildNode_InitializesAndStopsCleanly(t *testing.T) {
	dir := t.TempDir()
	genesisPath := writeTestGenesis(t, dir)

	n, err := buildNode("", genesisPath, "", "")
	require.NoError(t, err)
	require.NotNil(t, n.engine)
	require.NotNil(t, n.api)

	n.engine.Run()
	time.Sleep(20 * time.Millisecond)
	n.shutdown()
}

func TestExitCodeFor_UnknownErrorIsFatal(t *testing.T) {
	require.Equal(t, exitFatal, exitCodeFor(errors.New("boom")))
}

func TestExitCodeFor_ConfigErrorIsUserError(t *testing.T) {
	err := internalerrors.New(internalerrors.KindConfig, "bad config", nil)
	require.Equal(t, exitUser, exitCodeFor(err))
}

func TestExitCodeFor_StoreIOErrorIsTransient(t *testing.T) {
	err := internalerrors.New(internalerrors.KindStoreIO, "disk full", nil)
	require.Equal(t, exitTransient, exitCodeFor(err))
}

func writeTestGenesis(t *testing.T, dir string) string {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_ = priv
	address := crypto.DeriveAddress(pub)
	pubHex := hex.EncodeToString(crypto.SerializePublicKey(pub))

	path := filepath.Join(dir, "genesis.json")
	contents := `{
		"chain_id": "bt2c-test-1",
		"initial_reward": 2100000000,
		"halving_interval": 210000,
		"max_supply": 2100000000000000,
		"min_stake": 100000000000,
		"developer_node_address": "` + address + `",
		"validators": [{"address":"` + address + `","public_key":"` + pubHex + `","stake":100000000000,"moniker":"dev"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}
