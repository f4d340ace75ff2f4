// Package config loads a BT2C node's two startup JSON documents: the
// runtime Config of spec.md §6 and the chain's immutable Genesis
// document. Both are flat JSON objects with documented defaults; there
// is no environment-variable layering or remote config source, so
// stdlib encoding/json is the whole of the loading mechanism.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bt2c/bt2c-core/internal/consensusconstants"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
)

// Network names which BT2C network a node participates in.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// Config is the startup option set of spec.md §6.
type Config struct {
	DataDir string `json:"data_dir"`
	APIHost string `json:"api_host"`
	APIPort int    `json:"api_port"`

	RedisURL string `json:"redis_url,omitempty"`
	PGURL    string `json:"pg_url,omitempty"`

	Network Network `json:"network"`

	BlockTimeMs       uint64 `json:"block_time_ms"`
	ProposerTimeoutMs uint64 `json:"proposer_timeout_ms"`
	MaxBlockBytes     int    `json:"max_block_bytes"`

	MempoolMaxCount      int    `json:"mempool_max_count"`
	MempoolMaxSizeBytes  int    `json:"mempool_max_size_bytes"`
	MempoolExpirationMs  uint64 `json:"mempool_expiration_ms"`
	MempoolPersistenceMs uint64 `json:"mempool_persistence_ms"`
}

// Default returns the startup options for a node started with no config
// file: timing and mempool values come from internal/consensusconstants,
// the data directory, API address and network are fixed literals.
func Default() Config {
	return Config{
		DataDir:              "./data",
		APIHost:              "127.0.0.1",
		APIPort:              8080,
		Network:              NetworkTestnet,
		BlockTimeMs:          uint64(consensusconstants.DefaultBlockTime / time.Millisecond),
		ProposerTimeoutMs:    uint64(consensusconstants.DefaultProposerTimeout / time.Millisecond),
		MaxBlockBytes:        consensusconstants.DefaultMaxBlockBytes,
		MempoolMaxCount:      consensusconstants.DefaultMempoolMaxCount,
		MempoolMaxSizeBytes:  consensusconstants.DefaultMempoolMaxBytes,
		MempoolExpirationMs:  uint64(consensusconstants.DefaultMempoolExpiration / time.Millisecond),
		MempoolPersistenceMs: uint64(consensusconstants.DefaultMempoolPersistInterval / time.Millisecond),
	}
}

// Load reads a Config from path, starting from Default and overwriting
// only the fields present in the file.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, internalerrors.New(internalerrors.KindConfig, fmt.Sprintf("read config file %s", path), err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, internalerrors.New(internalerrors.KindConfig, fmt.Sprintf("parse config file %s", path), err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports a ConfigError if cfg carries a structurally invalid
// value (a missing data directory, a non-positive port or timing value,
// or a network name outside {mainnet, testnet}).
func (c Config) Validate() error {
	if c.DataDir == "" {
		return internalerrors.New(internalerrors.KindConfig, "data_dir must not be empty", nil)
	}
	if c.Network != NetworkMainnet && c.Network != NetworkTestnet {
		return internalerrors.New(internalerrors.KindConfig, fmt.Sprintf("network must be %q or %q, got %q", NetworkMainnet, NetworkTestnet, c.Network), nil)
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return internalerrors.New(internalerrors.KindConfig, fmt.Sprintf("api_port out of range: %d", c.APIPort), nil)
	}
	if c.BlockTimeMs == 0 {
		return internalerrors.New(internalerrors.KindConfig, "block_time_ms must be positive", nil)
	}
	if c.ProposerTimeoutMs == 0 {
		return internalerrors.New(internalerrors.KindConfig, "proposer_timeout_ms must be positive", nil)
	}
	if c.MempoolMaxCount <= 0 || c.MempoolMaxSizeBytes <= 0 {
		return internalerrors.New(internalerrors.KindConfig, "mempool_max_count and mempool_max_size_bytes must be positive", nil)
	}
	return nil
}

// BlockTime and ProposerTimeout convert the config's millisecond fields
// into time.Duration, the unit every other package works in.
func (c Config) BlockTime() time.Duration       { return time.Duration(c.BlockTimeMs) * time.Millisecond }
func (c Config) ProposerTimeout() time.Duration { return time.Duration(c.ProposerTimeoutMs) * time.Millisecond }
func (c Config) MempoolExpiration() time.Duration {
	return time.Duration(c.MempoolExpirationMs) * time.Millisecond
}
func (c Config) MempoolPersistInterval() time.Duration {
	return time.Duration(c.MempoolPersistenceMs) * time.Millisecond
}

// ValidatorSeed is one entry of a Genesis document's bootstrap validator
// set: the validators a node registers into its in-memory registry on
// startup, before it has processed any block.
type ValidatorSeed struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"` // hex-encoded, compressed form
	Stake     uint64 `json:"stake"`
	Moniker   string `json:"moniker,omitempty"`
}

// Genesis is the chain's immutable launch configuration of spec.md §6.
type Genesis struct {
	ChainID              string          `json:"chain_id"`
	InitialReward        uint64          `json:"initial_reward"`
	HalvingInterval      uint64          `json:"halving_interval"`
	MaxSupply            uint64          `json:"max_supply"`
	MinStake             uint64          `json:"min_stake"`
	DistributionPeriodMs uint64          `json:"distribution_period_ms"`
	DistributionStartMs  uint64          `json:"distribution_start_ms"`
	DeveloperNodeAddress string          `json:"developer_node_address"`
	Validators           []ValidatorSeed `json:"validators,omitempty"`
	GenesisBlock         json.RawMessage `json:"genesis_block,omitempty"`
}

// LoadGenesis reads a Genesis document from path.
func LoadGenesis(path string) (Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, internalerrors.New(internalerrors.KindConfig, fmt.Sprintf("read genesis file %s", path), err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return Genesis{}, internalerrors.New(internalerrors.KindConfig, fmt.Sprintf("parse genesis file %s", path), err)
	}
	if g.ChainID == "" {
		return Genesis{}, internalerrors.New(internalerrors.KindConfig, "genesis chain_id must not be empty", nil)
	}
	if g.DeveloperNodeAddress == "" {
		return Genesis{}, internalerrors.New(internalerrors.KindConfig, "genesis developer_node_address must not be empty", nil)
	}
	return g, nil
}
