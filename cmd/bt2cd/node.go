package main

import (
	"encoding/hex"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bt2c/bt2c-core/internal/config"
	"github.com/bt2c/bt2c-core/internal/consensus"
	"github.com/bt2c/bt2c-core/internal/crypto"
	"github.com/bt2c/bt2c-core/internal/events"
	"github.com/bt2c/bt2c-core/internal/mempool"
	"github.com/bt2c/bt2c-core/internal/network"
	"github.com/bt2c/bt2c-core/internal/rpc"
	"github.com/bt2c/bt2c-core/internal/state"
	"github.com/bt2c/bt2c-core/internal/validator"
	"github.com/bt2c/bt2c-core/internal/wallet"

	"github.com/bt2c/bt2c-core/internal/blockstore"
)

func newNodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run or control this node's daemon",
	}
	cmd.AddCommand(newNodeStartCommand())
	cmd.AddCommand(newNodeStopCommand())
	return cmd
}

func newNodeStartCommand() *cobra.Command {
	var configPath, genesisPath, keystorePath, keystorePassword string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the node daemon and block until a shutdown signal arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startNode(configPath, genesisPath, keystorePath, keystorePassword)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the node's config.json")
	cmd.Flags().StringVar(&genesisPath, "genesis", "", "path to the chain's genesis.json")
	cmd.Flags().StringVar(&keystorePath, "keystore", "", "validator signing keystore (omit to run as a non-validating follower)")
	cmd.Flags().StringVar(&keystorePassword, "keystore-password", "", "passphrase for --keystore")
	return cmd
}

func newNodeStopCommand() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal a running node daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataDir == "" {
				dataDir = config.Default().DataDir
			}
			return stopNode(dataDir)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "node data directory (defaults to the standard data dir)")
	return cmd
}

// nodeComponents holds every long-lived handle buildNode assembles, so
// startNode can run them and a test can tear them down without a signal.
type nodeComponents struct {
	engine *consensus.Engine
	api    *rpc.NodeAPI
	store  *blockstore.Store
	mirror *mempool.BoltMirror
	pool   *mempool.Mempool
	log    *zap.SugaredLogger
	cfg    config.Config
}

func (n *nodeComponents) shutdown() {
	n.engine.Stop()
	n.pool.Stop()
	n.store.Close()  //nolint:errcheck
	n.mirror.Close() //nolint:errcheck
}

// buildNode wires every core component together in the teacher's own
// sequence (state, then storage, then network, then consensus), stopping
// short of entering the slot loop so it can be exercised by a test.
func buildNode(configPath, genesisPath, keystorePath, keystorePassword string) (*nodeComponents, error) {
	log := newLogger()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var gen config.Genesis
	if genesisPath != "" {
		loaded, err := config.LoadGenesis(genesisPath)
		if err != nil {
			return nil, err
		}
		gen = loaded
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}

	bus := events.NewBus(log)
	now := time.Now()

	registry := validator.NewRegistry(gen.DeveloperNodeAddress, now, bus, log)
	stateMgr := state.NewManager(registry, now, bus, log)
	for _, seed := range gen.Validators {
		pubBytes, err := hex.DecodeString(seed.PublicKey)
		if err != nil {
			log.Warnw("skipping genesis validator with unparseable public key", "address", seed.Address, "error", err)
			continue
		}
		pub, err := crypto.ParsePublicKey(pubBytes)
		if err != nil {
			log.Warnw("skipping genesis validator with invalid public key", "address", seed.Address, "error", err)
			continue
		}
		if _, err := stateMgr.RegisterGenesisValidator(seed.Address, pub, seed.Stake, seed.Moniker, now); err != nil {
			log.Warnw("failed to register genesis validator", "address", seed.Address, "error", err)
		}
	}

	store, err := blockstore.Open(filepath.Join(cfg.DataDir, "chain"), log)
	if err != nil {
		return nil, err
	}

	mirror, err := mempool.OpenBoltMirror(filepath.Join(cfg.DataDir, "mempool.db"))
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}

	poolCfg := mempool.DefaultConfig()
	poolCfg.MaxCount = cfg.MempoolMaxCount
	poolCfg.MaxBytes = cfg.MempoolMaxSizeBytes
	poolCfg.Expiration = cfg.MempoolExpiration()
	poolCfg.PersistInterval = cfg.MempoolPersistInterval()
	pool := mempool.New(poolCfg, mirror, bus, log)
	if err := pool.LoadFromMirror(); err != nil {
		log.Warnw("mempool mirror replay failed", "error", err)
	}
	pool.StartSweeping()

	hub := network.NewHub(gen.DeveloperNodeAddress, log)

	engineCfg := consensus.DefaultConfig(gen.DeveloperNodeAddress)
	engineCfg.BlockTime = cfg.BlockTime()
	engineCfg.ProposerTimeout = cfg.ProposerTimeout()
	engineCfg.MaxBlockBytes = cfg.MaxBlockBytes
	if keystorePath != "" {
		priv, selfAddress, err := loadValidatorKey(keystorePath, keystorePassword)
		if err != nil {
			pool.Stop()
			mirror.Close() //nolint:errcheck
			store.Close()  //nolint:errcheck
			return nil, err
		}
		engineCfg.SelfAddress = selfAddress
		engineCfg.SelfPrivateKey = priv
		log.Infow("running as a validating node", "address", selfAddress)
	} else {
		log.Infow("running as a non-validating follower node (no --keystore given)")
	}
	engine := consensus.NewEngine(engineCfg, registry, stateMgr, store, pool, bus, hub, log)
	api := rpc.NewNodeAPI(store, stateMgr, registry, pool)

	return &nodeComponents{engine: engine, api: api, store: store, mirror: mirror, pool: pool, log: log, cfg: cfg}, nil
}

// startNode builds the node, runs its consensus engine, and blocks until
// it receives a shutdown signal.
func startNode(configPath, genesisPath, keystorePath, keystorePassword string) error {
	n, err := buildNode(configPath, genesisPath, keystorePath, keystorePassword)
	if err != nil {
		return err
	}
	defer n.log.Sync() //nolint:errcheck

	if err := writePIDFile(n.cfg.DataDir); err != nil {
		n.shutdown()
		return err
	}
	defer removePIDFile(n.cfg.DataDir)

	n.engine.Run()
	n.log.Infow("node started", "data_dir", n.cfg.DataDir, "network", n.cfg.Network)

	waitForShutdown(n.log)

	n.log.Infow("shutting down")
	n.shutdown()
	return nil
}

func waitForShutdown(log interface{ Infow(string, ...any) }) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received shutdown signal", "signal", sig.String())
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "bt2cd.pid")
}

func writePIDFile(dataDir string) error {
	return os.WriteFile(pidFilePath(dataDir), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(dataDir string) {
	_ = os.Remove(pidFilePath(dataDir))
}

// loadValidatorKey unseals a wallet keystore and returns the node's
// signing key and address (the wallet's first account), for a node
// started with --keystore.
func loadValidatorKey(keystorePath, password string) (*crypto.PrivateKey, string, error) {
	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, "", err
	}
	mnemonic, err := wallet.Unseal(data, password)
	if err != nil {
		return nil, "", err
	}
	w, err := wallet.Open(mnemonic, "")
	if err != nil {
		return nil, "", err
	}
	acct, err := w.Account(0)
	if err != nil {
		return nil, "", err
	}
	return acct.PrivateKey, acct.Address, nil
}

func stopNode(dataDir string) error {
	data, err := os.ReadFile(pidFilePath(dataDir))
	if err != nil {
		return err
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}
