package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bt2c/bt2c-core/internal/config"
	"github.com/bt2c/bt2c-core/internal/consensusconstants"
	"github.com/bt2c/bt2c-core/internal/crypto"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
)

func newChainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Create and inspect chain genesis documents",
	}
	cmd.AddCommand(newChainInitCommand())
	return cmd
}

func newChainInitCommand() *cobra.Command {
	var out, chainID, devAddress, devPubkeyHex string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a new genesis.json seeded with the developer node as the first validator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initChain(out, chainID, devAddress, devPubkeyHex, force)
		},
	}
	cmd.Flags().StringVar(&out, "out", "./genesis.json", "path to write the genesis document to")
	cmd.Flags().StringVar(&chainID, "chain-id", "bt2c-mainnet-1", "chain identifier")
	cmd.Flags().StringVar(&devAddress, "address", "", "developer node's BT2C address, and first validator")
	cmd.Flags().StringVar(&devPubkeyHex, "pubkey", "", "developer node's hex-encoded public key")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing genesis file at --out")
	cmd.MarkFlagRequired("address") //nolint:errcheck
	cmd.MarkFlagRequired("pubkey")  //nolint:errcheck
	return cmd
}

func initChain(out, chainID, devAddress, devPubkeyHex string, force bool) error {
	if _, err := os.Stat(out); err == nil && !force {
		return internalerrors.New(internalerrors.KindInvalidStructure, fmt.Sprintf("%s already exists; pass --force to overwrite", out), nil)
	}

	pubBytes, err := hex.DecodeString(devPubkeyHex)
	if err != nil {
		return internalerrors.New(internalerrors.KindInvalidStructure, "pubkey must be hex-encoded", err)
	}
	if _, err := crypto.ParsePublicKey(pubBytes); err != nil {
		return internalerrors.New(internalerrors.KindInvalidStructure, "pubkey is not a valid public key", err)
	}

	gen := config.Genesis{
		ChainID:              chainID,
		InitialReward:        consensusconstants.InitialReward,
		HalvingInterval:      consensusconstants.HalvingInterval,
		MaxSupply:            consensusconstants.MaxSupply,
		MinStake:             consensusconstants.MinStake,
		DistributionPeriodMs: uint64(consensusconstants.DistributionPeriod.Milliseconds()),
		DistributionStartMs:  0,
		DeveloperNodeAddress: devAddress,
		Validators: []config.ValidatorSeed{
			{
				Address:   devAddress,
				PublicKey: devPubkeyHex,
				Stake:     consensusconstants.MinStake,
				Moniker:   "developer-node",
			},
		},
	}

	data, err := json.MarshalIndent(gen, "", "  ")
	if err != nil {
		return internalerrors.New(internalerrors.KindInvalidStructure, "marshal genesis", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return internalerrors.New(internalerrors.KindConfig, fmt.Sprintf("write genesis file %s", out), err)
	}
	fmt.Printf("wrote genesis document to %s\n", out)
	return nil
}
