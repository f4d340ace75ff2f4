package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bt2c/bt2c-core/internal/config"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
)

func newValidatorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validator",
		Short: "Manage a genesis document's bootstrap validator set",
	}
	cmd.AddCommand(newValidatorRegisterCommand())
	return cmd
}

func newValidatorRegisterCommand() *cobra.Command {
	var genesisPath, address, pubkeyHex, moniker string
	var stake uint64
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Add a validator to a genesis document's bootstrap validator set",
		Long: "register appends a validator entry to an existing genesis.json's " +
			"validators array. It edits the genesis document directly; a node " +
			"picks up the entry the next time it starts with --genesis pointed " +
			"at that file. There is no live registration path in this release: " +
			"validators already serving a running chain register by being " +
			"present in the genesis document the network launched with.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return registerValidator(genesisPath, address, pubkeyHex, moniker, stake)
		},
	}
	cmd.Flags().StringVar(&genesisPath, "genesis", "", "path to the genesis.json to edit")
	cmd.Flags().StringVar(&address, "address", "", "validator's BT2C address")
	cmd.Flags().StringVar(&pubkeyHex, "pubkey", "", "validator's hex-encoded public key")
	cmd.Flags().StringVar(&moniker, "moniker", "", "human-readable validator name")
	cmd.Flags().Uint64Var(&stake, "stake", 0, "validator's initial stake")
	cmd.MarkFlagRequired("genesis") //nolint:errcheck
	cmd.MarkFlagRequired("address") //nolint:errcheck
	cmd.MarkFlagRequired("pubkey")  //nolint:errcheck
	cmd.MarkFlagRequired("stake")   //nolint:errcheck
	return cmd
}

func registerValidator(genesisPath, address, pubkeyHex, moniker string, stake uint64) error {
	if _, err := hex.DecodeString(pubkeyHex); err != nil {
		return internalerrors.New(internalerrors.KindInvalidStructure, "pubkey must be hex-encoded", err)
	}

	gen, err := config.LoadGenesis(genesisPath)
	if err != nil {
		return err
	}
	for _, v := range gen.Validators {
		if v.Address == address {
			return internalerrors.New(internalerrors.KindInvalidStructure, fmt.Sprintf("validator %s already present in genesis", address), nil)
		}
	}
	gen.Validators = append(gen.Validators, config.ValidatorSeed{
		Address:   address,
		PublicKey: pubkeyHex,
		Stake:     stake,
		Moniker:   moniker,
	})

	data, err := json.MarshalIndent(gen, "", "  ")
	if err != nil {
		return internalerrors.New(internalerrors.KindInvalidStructure, "marshal updated genesis", err)
	}
	if err := os.WriteFile(genesisPath, data, 0o644); err != nil {
		return internalerrors.New(internalerrors.KindConfig, fmt.Sprintf("write genesis file %s", genesisPath), err)
	}
	fmt.Printf("registered %s with stake %d in %s\n", address, stake, genesisPath)
	return nil
}
