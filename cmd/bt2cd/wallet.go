package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bt2c/bt2c-core/internal/crypto"
	"github.com/bt2c/bt2c-core/internal/wallet"
)

func newWalletCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Create and inspect BIP39/BIP44 wallets",
	}
	cmd.AddCommand(newWalletCreateCommand())
	cmd.AddCommand(newWalletAddressCommand())
	return cmd
}

func newWalletCreateCommand() *cobra.Command {
	var password, keystorePath string
	var accountIndex uint32
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate a new mnemonic, derive the first account, and write an encrypted keystore",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet.New("")
			if err != nil {
				return err
			}
			acct, err := w.Account(accountIndex)
			if err != nil {
				return err
			}
			sealed, err := wallet.Seal(w.Mnemonic, password)
			if err != nil {
				return err
			}
			if err := os.WriteFile(keystorePath, sealed, 0o600); err != nil {
				return err
			}
			fmt.Printf("address:  %s\n", acct.Address)
			fmt.Printf("keystore: %s\n", keystorePath)
			fmt.Printf("mnemonic: %s\n", w.Mnemonic)
			fmt.Println("record the mnemonic somewhere safe; it is not recoverable from the keystore file alone")
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "passphrase protecting the keystore file")
	cmd.Flags().StringVar(&keystorePath, "keystore", "./wallet.keystore", "path to write the encrypted keystore to")
	cmd.Flags().Uint32Var(&accountIndex, "account-index", 0, "BIP44 account index to derive")
	cmd.MarkFlagRequired("password") //nolint:errcheck
	return cmd
}

func newWalletAddressCommand() *cobra.Command {
	var password, keystorePath string
	var accountIndex uint32
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Unseal a keystore and print the address for a given account index",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(keystorePath)
			if err != nil {
				return err
			}
			mnemonic, err := wallet.Unseal(data, password)
			if err != nil {
				return err
			}
			w, err := wallet.Open(mnemonic, "")
			if err != nil {
				return err
			}
			acct, err := w.Account(accountIndex)
			if err != nil {
				return err
			}
			fmt.Printf("address:    %s\n", acct.Address)
			fmt.Printf("public key: %s\n", hex.EncodeToString(crypto.SerializePublicKey(acct.PublicKey)))
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "passphrase protecting the keystore file")
	cmd.Flags().StringVar(&keystorePath, "keystore", "./wallet.keystore", "path to the encrypted keystore file")
	cmd.Flags().Uint32Var(&accountIndex, "account-index", 0, "BIP44 account index to derive")
	cmd.MarkFlagRequired("password") //nolint:errcheck
	return cmd
}
