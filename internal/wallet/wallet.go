// Package wallet backs the `wallet create` CLI verb (spec.md §6): BIP39
// mnemonic generation, BIP44 key derivation, transaction signing, and an
// optionally password-encrypted keystore file so a generated mnemonic
// need not be kept in plaintext on disk.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/scrypt"

	"github.com/bt2c/bt2c-core/internal/core"
	"github.com/bt2c/bt2c-core/internal/crypto"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
)

// scryptN, scryptR and scryptP are the key-derivation cost parameters for
// keystore encryption, matching the interactive-login cost class
// recommended by the scrypt paper (N=2^18 is too slow for a CLI wallet
// open; N=2^15 keeps `wallet create`/`wallet address` under a second).
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltSize     = 16
	nonceSize    = 12
)

// Account is one BIP44-derived keypair of a Wallet, ready to sign
// transactions.
type Account struct {
	Index      uint32
	Address    string
	PrivateKey *crypto.PrivateKey
	PublicKey  *crypto.PublicKey
}

// Wallet holds a BIP39 mnemonic and every account derived from it so far.
// Account 0 is derived eagerly; further accounts are derived on demand via
// Account.
type Wallet struct {
	Mnemonic string

	seed     []byte
	accounts map[uint32]*Account
}

// New generates a fresh 24-word mnemonic and returns a Wallet seeded from
// it under passphrase (may be empty).
func New(passphrase string) (*Wallet, error) {
	phrase, err := crypto.GenerateMnemonic()
	if err != nil {
		return nil, err
	}
	return Open(phrase, passphrase)
}

// Open reconstructs a Wallet from an existing mnemonic phrase.
func Open(mnemonic, passphrase string) (*Wallet, error) {
	seed, err := crypto.MnemonicToSeed(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	w := &Wallet{
		Mnemonic: mnemonic,
		seed:     seed,
		accounts: make(map[uint32]*Account),
	}
	if _, err := w.Account(0); err != nil {
		return nil, err
	}
	return w, nil
}

// Account returns the BIP44 account at index, deriving and caching it on
// first use.
func (w *Wallet) Account(index uint32) (*Account, error) {
	if acct, ok := w.accounts[index]; ok {
		return acct, nil
	}
	priv, pub, err := crypto.DeriveKeyPair(w.seed, index)
	if err != nil {
		return nil, err
	}
	acct := &Account{
		Index:      index,
		Address:    crypto.DeriveAddress(pub),
		PrivateKey: priv,
		PublicKey:  pub,
	}
	w.accounts[index] = acct
	return acct, nil
}

// NewTransaction builds and signs a transaction sending amount+fee from
// acct to recipient at the given nonce and timestamp.
func NewTransaction(acct *Account, recipient string, amount, fee, nonce, timestampMillis uint64) (core.Transaction, error) {
	tx := core.Transaction{
		Sender:    acct.Address,
		Recipient: recipient,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: timestampMillis,
	}
	if err := tx.Sign(acct.PrivateKey); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// keystoreFile is the on-disk encrypted keystore format: a scrypt-derived
// key, random salt and AES-GCM nonce protecting the mnemonic phrase.
type keystoreFile struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal encrypts w.Mnemonic under password and returns the serialized
// keystore file contents. An empty password still encrypts, just under a
// trivially guessable key — callers wanting plaintext storage should skip
// Seal entirely and persist Mnemonic directly.
func Seal(mnemonic, password string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, internalerrors.New(internalerrors.KindCrypto, "read keystore salt", err)
	}
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindCrypto, "derive keystore key", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindCrypto, "init keystore cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindCrypto, "init keystore gcm", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, internalerrors.New(internalerrors.KindCrypto, "read keystore nonce", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(mnemonic), nil)

	data, err := json.Marshal(keystoreFile{Salt: salt, Nonce: nonce, Ciphertext: ciphertext})
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindCrypto, "marshal keystore file", err)
	}
	return data, nil
}

// Unseal decrypts a keystore file produced by Seal back into its
// mnemonic phrase, given the matching password.
func Unseal(data []byte, password string) (string, error) {
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return "", internalerrors.New(internalerrors.KindCrypto, "unmarshal keystore file", err)
	}
	key, err := scrypt.Key([]byte(password), ks.Salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", internalerrors.New(internalerrors.KindCrypto, "derive keystore key", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", internalerrors.New(internalerrors.KindCrypto, "init keystore cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", internalerrors.New(internalerrors.KindCrypto, "init keystore gcm", err)
	}
	plaintext, err := gcm.Open(nil, ks.Nonce, ks.Ciphertext, nil)
	if err != nil {
		return "", internalerrors.New(internalerrors.KindCrypto, "decrypt keystore: wrong password or corrupt file", fmt.Errorf("%w", err))
	}
	return string(plaintext), nil
}
