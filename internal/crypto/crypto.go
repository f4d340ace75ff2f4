// Package crypto implements the content hashing, signing, address
// derivation and HD key derivation primitives shared by every other BT2C
// package. It is the single place that is allowed to reach for a crypto
// library directly; callers work with the Hash, PrivateKey and PublicKey
// types defined here, and with signatures and addresses as plain byte
// slices and strings.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/decred/dcrd/hdkeychain/v3"
	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address derivation is defined in terms of RIPEMD-160.
	"golang.org/x/crypto/sha3"

	"github.com/bt2c/bt2c-core/internal/consensusconstants"
)

// ErrCrypto is the sentinel every failure in this package wraps, matching
// the CryptoError kind of the error taxonomy.
var ErrCrypto = errors.New("crypto error")

// HashSize is the width, in bytes, of every Hash produced by this package.
const HashSize = 32

// Hash is a fixed-width, domain-separated content identifier.
type Hash [HashSize]byte

// String renders the hash as lowercase hex, the canonical display form.
func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// IsZero reports whether h is the all-zero hash, used as the genesis
// block's previous-hash sentinel.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// SumHash computes the domain-separated 256-bit digest of data.
//
// The domain separation is a single fixed label folded into every digest,
// so a BT2C content hash can never collide with a hash of the same bytes
// computed for an unrelated purpose.
func SumHash(data []byte) Hash {
	h := sha3.New256()
	h.Write([]byte("bt2c/v1/"))
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// PrivateKey and PublicKey alias the secp256k1 types so callers never need
// to import the underlying library directly.
type (
	PrivateKey = secp256k1.PrivateKey
	PublicKey  = secp256k1.PublicKey
)

// GenerateKeyPair creates a fresh secp256k1 key pair.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: generate key pair: %v", ErrCrypto, err)
	}
	return priv, priv.PubKey(), nil
}

// Sign signs data (typically a Hash) with priv and returns the DER-encoded
// signature bytes.
func Sign(data []byte, priv *PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: sign: nil private key", ErrCrypto)
	}
	sig := ecdsa.Sign(priv, data)
	return sig.Serialize(), nil
}

// Verify reports whether sig is a valid signature of data under pub. Any
// malformed signature or tampered payload simply returns false, never an
// error — verification failure is not fatal.
func Verify(data []byte, sig []byte, pub *PublicKey) bool {
	if pub == nil || len(sig) == 0 {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(data, pub)
}

// SerializePublicKey returns the compressed SEC1 encoding of pub.
func SerializePublicKey(pub *PublicKey) []byte {
	return pub.SerializeCompressed()
}

// ParsePublicKey parses the compressed SEC1 encoding produced by
// SerializePublicKey.
func ParsePublicKey(data []byte) (*PublicKey, error) {
	pub, err := secp256k1.ParsePubKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", ErrCrypto, err)
	}
	return pub, nil
}

// DeriveAddress computes the printable BT2C address for pub: the
// "bt2c_" prefix followed by base58 of RIPEMD-160(SHA-256(public_key)).
//
// Note this is the one place BT2C uses the legacy SHA-256/RIPEMD-160 pair
// rather than the domain-separated SumHash — it matches the wire format
// other BT2C implementations already derive addresses with, so changing it
// would break cross-client address compatibility.
func DeriveAddress(pub *PublicKey) string {
	pubBytes := SerializePublicKey(pub)
	sha := sha256.Sum256(pubBytes)
	ripemd := ripemd160.New()
	ripemd.Write(sha[:])
	pkHash := ripemd.Sum(nil)
	return consensusconstants.AddressPrefix + base58.Encode(pkHash)
}

// GenerateMnemonic returns a fresh BIP39 phrase carrying 256 bits of
// entropy (24 words).
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("%w: generate entropy: %v", ErrCrypto, err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("%w: generate mnemonic: %v", ErrCrypto, err)
	}
	return phrase, nil
}

// MnemonicToSeed derives the BIP39 seed for phrase under passphrase.
func MnemonicToSeed(phrase, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return nil, fmt.Errorf("%w: invalid mnemonic phrase", ErrCrypto)
	}
	return bip39.NewSeed(phrase, passphrase), nil
}

// hdNetParams satisfies hdkeychain.NetworkParams with BT2C's own version
// bytes so derived extended keys never get confused for another chain's.
type hdNetParams struct{}

var bt2cHDParams = hdNetParams{}

func (hdNetParams) HDPrivKeyVersion() [4]byte { return [4]byte{0x04, 0xb2, 0x43, 0x0c} }
func (hdNetParams) HDPubKeyVersion() [4]byte  { return [4]byte{0x04, 0xb2, 0x47, 0x46} }

// DeriveKeyPair derives the key pair at BIP44 path m/44'/999'/0'/0/index
// from seed, per the DerivKeyPair operation of spec.md §4.1.
func DeriveKeyPair(seed []byte, index uint32) (*PrivateKey, *PublicKey, error) {
	master, err := hdkeychain.NewMaster(seed, bt2cHDParams)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: derive master key: %v", ErrCrypto, err)
	}

	path := []uint32{
		consensusconstants.HDPurpose + hdkeychain.HardenedKeyStart,
		consensusconstants.HDCoinType + hdkeychain.HardenedKeyStart,
		consensusconstants.HDAccount + hdkeychain.HardenedKeyStart,
		0,
		index,
	}

	key := master
	for _, childIndex := range path {
		key, err = key.Child(childIndex)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: derive child key at index %d: %v", ErrCrypto, childIndex, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: extract private key: %v", ErrCrypto, err)
	}
	return priv, priv.PubKey(), nil
}

// RandomNonce returns n cryptographically random bytes, used where a
// caller needs entropy outside of key generation (e.g. salting a stored
// wallet file).
func RandomNonce(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: read random bytes: %v", ErrCrypto, err)
	}
	return buf, nil
}
