package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bt2c/bt2c-core/internal/consensusconstants"
	"github.com/bt2c/bt2c-core/internal/crypto"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
)

// Block is one entry of the chain: a height-ordered batch of transactions
// proposed and signed by a single validator, crediting that validator with
// the block reward via a leading coinbase transaction.
type Block struct {
	Height           uint64        `json:"height"`
	PreviousHash     crypto.Hash   `json:"previousHash"`
	Timestamp        uint64        `json:"timestamp"` // unix milliseconds
	Transactions     []Transaction `json:"transactions"`
	ValidatorAddress string        `json:"validatorAddress"`
	Reward           uint64        `json:"reward"`
	MerkleRoot       crypto.Hash   `json:"merkleRoot"`
	Hash             crypto.Hash   `json:"hash"`
	Signature        []byte        `json:"signature,omitempty"`
}

// headerPayload is the canonical, fixed-field-order encoding of everything
// a proposer signs. Transactions are represented only by MerkleRoot:
// changing a transaction changes the root, which changes the signed bytes.
type headerPayload struct {
	Height           uint64 `json:"height"`
	PreviousHash     string `json:"previousHash"`
	Timestamp        uint64 `json:"timestamp"`
	MerkleRoot       string `json:"merkleRoot"`
	ValidatorAddress string `json:"validatorAddress"`
	Reward           uint64 `json:"reward"`
}

// NewBlock assembles an unsigned block. The caller is expected to append a
// coinbase transaction as transactions[0] before calling Finalize.
func NewBlock(height uint64, previousHash crypto.Hash, transactions []Transaction, validatorAddress string, reward uint64, timestampMillis uint64) *Block {
	b := &Block{
		Height:           height,
		PreviousHash:     previousHash,
		Timestamp:        timestampMillis,
		Transactions:     transactions,
		ValidatorAddress: validatorAddress,
		Reward:           reward,
	}
	b.MerkleRoot = b.ComputeMerkleRoot()
	return b
}

// ComputeMerkleRoot builds the Merkle root of the block's transaction
// hashes. An odd number of nodes at any level duplicates the last node
// before pairing, the conventional tie-breaking rule. An empty block's
// root is H(empty), the hash of zero bytes.
func (b *Block) ComputeMerkleRoot() crypto.Hash {
	if len(b.Transactions) == 0 {
		return crypto.SumHash(nil)
	}
	level := make([]crypto.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		level[i] = tx.Hash
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]crypto.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			buf := make([]byte, 0, 2*crypto.HashSize)
			buf = append(buf, level[i][:]...)
			buf = append(buf, level[i+1][:]...)
			next[i/2] = crypto.SumHash(buf)
		}
		level = next
	}
	return level[0]
}

// HeaderBytes returns the canonical signable encoding of the block header.
func (b *Block) HeaderBytes() []byte {
	payload := headerPayload{
		Height:           b.Height,
		PreviousHash:     b.PreviousHash.String(),
		Timestamp:        b.Timestamp,
		MerkleRoot:       b.MerkleRoot.String(),
		ValidatorAddress: b.ValidatorAddress,
		Reward:           b.Reward,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("core: block header marshal: %v", err))
	}
	return data
}

// ComputeHash returns H(header_bytes), the block's content hash. Unlike a
// transaction's hash, the block hash does not fold in the signature: the
// signature is computed over the hash, not alongside it.
func (b *Block) ComputeHash() crypto.Hash {
	return crypto.SumHash(b.HeaderBytes())
}

// Finalize recomputes the Merkle root and content hash, then signs the
// hash with priv. It is called once by the proposer after all
// transactions (including the coinbase) have been assembled.
func (b *Block) Finalize(priv *crypto.PrivateKey) error {
	b.MerkleRoot = b.ComputeMerkleRoot()
	b.Hash = b.ComputeHash()
	sig, err := crypto.Sign(b.Hash[:], priv)
	if err != nil {
		return internalerrors.New(internalerrors.KindCrypto, "sign block hash", err)
	}
	b.Signature = sig
	return nil
}

// VerifySignature reports whether the block's signature verifies under
// proposerPubKey.
func (b *Block) VerifySignature(proposerPubKey *crypto.PublicKey) bool {
	if len(b.Signature) == 0 || proposerPubKey == nil {
		return false
	}
	return crypto.Verify(b.Hash[:], b.Signature, proposerPubKey)
}

// IsValidAgainst performs every structural check on b that does not
// require touching account state: correct height succession, correct
// previous-hash linkage, a non-future, non-stale timestamp, a Merkle root
// that matches the actual transaction set, a leading coinbase transaction
// crediting exactly Reward to ValidatorAddress, and a verifying
// signature. Caller supplies the proposer's public key, looked up from
// the validator registry, and the current wall-clock time.
func (b *Block) IsValidAgainst(previous *Block, proposerPubKey *crypto.PublicKey, now time.Time) error {
	if previous != nil {
		if b.Height != previous.Height+1 {
			return internalerrors.New(internalerrors.KindInvalidHeight,
				fmt.Sprintf("expected height %d, got %d", previous.Height+1, b.Height), nil).WithHash(b.Hash.String())
		}
		if b.PreviousHash != previous.Hash {
			return internalerrors.New(internalerrors.KindInvalidParent, "previous hash does not match parent block", nil).WithHash(b.Hash.String())
		}
		if b.Timestamp <= previous.Timestamp {
			return internalerrors.New(internalerrors.KindInvalidTimestamp, "block timestamp does not exceed parent", nil).WithHash(b.Hash.String())
		}
	}

	maxFuture := uint64(now.Add(consensusconstants.MaxFutureDrift).UnixMilli())
	if b.Timestamp > maxFuture {
		return internalerrors.New(internalerrors.KindInvalidTimestamp, "block timestamp too far in the future", nil).WithHash(b.Hash.String())
	}

	if b.ComputeMerkleRoot() != b.MerkleRoot {
		return internalerrors.New(internalerrors.KindInvalidMerkle, "merkle root does not match transactions", nil).WithHash(b.Hash.String())
	}

	if b.ComputeHash() != b.Hash {
		return internalerrors.New(internalerrors.KindInvalidStructure, "block hash does not match header fields", nil).WithHash(b.Hash.String())
	}

	if err := b.validateCoinbase(); err != nil {
		return err
	}

	if !b.VerifySignature(proposerPubKey) {
		return internalerrors.New(internalerrors.KindInvalidSignature, "block signature does not verify", nil).WithHash(b.Hash.String())
	}

	return nil
}

func (b *Block) validateCoinbase() error {
	if len(b.Transactions) == 0 {
		return internalerrors.New(internalerrors.KindInvalidStructure, "block has no transactions", nil).WithHash(b.Hash.String())
	}
	coinbase := b.Transactions[0]
	if !coinbase.IsCoinbase() {
		return internalerrors.New(internalerrors.KindInvalidStructure, "first transaction is not a coinbase", nil).WithHash(b.Hash.String())
	}
	if coinbase.Recipient != b.ValidatorAddress {
		return internalerrors.New(internalerrors.KindInvalidReward, "coinbase recipient does not match validator address", nil).WithHash(b.Hash.String())
	}
	if coinbase.Amount != b.Reward {
		return internalerrors.New(internalerrors.KindInvalidReward,
			fmt.Sprintf("coinbase amount %d does not match declared reward %d", coinbase.Amount, b.Reward), nil).WithHash(b.Hash.String())
	}
	for _, tx := range b.Transactions[1:] {
		if tx.IsCoinbase() {
			return internalerrors.New(internalerrors.KindInvalidStructure, "coinbase transaction outside first position", nil).WithHash(b.Hash.String())
		}
	}
	return nil
}

// Serialize encodes b as JSON, the wire format used by the block store and
// RPC responses.
func (b *Block) Serialize() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindInvalidStructure, "serialize block", err)
	}
	return data, nil
}

// DeserializeBlock decodes a block previously produced by Serialize.
func DeserializeBlock(data []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, internalerrors.New(internalerrors.KindInvalidStructure, "deserialize block", err)
	}
	return &b, nil
}
