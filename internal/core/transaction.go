package core

import (
	"encoding/json"
	"fmt"

	"github.com/bt2c/bt2c-core/internal/consensusconstants"
	"github.com/bt2c/bt2c-core/internal/crypto"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
)

// CoinbaseSender is the sentinel sender address of a coinbase transaction.
const CoinbaseSender = consensusconstants.CoinbaseSender

// Transaction is the fundamental unit of value transfer. Amounts and fees
// are whole, unsigned units of the smallest BT2C denomination, never a
// float, so arithmetic on them stays exact and deterministic across nodes.
type Transaction struct {
	Sender          string      `json:"sender"`
	Recipient       string      `json:"recipient"`
	Amount          uint64      `json:"amount"`
	Fee             uint64      `json:"fee"`
	Nonce           uint64      `json:"nonce"`
	Timestamp       uint64      `json:"timestamp"` // unix milliseconds
	SenderPublicKey []byte      `json:"senderPublicKey,omitempty"`
	Signature       []byte      `json:"signature,omitempty"`
	Hash            crypto.Hash `json:"hash"`
}

// canonicalPayload is the exact, fixed-field-order encoding that gets
// signed and hashed. Field order and presence must never change: it is
// part of the consensus wire format.
type canonicalPayload struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Fee       uint64 `json:"fee"`
	Nonce     uint64 `json:"nonce"`
	Timestamp uint64 `json:"timestamp"`
}

// SignableBytes returns the canonical signable encoding of the tuple
// {sender, recipient, amount, fee, nonce, timestamp}, excluding the
// signature and hash fields.
func (tx *Transaction) SignableBytes() []byte {
	payload := canonicalPayload{
		Sender:    tx.Sender,
		Recipient: tx.Recipient,
		Amount:    tx.Amount,
		Fee:       tx.Fee,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("core: signable payload marshal: %v", err))
	}
	return data
}

// ComputeHash returns H(signable_bytes || signature), the transaction's
// content hash.
func (tx *Transaction) ComputeHash() crypto.Hash {
	data := tx.SignableBytes()
	data = append(data, tx.Signature...)
	return crypto.SumHash(data)
}

// IsCoinbase reports whether tx is a coinbase transaction.
func (tx *Transaction) IsCoinbase() bool {
	return tx.Sender == CoinbaseSender
}

// Sign signs tx's signable bytes with priv, setting SenderPublicKey,
// Signature and Hash. Coinbase transactions are minted directly by the
// state machine via NewCoinbaseTransaction and are never signed.
func (tx *Transaction) Sign(priv *crypto.PrivateKey) error {
	if tx.IsCoinbase() {
		return internalerrors.New(internalerrors.KindInvalidStructure, "coinbase transactions are not signed by a wallet", nil)
	}
	tx.SenderPublicKey = crypto.SerializePublicKey(priv.PubKey())
	sig, err := crypto.Sign(tx.SignableBytes(), priv)
	if err != nil {
		return internalerrors.New(internalerrors.KindCrypto, "sign transaction", err)
	}
	tx.Signature = sig
	tx.Hash = tx.ComputeHash()
	return nil
}

// VerifySignature reports whether tx's signature verifies under its own
// SenderPublicKey. Coinbase transactions always verify: they carry no
// signature by construction.
func (tx *Transaction) VerifySignature() bool {
	if tx.IsCoinbase() {
		return true
	}
	if len(tx.SenderPublicKey) == 0 || len(tx.Signature) == 0 {
		return false
	}
	pub, err := crypto.ParsePublicKey(tx.SenderPublicKey)
	if err != nil {
		return false
	}
	return crypto.Verify(tx.SignableBytes(), tx.Signature, pub)
}

// BalanceReader is the minimal view of chain state a transaction needs in
// order to validate itself: current balance and nonce for an address.
// State implements this directly; tests may use a stub.
type BalanceReader interface {
	Balance(address string) uint64
	Nonce(address string) uint64
}

// IsValidAgainst reports a non-nil rejection if tx cannot be applied
// against state: bad signature, insufficient funds, wrong nonce, or a
// non-positive amount. It never mutates state.
func (tx *Transaction) IsValidAgainst(state BalanceReader) error {
	if tx.IsCoinbase() {
		// Coinbase placement (first entry of a block, minted by the state
		// machine) is enforced by block-level validation, not here.
		return nil
	}
	if !tx.VerifySignature() {
		return internalerrors.New(internalerrors.KindInvalidSignature, "transaction signature does not verify", nil).WithHash(tx.Hash.String())
	}
	if tx.Amount == 0 {
		return internalerrors.New(internalerrors.KindInvalidStructure, "transaction amount must be positive", nil).WithHash(tx.Hash.String())
	}
	expectedNonce := state.Nonce(tx.Sender) + 1
	if tx.Nonce != expectedNonce {
		return internalerrors.New(internalerrors.KindInvalidNonce,
			fmt.Sprintf("expected nonce %d, got %d", expectedNonce, tx.Nonce), nil).WithHash(tx.Hash.String())
	}
	if state.Balance(tx.Sender) < tx.Amount+tx.Fee {
		return internalerrors.New(internalerrors.KindInsufficientFunds,
			fmt.Sprintf("balance %d below amount+fee %d", state.Balance(tx.Sender), tx.Amount+tx.Fee), nil).WithHash(tx.Hash.String())
	}
	return nil
}

// NewCoinbaseTransaction builds the block-reward-crediting first
// transaction of a block. It is emitted by the state machine, never by a
// wallet, and carries no signature or sender public key.
func NewCoinbaseTransaction(recipient string, reward uint64, timestampMillis uint64) Transaction {
	tx := Transaction{
		Sender:    CoinbaseSender,
		Recipient: recipient,
		Amount:    reward,
		Timestamp: timestampMillis,
	}
	tx.Hash = tx.ComputeHash()
	return tx
}

// Serialize encodes tx as JSON, the wire format used for mempool mirror
// entries and RPC responses.
func (tx *Transaction) Serialize() ([]byte, error) {
	data, err := json.Marshal(tx)
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindInvalidStructure, "serialize transaction", err)
	}
	return data, nil
}

// DeserializeTransaction decodes a transaction previously produced by
// Serialize.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, internalerrors.New(internalerrors.KindInvalidStructure, "deserialize transaction", err)
	}
	return &tx, nil
}
