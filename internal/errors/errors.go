// Package internalerrors defines the error taxonomy shared by every BT2C
// component. Each sentinel corresponds to one of the machine-readable
// "kinds" a rejection can carry; ChainError pairs a kind with the
// human-readable sentence callers actually print, and with the offending
// hash when one is known.
package internalerrors

import "errors"

// Taxonomy sentinels. Use errors.Is against these, never string comparison
// against Error().
var (
	ErrInvalidStructure    = errors.New("invalid structure")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInvalidNonce        = errors.New("invalid nonce")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidHeight       = errors.New("invalid height")
	ErrInvalidParent       = errors.New("invalid parent")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrInvalidMerkle       = errors.New("invalid merkle root")
	ErrInvalidReward       = errors.New("invalid reward")
	ErrValidatorIneligible = errors.New("validator ineligible")
	ErrAlreadyClaimed      = errors.New("distribution reward already claimed")
	ErrMempoolFull         = errors.New("mempool full")
	ErrDuplicateTx         = errors.New("duplicate transaction")
	ErrStoreIO             = errors.New("store I/O error")
	ErrCrypto              = errors.New("crypto error")
	ErrConfig              = errors.New("config error")

	// ErrNotFound covers lookups (blocks, accounts, validators,
	// transactions) that find nothing; it sits outside the consensus
	// rejection taxonomy proper but is common enough to live alongside it.
	ErrNotFound = errors.New("not found")
)

// Kind identifies one taxonomy entry, for callers that want to switch on
// rejection category without comparing error values directly (e.g. an RPC
// layer mapping rejections to status codes).
type Kind string

const (
	KindInvalidStructure    Kind = "InvalidStructure"
	KindInvalidSignature    Kind = "InvalidSignature"
	KindInvalidNonce        Kind = "InvalidNonce"
	KindInsufficientFunds   Kind = "InsufficientFunds"
	KindInvalidHeight       Kind = "InvalidHeight"
	KindInvalidParent       Kind = "InvalidParent"
	KindInvalidTimestamp    Kind = "InvalidTimestamp"
	KindInvalidMerkle       Kind = "InvalidMerkle"
	KindInvalidReward       Kind = "InvalidReward"
	KindValidatorIneligible Kind = "ValidatorIneligible"
	KindAlreadyClaimed      Kind = "AlreadyClaimed"
	KindMempoolFull         Kind = "MempoolFull"
	KindDuplicateTx         Kind = "DuplicateTransaction"
	KindStoreIO             Kind = "StoreIOError"
	KindCrypto              Kind = "CryptoError"
	KindConfig              Kind = "ConfigError"
	KindNotFound            Kind = "NotFound"
)

var sentinelByKind = map[Kind]error{
	KindInvalidStructure:    ErrInvalidStructure,
	KindInvalidSignature:    ErrInvalidSignature,
	KindInvalidNonce:        ErrInvalidNonce,
	KindInsufficientFunds:   ErrInsufficientFunds,
	KindInvalidHeight:       ErrInvalidHeight,
	KindInvalidParent:       ErrInvalidParent,
	KindInvalidTimestamp:    ErrInvalidTimestamp,
	KindInvalidMerkle:       ErrInvalidMerkle,
	KindInvalidReward:       ErrInvalidReward,
	KindValidatorIneligible: ErrValidatorIneligible,
	KindAlreadyClaimed:      ErrAlreadyClaimed,
	KindMempoolFull:         ErrMempoolFull,
	KindDuplicateTx:         ErrDuplicateTx,
	KindStoreIO:             ErrStoreIO,
	KindCrypto:              ErrCrypto,
	KindConfig:              ErrConfig,
	KindNotFound:            ErrNotFound,
}

// ChainError is a rejection that carries both its machine-readable Kind and
// a human sentence, plus the offending hash when one is known.
type ChainError struct {
	Kind    Kind
	Message string
	Hash    string // hex-encoded, empty if not applicable
	cause   error
}

// New builds a ChainError for kind with message, optionally wrapping cause.
func New(kind Kind, message string, cause error) *ChainError {
	return &ChainError{Kind: kind, Message: message, cause: cause}
}

// WithHash attaches the hex-encoded hash of the offending record and
// returns e for chaining.
func (e *ChainError) WithHash(hash string) *ChainError {
	e.Hash = hash
	return e
}

func (e *ChainError) Error() string {
	if e.Hash != "" {
		return string(e.Kind) + ": " + e.Message + " (hash=" + e.Hash + ")"
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *ChainError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return sentinelByKind[e.Kind]
}
