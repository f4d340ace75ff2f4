// Package core contains BT2C's fundamental wire data structures: Block and
// Transaction, their canonical signable encodings, and the structural
// validity checks that require no chain state. Account balances, nonces
// and validator records live in internal/state and internal/validator;
// this package only knows how to hash, sign and structurally validate.
package core
