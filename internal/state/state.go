// Package state implements BT2C's account-based chain state: balances,
// nonces and stakes, kept consistent by being the single writer that
// applies blocks atomically (journaled snapshot and rollback on any
// rejection), computes the halving block-reward schedule, and drives
// validator registration and stake updates.
package state
