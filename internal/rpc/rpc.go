// Package rpc defines the read/write surface an out-of-process API layer
// (HTTP/JSON, a block explorer, wallet tooling) would be built on top of.
// The HTTP transport itself is an external collaborator, deliberately out
// of scope; this package only hosts the boundary interfaces of spec.md §6
// and a thin NodeAPI adapter wiring them to the core's own packages, so
// that boundary is a concrete, typed contract rather than an implicit one.
package rpc

import (
	"github.com/bt2c/bt2c-core/internal/blockstore"
	"github.com/bt2c/bt2c-core/internal/core"
	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
	"github.com/bt2c/bt2c-core/internal/mempool"
	"github.com/bt2c/bt2c-core/internal/state"
	"github.com/bt2c/bt2c-core/internal/validator"
)

// Stats is a point-in-time summary of chain progress, for status/health
// endpoints.
type Stats struct {
	Height        uint64
	HasGenesis    bool
	TotalSupply   uint64
	MempoolCount  int
	ValidatorsAll int
}

// ChainReader is the read-only query surface external consumers (API
// handlers, explorers, wallets) are built against.
type ChainReader interface {
	BlockByHeight(height uint64) (*core.Block, error)
	BlockByHash(hash string) (*core.Block, error)
	BlocksInRange(from, to uint64) ([]*core.Block, error)
	TransactionByHash(hash string) (*core.Transaction, error)
	Account(address string) state.Account
	Validator(address string) (*validator.Validator, bool)
	Validators() []*validator.Validator
	Stats() Stats
}

// Submission is the write surface for admitting a new transaction.
type Submission interface {
	SubmitTransaction(tx core.Transaction) (string, error)
}

// NodeAPI implements ChainReader and Submission directly over a node's own
// collaborators. It takes no lock of its own: every method delegates to an
// already-synchronized component.
type NodeAPI struct {
	store    *blockstore.Store
	state    *state.Manager
	registry *validator.Registry
	pool     *mempool.Mempool
}

// NewNodeAPI assembles a NodeAPI from a node's running components.
func NewNodeAPI(store *blockstore.Store, stateMgr *state.Manager, registry *validator.Registry, pool *mempool.Mempool) *NodeAPI {
	return &NodeAPI{store: store, state: stateMgr, registry: registry, pool: pool}
}

func (a *NodeAPI) BlockByHeight(height uint64) (*core.Block, error) {
	return a.store.GetByHeight(height)
}

func (a *NodeAPI) BlockByHash(hash string) (*core.Block, error) {
	return a.store.GetByHash(hash)
}

func (a *NodeAPI) BlocksInRange(from, to uint64) ([]*core.Block, error) {
	return a.store.GetRange(from, to)
}

// TransactionByHash scans blocks in ascending height order until it finds
// a transaction whose hash matches. The block store carries no
// transaction-hash index of its own (§4.7 only indexes by height/hash of
// the block itself), so this is a linear, best-effort lookup adequate for
// the bounded local chains this boundary package targets; a real API
// deployment would maintain its own index from the block:applied event
// stream instead of calling this directly on a large chain.
func (a *NodeAPI) TransactionByHash(hash string) (*core.Transaction, error) {
	height, ok := a.store.Height()
	if !ok {
		return nil, internalerrors.New(internalerrors.KindNotFound, "chain has no blocks yet", nil)
	}
	for h := uint64(0); h <= height; h++ {
		block, err := a.store.GetByHeight(h)
		if err != nil {
			return nil, err
		}
		for i := range block.Transactions {
			if block.Transactions[i].Hash.String() == hash {
				return &block.Transactions[i], nil
			}
		}
	}
	return nil, internalerrors.New(internalerrors.KindNotFound, "transaction not found: "+hash, nil)
}

func (a *NodeAPI) Account(address string) state.Account {
	return a.state.Account(address)
}

func (a *NodeAPI) Validator(address string) (*validator.Validator, bool) {
	return a.registry.Get(address)
}

func (a *NodeAPI) Validators() []*validator.Validator {
	return a.registry.All()
}

func (a *NodeAPI) Stats() Stats {
	height := a.state.CurrentHeight()
	return Stats{
		Height:        height,
		HasGenesis:    a.state.HasGenesis(),
		TotalSupply:   a.state.TotalSupply(),
		MempoolCount:  a.pool.Count(),
		ValidatorsAll: len(a.registry.All()),
	}
}

// SubmitTransaction admits tx to the mempool and returns its hash on
// acceptance.
func (a *NodeAPI) SubmitTransaction(tx core.Transaction) (string, error) {
	outcome := a.pool.Add(tx, a.state)
	if !outcome.Accepted {
		return "", internalerrors.New(internalerrors.KindInvalidStructure, outcome.Reason, nil)
	}
	return tx.Hash.String(), nil
}
