// Package network provides an in-process peer transport for a BT2C
// cluster: a Hub lets several node instances running in the same process
// exchange newly produced blocks and submitted transactions without a
// real socket layer, wire encoding included so a encode/decode mismatch
// surfaces the same way it would over a real connection. A real gossip
// transport (libp2p or similar) is an external collaborator and
// deliberately out of scope; this package is what local multi-validator
// tests and single-machine demo clusters use to exercise
// consensus.Engine and mempool.Mempool across more than one node.
package network

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bt2c/bt2c-core/internal/core"
)

const peerBufferSize = 100

// BlockHandler is invoked on the receiving peer's goroutine for every
// block broadcast to it. Implementations should not block for long;
// a slow handler backs up that one peer's channel only.
type BlockHandler func(block *core.Block)

// TransactionHandler is invoked on the receiving peer's goroutine for
// every transaction broadcast to it.
type TransactionHandler func(tx core.Transaction)

// Peer is one connection a Hub holds to another node.
type Peer struct {
	id string

	blocks chan []byte
	txs    chan []byte
	stop   chan struct{}
	wg     sync.WaitGroup

	onBlock       BlockHandler
	onTransaction TransactionHandler

	log *zap.SugaredLogger
}

func newPeer(id string, onBlock BlockHandler, onTransaction TransactionHandler, log *zap.SugaredLogger) *Peer {
	return &Peer{
		id:            id,
		blocks:        make(chan []byte, peerBufferSize),
		txs:           make(chan []byte, peerBufferSize),
		stop:          make(chan struct{}),
		onBlock:       onBlock,
		onTransaction: onTransaction,
		log:           log,
	}
}

func (p *Peer) start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.stop:
				return
			case data := <-p.blocks:
				block, err := core.DeserializeBlock(data)
				if err != nil {
					p.log.Warnw("dropping undecodable block", "peer", p.id, "error", err)
					continue
				}
				if p.onBlock != nil {
					p.onBlock(block)
				}
			case data := <-p.txs:
				tx, err := core.DeserializeTransaction(data)
				if err != nil {
					p.log.Warnw("dropping undecodable transaction", "peer", p.id, "error", err)
					continue
				}
				if p.onTransaction != nil {
					p.onTransaction(*tx)
				}
			}
		}
	}()
}

func (p *Peer) close() {
	close(p.stop)
	p.wg.Wait()
}

// Hub fans a node's outgoing blocks and transactions out to every
// connected peer, and is itself a consensus.Broadcaster.
type Hub struct {
	mu     sync.RWMutex
	nodeID string
	peers  map[string]*Peer
	log    *zap.SugaredLogger
}

// NewHub creates an empty Hub for nodeID.
func NewHub(nodeID string, log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		nodeID: nodeID,
		peers:  make(map[string]*Peer),
		log:    log.Named("network").With("node", nodeID),
	}
}

// Connect registers peerID as a recipient of this Hub's broadcasts.
// onBlock/onTransaction are called on a dedicated goroutine per peer as
// messages arrive; either may be nil to ignore that message kind.
func (h *Hub) Connect(peerID string, onBlock BlockHandler, onTransaction TransactionHandler) (*Peer, error) {
	if peerID == "" {
		return nil, fmt.Errorf("network: peer id must not be empty")
	}
	if peerID == h.nodeID {
		return nil, fmt.Errorf("network: node %s cannot connect to itself", h.nodeID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.peers[peerID]; ok {
		return existing, nil
	}
	peer := newPeer(peerID, onBlock, onTransaction, h.log)
	peer.start()
	h.peers[peerID] = peer
	return peer, nil
}

// Disconnect stops routing messages to peerID and releases its goroutine.
func (h *Hub) Disconnect(peerID string) {
	h.mu.Lock()
	peer, ok := h.peers[peerID]
	if ok {
		delete(h.peers, peerID)
	}
	h.mu.Unlock()
	if ok {
		peer.close()
	}
}

func (h *Hub) connectedPeers() []*Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	peers := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	return peers
}

// BroadcastBlock encodes block once and hands it to every connected
// peer. It implements consensus.Broadcaster.
func (h *Hub) BroadcastBlock(block *core.Block) error {
	data, err := block.Serialize()
	if err != nil {
		return fmt.Errorf("network: serialize block: %w", err)
	}
	for _, peer := range h.connectedPeers() {
		select {
		case peer.blocks <- data:
		default:
			h.log.Warnw("peer block buffer full, dropping", "peer", peer.id, "height", block.Height)
		}
	}
	return nil
}

// BroadcastTransaction encodes tx once and hands it to every connected
// peer.
func (h *Hub) BroadcastTransaction(tx core.Transaction) error {
	data, err := tx.Serialize()
	if err != nil {
		return fmt.Errorf("network: serialize transaction: %w", err)
	}
	for _, peer := range h.connectedPeers() {
		select {
		case peer.txs <- data:
		default:
			h.log.Warnw("peer transaction buffer full, dropping", "peer", peer.id, "hash", tx.Hash.String())
		}
	}
	return nil
}
