package consensus

import "github.com/bt2c/bt2c-core/internal/core"

// Broadcaster announces a locally produced block to the rest of the
// network. The engine never blocks waiting for peers to acknowledge it;
// a failing Broadcaster only logs, it never aborts the slot.
type Broadcaster interface {
	BroadcastBlock(block *core.Block) error
}

// NoopBroadcaster discards every block. Useful for a single-node chain or
// as a test default.
type NoopBroadcaster struct{}

// BroadcastBlock implements Broadcaster by doing nothing.
func (NoopBroadcaster) BroadcastBlock(*core.Block) error { return nil }
