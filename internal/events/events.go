// Package events implements the typed publish/subscribe channel every other
// component uses to announce what it did, per the "Event propagation"
// design note: subscribers are passive, the publisher never awaits them,
// and per-component ordering is preserved.
package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type enumerates the event variants a subscriber may see.
type Type string

const (
	BlockApplied           Type = "block:applied"
	TransactionApplied     Type = "transaction:applied"
	ValidatorRegistered    Type = "validator:registered"
	ValidatorActivated     Type = "validator:activated"
	ValidatorJailed        Type = "validator:jailed"
	ValidatorUnjailed      Type = "validator:unjailed"
	ValidatorTombstoned    Type = "validator:tombstoned"
	RewardBlock            Type = "reward:block"
	RewardDeveloper        Type = "reward:developer"
	RewardEarlyValidator   Type = "reward:early_validator"
)

// Event is one published notification. Payload is variant-specific; its
// concrete type is whatever the publisher of that Type passes to Publish.
type Event struct {
	Type    Type
	Payload any
}

// subscriberBuffer bounds how many unconsumed events a slow subscriber may
// accumulate before Publish starts dropping for it. Subscribers are
// passive observers, not a backpressure source for block production.
const subscriberBuffer = 256

type subscription struct {
	id uuid.UUID
	ch chan Event
}

// Bus is a per-process, multi-subscriber, non-blocking event channel.
// A single Bus instance is shared by the whole node; components hold a
// reference to it and call Publish, never Subscribe on each other's
// behalf.
type Bus struct {
	mu   sync.Mutex
	subs map[uuid.UUID]chan Event
	log  *zap.SugaredLogger
}

// NewBus creates an empty event bus.
func NewBus(log *zap.SugaredLogger) *Bus {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bus{
		subs: make(map[uuid.UUID]chan Event),
		log:  log.Named("events"),
	}
}

// Subscribe registers a new passive subscriber and returns its channel plus
// an unsubscribe function. The returned channel is closed by Unsubscribe,
// never by the bus shutting down implicitly.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	id := uuid.New()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish fans ev out to every current subscriber without blocking on any
// of them. A subscriber whose buffer is full has the event dropped for it
// and a warning logged; the publisher is never slowed down by a laggard.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warnw("dropping event for slow subscriber", "subscriber", id, "type", ev.Type)
		}
	}
}
