// Package bus carries mutation events to the caches that must forget
// stale entries. Local subscribers run synchronously inside Publish.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Kind string

const (
	KindPostDeleted         Kind = "post.deleted"
	KindPostEdited          Kind = "post.edited"
	KindConversationUpdated Kind = "conversation.updated"
	KindMessageEdited       Kind = "message.edited"
	KindMessageDeleted      Kind = "message.deleted"
)

// MutationEvent announces that an authoritative entity changed.
type MutationEvent struct {
	Kind       Kind      `json:"kind"`
	EntityID   string    `json:"entityId"`
	ActorID    string    `json:"actorId,omitempty"`
	Origin     string    `json:"origin"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Handler reacts to one event. Returning an error does not stop other
// subscribers.
type Handler func(ctx context.Context, ev MutationEvent) error

// Relay forwards locally published events to other nodes.
type Relay interface {
	Forward(ctx context.Context, ev MutationEvent) error
}

type subscription struct {
	name    string
	handler Handler
}

// Bus is an in-process publish/subscribe hub.
type Bus struct {
	nodeID string
	log    *zap.Logger

	mu    sync.RWMutex
	subs  map[Kind][]subscription
	relay Relay
}

// New constructs a Bus for this node.
func New(nodeID string, log *zap.Logger) *Bus {
	return &Bus{nodeID: nodeID, log: log.Named("bus"), subs: make(map[Kind][]subscription)}
}

// NodeID identifies events that originated on this process.
func (b *Bus) NodeID() string { return b.nodeID }

// Subscribe registers handler for kind under a descriptive name.
func (b *Bus) Subscribe(kind Kind, name string, handler Handler) {
	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], subscription{name: name, handler: handler})
	b.mu.Unlock()
}

// SetRelay attaches the cross-node relay.
func (b *Bus) SetRelay(relay Relay) {
	b.mu.Lock()
	b.relay = relay
	b.mu.Unlock()
}

// Publish runs every local subscriber of ev.Kind and then forwards ev to
// the relay. When Publish returns, local invalidation has completed; the
// returned error combines subscriber failures. Relay failures are logged.
func (b *Bus) Publish(ctx context.Context, ev MutationEvent) error {
	if ev.Origin == "" {
		ev.Origin = b.nodeID
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	err := b.dispatch(ctx, ev)

	b.mu.RLock()
	relay := b.relay
	b.mu.RUnlock()
	if relay != nil {
		if rerr := relay.Forward(ctx, ev); rerr != nil {
			b.log.Warn("relay forward failed", zap.String("kind", string(ev.Kind)), zap.String("entity_id", ev.EntityID), zap.Error(rerr))
		}
	}
	return err
}

// Deliver dispatches an event received from another node to local
// subscribers only.
func (b *Bus) Deliver(ctx context.Context, ev MutationEvent) error {
	return b.dispatch(ctx, ev)
}

func (b *Bus) dispatch(ctx context.Context, ev MutationEvent) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.Kind]...)
	b.mu.RUnlock()

	var err error
	for _, sub := range subs {
		if herr := sub.handler(ctx, ev); herr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", sub.name, herr))
		}
	}
	if err != nil {
		b.log.Warn("subscriber failures", zap.String("kind", string(ev.Kind)), zap.String("entity_id", ev.EntityID), zap.Error(err))
	}
	return err
}
