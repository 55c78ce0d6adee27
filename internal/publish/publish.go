// Package publish notifies observers about local entity changes.
//
// The engine emits one event per visible row it touches: after a
// transaction's optimistic step, after its compensating step (didFail or
// rollback), and after the reconciler applies an authoritative delta.
// Events are emitted only after the store write that caused them commits.
package publish

import (
	"log/slog"
	"sync"

	"github.com/roach88/inflight/internal/model"
)

// Change is the kind of entity notification.
type Change string

const (
	Added   Change = "added"
	Updated Change = "updated"
	Deleted Change = "deleted"
)

// Origin names the engine step that produced a change.
type Origin string

const (
	OriginOptimistic Origin = "optimistic"
	OriginSucceeded  Origin = "succeeded"
	OriginFailed     Origin = "failed"
	OriginRollback   Origin = "rollback"
	OriginReconcile  Origin = "reconcile"
)

// Context describes why an entity changed.
type Context struct {
	// TxID is the transaction responsible for the change. Empty for deltas
	// that arrived on the push stream.
	TxID   string `json:"tx_id,omitempty"`
	Origin Origin `json:"origin"`
}

// Event is a single entity notification.
type Event struct {
	Change  Change          `json:"change"`
	Ref     model.EntityRef `json:"ref"`
	Context Context         `json:"context"`
}

// Publisher is the observer-facing notification surface.
// Implementations must not block the caller.
type Publisher interface {
	EntityAdded(ref model.EntityRef, pc Context)
	EntityUpdated(ref model.EntityRef, pc Context)
	EntityDeleted(ref model.EntityRef, pc Context)
}

// Emit dispatches ev to the matching Publisher method.
func Emit(p Publisher, ev Event) {
	switch ev.Change {
	case Added:
		p.EntityAdded(ev.Ref, ev.Context)
	case Updated:
		p.EntityUpdated(ev.Ref, ev.Context)
	case Deleted:
		p.EntityDeleted(ev.Ref, ev.Context)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) EntityAdded(model.EntityRef, Context)   {}
func (Nop) EntityUpdated(model.EntityRef, Context) {}
func (Nop) EntityDeleted(model.EntityRef, Context) {}

// Broadcaster fans events out to any number of subscribers.
// A subscriber whose buffer is full misses the event; the drop is logged.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger *slog.Logger
}

// NewBroadcaster creates a Broadcaster. A nil logger means slog.Default().
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Subscribe registers a subscriber with the given buffer size and returns its
// channel together with a function that unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Broadcaster) EntityAdded(ref model.EntityRef, pc Context) {
	b.publish(Event{Change: Added, Ref: ref, Context: pc})
}

func (b *Broadcaster) EntityUpdated(ref model.EntityRef, pc Context) {
	b.publish(Event{Change: Updated, Ref: ref, Context: pc})
}

func (b *Broadcaster) EntityDeleted(ref model.EntityRef, pc Context) {
	b.publish(Event{Change: Deleted, Ref: ref, Context: pc})
}

func (b *Broadcaster) publish(ev Event) {
	// Hold the read lock while sending so cancel cannot close a channel
	// mid-send. Sends never block.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"change", ev.Change,
				"ref", ev.Ref.String(),
				"tx_id", ev.Context.TxID,
			)
		}
	}
}
