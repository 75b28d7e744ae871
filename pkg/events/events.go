// Package events carries post-mutation notifications between the hierarchy
// tools and interested observers.
//
// Add and update events fire after the owning transaction committed. Remove
// events fire before the transaction opens, so an observer can inspect the
// fully formed entity; the transaction may still roll back afterwards, in
// which case the observer has seen a removal that never happened. Observers
// that must only act on committed state should ignore remove events.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event
type Type string

const (
	TypeRoleAdded    Type = "role.added"
	TypeRoleUpdated  Type = "role.updated"
	TypeRoleRemoved  Type = "role.removed"
	TypeGroupAdded   Type = "group.added"
	TypeGroupUpdated Type = "group.updated"
	TypeGroupRemoved Type = "group.removed"
	TypeUserAdded    Type = "user.added"
	TypeUserUpdated  Type = "user.updated"
	TypeUserRemoved  Type = "user.removed"
)

// Event is a single logical change notification
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// New creates an event with a fresh ID and the current timestamp
func New(t Type, data map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Notifier receives events emitted by the tools
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Nop is a Notifier that discards all events
type Nop struct{}

// Notify implements Notifier
func (Nop) Notify(ctx context.Context, event Event) {}

// Bus fans events out to every subscribed notifier in subscription order
type Bus struct {
	mu   sync.RWMutex
	subs []Notifier
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a notifier. Subscribers are never removed; the bus
// lives as long as the process.
func (b *Bus) Subscribe(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, n)
}

// Notify implements Notifier
func (b *Bus) Notify(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]Notifier, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.Notify(ctx, event)
	}
}

// Recorder is a Notifier that remembers every event it saw, for tests
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify implements Notifier
func (r *Recorder) Notify(ctx context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events in arrival order
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns the recorded events matching t
func (r *Recorder) ByType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
