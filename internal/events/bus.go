// Package events carries notifications from the inbox core to whoever
// renders it.
package events

import (
	"sync"

	"github.com/nhle/support-inbox/internal/model"
)

// Event is implemented by every message published on the Bus.
type Event interface {
	event()
}

// IngestionCompleted is published after each fetch cycle of one mailbox,
// successful or not. On failure Err is set and the mailbox keeps its
// previous (stale) records.
type IngestionCompleted struct {
	MailboxID string
	Count     int
	NewIDs    []string
	Err       error
}

// Outcome says how a status transition settled.
type Outcome string

const (
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeRolledBack Outcome = "rolled-back"
)

// StatusSettled is published when a status transition is confirmed by the
// backend or rolled back.
type StatusSettled struct {
	MessageID string
	Status    model.Status
	Label     model.Label
	Outcome   Outcome
	Err       error
}

func (IngestionCompleted) event() {}
func (StatusSettled) event()      {}

// subscriberBuffer bounds how far a slow subscriber may lag before events
// are dropped for it.
const subscriberBuffer = 32

// Bus fans events out to subscribers. Publish never blocks.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber that has room for it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
