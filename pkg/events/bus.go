// Package events implements the completion-event broadcast bus. Each
// subscriber owns a bounded FIFO queue; under overflow the oldest pending
// event for that subscriber is dropped so the newest always lands.
// Broadcast never blocks and never fails because of a slow subscriber.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event is one pipeline completion notice. Ephemeral: delivered at most
// once per subscriber, never persisted.
type Event struct {
	Type           string    `json:"type"`
	IntakeID       string    `json:"intake_id"`
	Score          float64   `json:"score"`
	Classification string    `json:"classification"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// Subscriber is one live listener. Read events from C; the channel closes
// on Unsubscribe.
type Subscriber struct {
	ID string
	C  <-chan Event

	ch chan Event
}

// Bus fans completion events out to all current subscribers.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]*Subscriber
	capacity int
	dropped  atomic.Int64
}

// NewBus creates a bus whose subscribers each get a queue of the given
// capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{
		subs:     make(map[string]*Subscriber),
		capacity: capacity,
	}
}

// Subscribe registers a new listener and returns its queue handle.
func (b *Bus) Subscribe() *Subscriber {
	ch := make(chan Event, b.capacity)
	sub := &Subscriber{
		ID: uuid.NewString(),
		C:  ch,
		ch: ch,
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a listener and closes its channel. Idempotent; safe
// to call while a broadcast is in flight.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	// Sends only happen under the read lock, so closing under the write
	// lock cannot race a send.
	close(sub.ch)
}

// Publish delivers the event to every current subscriber. A full queue
// sheds its oldest pending event and takes the new one; last-event-wins
// under sustained load, per subscriber, never globally.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		select {
		case <-sub.ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			// Lost the race with a concurrent publisher refilling the
			// queue; this event is shed instead.
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the total number of events shed across all subscribers.
// Useful for monitoring backpressure.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
