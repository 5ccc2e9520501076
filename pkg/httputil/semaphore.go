package httputil

import (
	"context"
	"sync/atomic"
)

// Semaphore bounds in-flight analysis runs. The orchestrator acquires a
// slot before the pipeline starts and releases it when the assessment is
// done, so a burst of intakes queues at the gate instead of fanning out
// unbounded provider calls. Stats feeds the health endpoint.
type Semaphore struct {
	slots   chan struct{}
	dropped atomic.Int64
}

// NewSemaphore creates a gate of the given width. Zero or negative falls
// back to 32, the default analysis concurrency.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 32
	}
	return &Semaphore{
		slots: make(chan struct{}, capacity),
	}
}

// Acquire blocks until a slot frees or ctx is cancelled. The intake path
// uses this: a submission waits its turn rather than being shed.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without blocking; a false return counts toward
// Dropped. For callers that prefer shedding over queueing.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Release frees a slot. Pair with every successful Acquire or TryAcquire.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
		// Unpaired release; swallow rather than deadlock.
	}
}

// DroppedCount returns how many non-blocking acquires were shed.
func (s *Semaphore) DroppedCount() int64 {
	return s.dropped.Load()
}

// InUse returns the number of analyses currently holding a slot.
func (s *Semaphore) InUse() int {
	return len(s.slots)
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	return cap(s.slots) - len(s.slots)
}

// Stats snapshots the gate for the health endpoint.
func (s *Semaphore) Stats() SemaphoreStats {
	return SemaphoreStats{
		Capacity:  cap(s.slots),
		InUse:     len(s.slots),
		Available: cap(s.slots) - len(s.slots),
		Dropped:   s.dropped.Load(),
	}
}

// SemaphoreStats is the gate snapshot served under the health endpoint's
// "gate" key.
type SemaphoreStats struct {
	Capacity  int   `json:"capacity"`
	InUse     int   `json:"in_use"`
	Available int   `json:"available"`
	Dropped   int64 `json:"dropped"`
}
