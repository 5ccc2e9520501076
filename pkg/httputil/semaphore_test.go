package httputil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSemaphore_GateWidthNeverExceeded(t *testing.T) {
	const width = 4
	gate := NewSemaphore(width)

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gate.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			gate.Release()
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > width {
		t.Errorf("peak concurrent analyses = %d, want at most the gate width %d", got, width)
	}
	if got := gate.Stats().InUse; got != 0 {
		t.Errorf("in use after all releases = %d, want 0", got)
	}
}

func TestSemaphore_AcquireWaitsForRelease(t *testing.T) {
	gate := NewSemaphore(1)
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A queued submission gets through once the running analysis finishes.
	done := make(chan error, 1)
	go func() {
		done <- gate.Acquire(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("second acquire should block while the slot is held")
	case <-time.After(20 * time.Millisecond):
	}

	gate.Release()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("queued acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued acquire never woke after release")
	}
}

func TestSemaphore_AcquireHonorsContext(t *testing.T) {
	gate := NewSemaphore(1)
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := gate.Acquire(ctx); err != context.DeadlineExceeded {
		t.Errorf("err = %v, want DeadlineExceeded for a saturated gate", err)
	}

	// The failed acquire must not have consumed the slot.
	gate.Release()
	if err := gate.Acquire(context.Background()); err != nil {
		t.Errorf("gate should have exactly one free slot again: %v", err)
	}
}

func TestSemaphore_TryAcquireShedsAndCounts(t *testing.T) {
	gate := NewSemaphore(2)
	if !gate.TryAcquire() || !gate.TryAcquire() {
		t.Fatal("a fresh gate should hand out its slots")
	}
	for range 3 {
		if gate.TryAcquire() {
			t.Error("saturated gate should shed non-blocking acquires")
		}
	}
	if got := gate.DroppedCount(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}

	gate.Release()
	if !gate.TryAcquire() {
		t.Error("a released slot should be acquirable again")
	}
}

func TestSemaphore_StatsSnapshot(t *testing.T) {
	gate := NewSemaphore(8)
	gate.TryAcquire()
	gate.TryAcquire()
	gate.TryAcquire()

	// The health endpoint serves this snapshot verbatim.
	stats := gate.Stats()
	if stats.Capacity != 8 || stats.InUse != 3 || stats.Available != 5 {
		t.Errorf("stats = %+v, want capacity 8, in use 3, available 5", stats)
	}
	if stats.Dropped != 0 {
		t.Errorf("dropped = %d, want 0 before any shed", stats.Dropped)
	}
	if gate.InUse() != stats.InUse || gate.Available() != stats.Available {
		t.Error("accessors and snapshot disagree")
	}
}

func TestSemaphore_UnpairedReleaseIsHarmless(t *testing.T) {
	gate := NewSemaphore(2)
	gate.Release() // nothing held; must not underflow or block

	if !gate.TryAcquire() || !gate.TryAcquire() {
		t.Error("capacity should be unchanged after a stray release")
	}
	if gate.TryAcquire() {
		t.Error("stray release must not mint an extra slot")
	}
}

func TestNewSemaphore_DefaultWidth(t *testing.T) {
	for _, capacity := range []int{0, -3} {
		gate := NewSemaphore(capacity)
		if got := gate.Stats().Capacity; got != 32 {
			t.Errorf("NewSemaphore(%d) capacity = %d, want the default 32", capacity, got)
		}
	}
}
