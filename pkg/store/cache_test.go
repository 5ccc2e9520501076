package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryDupeCache(t *testing.T) {
	cache := NewMemoryDupeCache(time.Minute)
	ctx := context.Background()

	if _, ok := cache.Lookup(ctx, "h1"); ok {
		t.Error("empty cache should miss")
	}

	cache.Mark(ctx, "h1", "intake-1")
	got, ok := cache.Lookup(ctx, "h1")
	if !ok || got != "intake-1" {
		t.Errorf("Lookup = (%q, %v), want (intake-1, true)", got, ok)
	}

	// Re-marking the same hash keeps the most recent intake.
	cache.Mark(ctx, "h1", "intake-2")
	if got, _ := cache.Lookup(ctx, "h1"); got != "intake-2" {
		t.Errorf("Lookup after re-mark = %q, want intake-2", got)
	}

	if _, ok := cache.Lookup(ctx, "h2"); ok {
		t.Error("unmarked hash should miss")
	}
}

func TestMemoryDupeCache_Expiry(t *testing.T) {
	cache := NewMemoryDupeCache(10 * time.Millisecond)
	ctx := context.Background()

	cache.Mark(ctx, "h1", "intake-1")
	time.Sleep(30 * time.Millisecond)
	if _, ok := cache.Lookup(ctx, "h1"); ok {
		t.Error("entry should expire after the TTL")
	}
}

func TestRedisDupeCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewRedisDupeCache(mr.Addr(), time.Hour)
	defer cache.Close()
	ctx := context.Background()

	if _, ok := cache.Lookup(ctx, "h1"); ok {
		t.Error("empty cache should miss")
	}

	cache.Mark(ctx, "h1", "intake-1")
	got, ok := cache.Lookup(ctx, "h1")
	if !ok || got != "intake-1" {
		t.Errorf("Lookup = (%q, %v), want (intake-1, true)", got, ok)
	}

	// Keys are namespaced so other gateway data cannot collide.
	if !mr.Exists("palisade:fp:h1") {
		t.Error("expected the namespaced key in Redis")
	}

	mr.FastForward(2 * time.Hour)
	if _, ok := cache.Lookup(ctx, "h1"); ok {
		t.Error("entry should expire after the TTL")
	}
}

func TestRedisDupeCache_DeadServerDegradesToMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewRedisDupeCache(mr.Addr(), time.Hour)
	defer cache.Close()
	ctx := context.Background()

	cache.Mark(ctx, "h1", "intake-1")
	mr.Close()

	// Neither call panics or errors out to the caller; lookups just miss.
	cache.Mark(ctx, "h2", "intake-2")
	if _, ok := cache.Lookup(ctx, "h1"); ok {
		t.Error("dead Redis should degrade to a miss")
	}
}
