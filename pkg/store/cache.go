package store

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DupeCache fronts fingerprint lookups with a fast normalized-hash map:
// the pipeline marks each processed intake and checks new submissions so
// a known duplicate can be annotated without a database round trip.
// Cache misses fall through to the SQLite fingerprint table; the cache is
// an accelerator, never the source of truth.
type DupeCache interface {
	Mark(ctx context.Context, normalizedHash, intakeID string)
	Lookup(ctx context.Context, normalizedHash string) (intakeID string, ok bool)
}

// MemoryDupeCache keeps recent fingerprints in process memory with a TTL.
type MemoryDupeCache struct {
	cache *gocache.Cache
}

// NewMemoryDupeCache creates a cache whose entries expire after ttl.
func NewMemoryDupeCache(ttl time.Duration) *MemoryDupeCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryDupeCache{
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Mark records that an intake carried the given normalized hash.
func (c *MemoryDupeCache) Mark(_ context.Context, normalizedHash, intakeID string) {
	c.cache.Set(normalizedHash, intakeID, gocache.DefaultExpiration)
}

// Lookup returns the most recent intake id seen for the hash, if any.
func (c *MemoryDupeCache) Lookup(_ context.Context, normalizedHash string) (string, bool) {
	if v, found := c.cache.Get(normalizedHash); found {
		return v.(string), true
	}
	return "", false
}
