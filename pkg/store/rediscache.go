package store

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "palisade:fp:"

// RedisDupeCache shares the fingerprint dupe cache across gateway
// instances. Cache errors degrade to a miss; the SQLite fingerprint table
// remains authoritative.
type RedisDupeCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDupeCache connects to addr. Liveness is probed lazily; a dead
// Redis just means every lookup misses.
func NewRedisDupeCache(addr string, ttl time.Duration) *RedisDupeCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisDupeCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// Mark records the normalized hash with the cache TTL.
func (c *RedisDupeCache) Mark(ctx context.Context, normalizedHash, intakeID string) {
	if err := c.client.Set(ctx, redisKeyPrefix+normalizedHash, intakeID, c.ttl).Err(); err != nil {
		log.Printf("[WARN] Redis dupe cache set failed: %v", err)
	}
}

// Lookup returns the cached intake id for the hash, or a miss on any error.
func (c *RedisDupeCache) Lookup(ctx context.Context, normalizedHash string) (string, bool) {
	val, err := c.client.Get(ctx, redisKeyPrefix+normalizedHash).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[WARN] Redis dupe cache get failed: %v", err)
		}
		return "", false
	}
	return val, true
}

// Close releases the Redis connection.
func (c *RedisDupeCache) Close() error {
	return c.client.Close()
}
