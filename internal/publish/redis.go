package publish

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedup backs the fingerprint dedup cache with Redis so multiple
// Publisher instances (one per ingestor replica) share a single dedup
// window, per SPEC_FULL.md's optional multi-instance deployment.
type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDedup wraps an existing Redis client. Callers toggle this vs.
// NewMemoryDedup based on the REDIS_ADDR environment variable, the same
// optional-backend pattern internal/data/cache/ttl.go uses.
func NewRedisDedup(client *redis.Client, ttl time.Duration) *RedisDedup {
	return &RedisDedup{client: client, ttl: ttl, prefix: "ingestor:dedup:"}
}

// SeenRecently checks for the fingerprint key without extending its TTL.
func (r *RedisDedup) SeenRecently(fingerprint string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	n, err := r.client.Exists(ctx, r.prefix+fingerprint).Result()
	if err != nil {
		return false // fail open: prefer a possible duplicate downstream over blocking publication
	}
	return n > 0
}

// Remember sets the fingerprint key with the dedup TTL.
func (r *RedisDedup) Remember(fingerprint string) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	r.client.Set(ctx, r.prefix+fingerprint, 1, r.ttl)
}

var _ DedupCache = (*RedisDedup)(nil)
