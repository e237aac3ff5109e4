package promptcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisMirror is an optional, strictly additive distributed mirror of
// cached prompt text, grounded on the teacher's
// internal/skills/redis_cache.go (redis.UniversalClient, Ping-on-
// construct, best-effort Get/Set that never surfaces an error to the
// caller, Debug-level log-and-continue on failure). It exists so a
// second cortexd process sharing the same Redis instance can skip
// re-assembling a prompt another process already cached; the
// in-process Cache remains the source of truth for eviction/stats
// (spec.md §4.10's documented single-mutex contract), so RedisMirror
// is consulted only as a warm-start hint and is never required for
// correctness.
type RedisMirror struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisMirror connects to addr and pings it once; callers should
// treat a non-nil error as "run without the mirror", not a fatal
// startup condition, since CacheConfig.Backend == "redis" is an
// additive enhancement, never a requirement.
func NewRedisMirror(ctx context.Context, addr string, ttl time.Duration) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("prompt cache redis mirror ping: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisMirror{client: client, ttl: ttl}, nil
}

func mirrorKey(hash string) string {
	return "promptcache:" + hash
}

// Get returns the mirrored prompt text for hash, if present.
func (m *RedisMirror) Get(ctx context.Context, hash string) (string, bool) {
	if m == nil || m.client == nil {
		return "", false
	}
	val, err := m.client.Get(ctx, mirrorKey(hash)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("hash", hash).Msg("promptcache_redis_mirror_get_error")
		}
		return "", false
	}
	return val, true
}

// Set mirrors prompt under hash with the mirror's configured TTL.
// Failures are logged at debug level and otherwise ignored: a miss on
// the mirror just means the next Cache.Put recomputes the entry
// in-process, which is always correct, only slower.
func (m *RedisMirror) Set(ctx context.Context, hash, prompt string) {
	if m == nil || m.client == nil {
		return
	}
	if err := m.client.Set(ctx, mirrorKey(hash), prompt, m.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("hash", hash).Msg("promptcache_redis_mirror_set_error")
	}
}

// Close releases the underlying Redis client.
func (m *RedisMirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// WithRedisMirror attaches mirror to c: every future Put also mirrors
// the full prompt text to Redis, and Get consults the mirror on an
// in-process miss, repopulating the in-process entry (without
// restoring access-count history, which the mirror does not carry).
func (c *Cache) WithRedisMirror(mirror *RedisMirror) *Cache {
	c.mirror = mirror
	return c
}
