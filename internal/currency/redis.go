package currency

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	redis "github.com/go-redis/redis/v8"
)

// RedisCache implements the Cache interface on redis, letting multiple
// engine processes share fetched rates. Entries carry a TTL so stale
// rates age out even if a process crashes mid-refresh.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a redis-backed rate cache from an existing
// client. The caller owns the client's lifecycle.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func redisKey(from, to string) string {
	return "rate:" + from + ":" + to
}

// Get returns the cached rate for the pair, or misses on any redis or
// decode error; the cache is an optimization, never a failure source.
func (c *RedisCache) Get(ctx context.Context, from, to string) (Rate, bool) {
	val, err := c.client.Get(ctx, redisKey(from, to)).Result()
	if err == redis.Nil {
		return Rate{}, false
	}
	if err != nil {
		slog.Warn("redis rate cache read failed", "from", from, "to", to, "error", err)
		return Rate{}, false
	}

	var r Rate
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		slog.Warn("redis rate cache entry corrupt", "from", from, "to", to, "error", err)
		return Rate{}, false
	}
	if time.Now().After(r.ExpiresAt) {
		return Rate{}, false
	}
	return r, true
}

// Set stores the rate with a TTL matching its expiry.
func (c *RedisCache) Set(ctx context.Context, r Rate) {
	value, err := json.Marshal(r)
	if err != nil {
		slog.Warn("redis rate cache encode failed", "from", r.From, "to", r.To, "error", err)
		return
	}
	ttl := time.Until(r.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, redisKey(r.From, r.To), value, ttl).Err(); err != nil {
		slog.Warn("redis rate cache write failed", "from", r.From, "to", r.To, "error", err)
	}
}
