package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/search-gateway/internal/domain"
)

const defaultRedisPrefix = "dedup:"

// RedisCache shares the dedup cache between gateway replicas. Entries live
// under "<prefix>entry:<key>" and insertion order is tracked in a sorted set
// scored by a monotonic sequence, so eviction matches MemoryCache.
type RedisCache struct {
	rdb      *redis.Client
	prefix   string
	capacity int
	ttl      time.Duration
	script   *redis.Script
	now      func() time.Time
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithRedisPrefix namespaces all keys written by the cache.
func WithRedisPrefix(p string) RedisCacheOption {
	return func(c *RedisCache) {
		if p != "" {
			c.prefix = p
		}
	}
}

// WithRedisTTL bounds how long an entry may outlive its eviction slot.
func WithRedisTTL(ttl time.Duration) RedisCacheOption {
	return func(c *RedisCache) { c.ttl = ttl }
}

// NewRedisCache returns a Redis-backed cache holding at most capacity entries.
func NewRedisCache(rdb *redis.Client, capacity int, opts ...RedisCacheOption) *RedisCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &RedisCache{
		rdb:      rdb,
		prefix:   defaultRedisPrefix,
		capacity: capacity,
		script:   redis.NewScript(luaStoreScript),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// KEYS[1] order zset, KEYS[2] sequence counter
// ARGV: entry prefix, key, payload, capacity, ttl ms (0 = none)
const luaStoreScript = `
local order = KEYS[1]
local seq = KEYS[2]
local prefix = ARGV[1]
local key = ARGV[2]
local payload = ARGV[3]
local capacity = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

if ttl > 0 then
  redis.call("SET", prefix .. key, payload, "PX", ARGV[5])
else
  redis.call("SET", prefix .. key, payload)
end
local n = redis.call("INCR", seq)
redis.call("ZADD", order, n, key)

local size = redis.call("ZCARD", order)
local evicted = 0
if size > capacity then
  local old = redis.call("ZRANGE", order, 0, size - capacity - 1)
  for _, k in ipairs(old) do
    redis.call("DEL", prefix .. k)
    redis.call("ZREM", order, k)
    evicted = evicted + 1
  end
end
return evicted
`

func (c *RedisCache) entryPrefix() string { return c.prefix + "entry:" }
func (c *RedisCache) orderKey() string    { return c.prefix + "order" }
func (c *RedisCache) seqKey() string      { return c.prefix + "seq" }

// Lookup returns the entry stored under key, if any.
func (c *RedisCache) Lookup(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	raw, err := c.rdb.Get(ctx, c.entryPrefix()+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("op=dedup.RedisCache.Lookup: %w", err)
	}
	var e domain.CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("op=dedup.RedisCache.Lookup: %w", err)
	}
	return e, true, nil
}

// Store writes an entry and trims the oldest entries beyond capacity in one
// atomic script.
func (c *RedisCache) Store(ctx context.Context, e domain.CacheEntry) error {
	if e.Key == "" {
		return domain.ErrInvalidArgument
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("op=dedup.RedisCache.Store: %w", err)
	}
	evicted, err := c.script.Run(ctx, c.rdb,
		[]string{c.orderKey(), c.seqKey()},
		c.entryPrefix(), e.Key, payload, c.capacity, c.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("op=dedup.RedisCache.Store: %w", err)
	}
	if evicted > 0 {
		slog.Debug("dedup entries evicted", slog.Int64("count", evicted))
	}
	return nil
}

// Len reports the number of tracked entries.
func (c *RedisCache) Len(ctx context.Context) (int64, error) {
	n, err := c.rdb.ZCard(ctx, c.orderKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("op=dedup.RedisCache.Len: %w", err)
	}
	return n, nil
}
