package ratelimiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/search-gateway/internal/domain"
)

// RedisIntervalLimiter keeps rate state in Redis so that replicas share it.
// The check and the update run in a single Lua script.
type RedisIntervalLimiter struct {
	redis     *redis.Client
	intervals Intervals
	ttl       time.Duration
	prefix    string
	script    *redis.Script
}

// NewRedisIntervalLimiter returns nil when rdb is nil.
func NewRedisIntervalLimiter(rdb *redis.Client, iv Intervals, ttl time.Duration) *RedisIntervalLimiter {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisIntervalLimiter{
		redis:     rdb,
		intervals: iv,
		ttl:       ttl,
		prefix:    "rate:conv:",
		script:    redis.NewScript(luaIntervalScript),
	}
}

// Times are unix milliseconds. Returns {allowed, bypassed, elapsed_ms, retry_after_ms}.
// elapsed_ms is -1 when the identity has no state.
const luaIntervalScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local min_interval = tonumber(ARGV[2])
local attempt = tonumber(ARGV[3])

local elapsed = -1
local bypassed = 0
local last = redis.call("GET", key)
if last then
  elapsed = now - tonumber(last)
  if elapsed < 0 then
    elapsed = 0
  end
  if elapsed < min_interval then
    if attempt <= 1 then
      return { 0, 0, elapsed, min_interval - elapsed }
    end
    bypassed = 1
  end
end

redis.call("SET", key, ARGV[1], "PX", ARGV[4])
return { 1, bypassed, elapsed, 0 }
`

// Admit decides whether identity may proceed and records now on admission.
// Redis errors fail open, as a rejected chat is worse than a missed interval.
func (l *RedisIntervalLimiter) Admit(ctx context.Context, identity string, attempt int, isFirstMessage bool, now time.Time) (domain.RateDecision, error) {
	if l == nil || l.redis == nil {
		return domain.RateDecision{Allowed: true}, nil
	}
	minInterval := l.intervals.For(isFirstMessage)
	res, err := l.script.Run(ctx, l.redis, []string{l.prefix + identity},
		now.UnixMilli(), minInterval.Milliseconds(), attempt, l.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		slog.Error("redis interval limiter script error", slog.String("identity", identity), slog.Any("error", err))
		return domain.RateDecision{Allowed: true}, err
	}
	if len(res) < 4 {
		slog.Error("redis interval limiter unexpected script result", slog.String("identity", identity), slog.Any("result", res))
		return domain.RateDecision{Allowed: true}, nil
	}
	d := domain.RateDecision{
		Allowed:    res[0] == 1,
		Bypassed:   res[1] == 1,
		RetryAfter: time.Duration(res[3]) * time.Millisecond,
	}
	if res[2] > 0 {
		d.Elapsed = time.Duration(res[2]) * time.Millisecond
	}
	return d, nil
}
