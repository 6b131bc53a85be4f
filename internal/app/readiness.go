package app

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/search-gateway/internal/config"
	"github.com/fairyhunter13/search-gateway/internal/usecase"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPingResult is the minimal return type of a Redis client's Ping.
type RedisPingResult interface{ Err() error }

// RedisClient is the minimal interface for a Redis client needed for readiness.
type RedisClient interface {
	Ping(ctx context.Context) RedisPingResult
}

type redisAdapter struct{ c *redis.Client }

func (a redisAdapter) Ping(ctx context.Context) RedisPingResult { return a.c.Ping(ctx) }

// RedisPinger adapts a go-redis client. A nil client yields nil.
func RedisPinger(c *redis.Client) RedisClient {
	if c == nil {
		return nil
	}
	return redisAdapter{c: c}
}

// BuildReadinessChecks returns one check per store the configuration selects:
// redis for shared dedup and rate state, postgres or the votes directory for
// votes.
func BuildReadinessChecks(cfg config.Config, pool Pinger, rdb RedisClient) []usecase.HealthCheck {
	var checks []usecase.HealthCheck
	if cfg.UsesRedis() {
		checks = append(checks, usecase.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			if rdb == nil {
				return fmt.Errorf("redis not configured")
			}
			return rdb.Ping(ctx).Err()
		}})
	}
	if cfg.UsesPostgresVotes() {
		checks = append(checks, usecase.HealthCheck{Name: "postgres", Check: func(ctx context.Context) error {
			if pool == nil {
				return fmt.Errorf("db not configured")
			}
			return pool.Ping(ctx)
		}})
	} else {
		checks = append(checks, usecase.HealthCheck{Name: "votes_dir", Check: func(context.Context) error {
			st, err := os.Stat(cfg.VotesDir)
			if err != nil {
				return err
			}
			if !st.IsDir() {
				return fmt.Errorf("%s is not a directory", cfg.VotesDir)
			}
			return nil
		}})
	}
	return checks
}
