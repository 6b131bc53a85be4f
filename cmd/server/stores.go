package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/search-gateway/internal/adapter/dedup"
	"github.com/fairyhunter13/search-gateway/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/search-gateway/internal/adapter/repo/filestore"
	"github.com/fairyhunter13/search-gateway/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/search-gateway/internal/app"
	"github.com/fairyhunter13/search-gateway/internal/config"
	"github.com/fairyhunter13/search-gateway/internal/domain"
	"github.com/fairyhunter13/search-gateway/internal/service/ratelimiter"
)

// stores holds the state backends selected by configuration.
type stores struct {
	cache     domain.DedupCache
	limiter   domain.RateLimiter
	keyFunc   func([]byte) string
	votes     domain.VoteRepository
	publisher domain.VoteEventPublisher

	rdb    *redis.Client
	pool   *pgxpool.Pool
	closer []func()
}

func (s *stores) pinger() app.Pinger {
	if s.pool == nil {
		return nil
	}
	return s.pool
}

// Close releases connections in reverse order of creation.
func (s *stores) Close() {
	for i := len(s.closer) - 1; i >= 0; i-- {
		s.closer[i]()
	}
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	st := &stores{keyFunc: dedup.Key}
	intervals := ratelimiter.Intervals{
		FirstMessage: cfg.RateFirstMessageInterval,
		FollowUp:     cfg.RateFollowupInterval,
	}

	if cfg.UsesRedis() {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("op=server.openStores: %w", err)
		}
		st.rdb = redis.NewClient(opt)
		st.closer = append(st.closer, func() { _ = st.rdb.Close() })
		st.cache = dedup.NewRedisCache(st.rdb, cfg.DedupCapacity, dedup.WithRedisTTL(cfg.DedupTTL))
		st.limiter = ratelimiter.NewRedisIntervalLimiter(st.rdb, intervals, cfg.RateStateTTL)
	} else {
		st.cache = dedup.NewMemoryCache(cfg.DedupCapacity)
		st.limiter = ratelimiter.NewIntervalLimiter(intervals, cfg.RateStateCapacity)
	}

	if cfg.UsesPostgresVotes() {
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("op=server.openStores: %w", err)
		}
		st.pool = pool
		st.closer = append(st.closer, pool.Close)
		repo := postgres.NewVotesRepo(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("op=server.openStores: %w", err)
		}
		st.votes = repo
	} else {
		fs, err := filestore.NewVoteStore(cfg.VotesDir)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("op=server.openStores: %w", err)
		}
		st.votes = fs
	}

	if cfg.PublishesVotes() {
		pub, err := redpanda.NewVotePublisher(ctx, cfg.KafkaBrokers, cfg.VoteTopic)
		if err != nil {
			// Votes are still persisted; events are best effort.
			slog.Warn("vote publisher disabled", slog.Any("error", err))
		} else {
			st.publisher = pub
			st.closer = append(st.closer, pub.Close)
		}
	}
	return st, nil
}
