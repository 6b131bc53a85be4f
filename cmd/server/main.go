// Command server starts the search gateway HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/fairyhunter13/search-gateway/internal/adapter/httpserver"
	"github.com/fairyhunter13/search-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/search-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/search-gateway/internal/app"
	"github.com/fairyhunter13/search-gateway/internal/config"
	"github.com/fairyhunter13/search-gateway/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, upstream, dedup and limiter instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		slog.Error("store setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	client, err := upstream.NewClient(upstream.ClientConfigFrom(cfg))
	if err != nil {
		slog.Error("upstream client setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	policies := config.NewPolicyTable(cfg)
	if cfg.EndpointPolicyFile != "" {
		p, err := config.LoadEndpointPolicies(cfg.EndpointPolicyFile)
		if err != nil {
			slog.Error("endpoint policy load failed", slog.String("file", cfg.EndpointPolicyFile), slog.Any("error", err))
			os.Exit(1)
		}
		policies.Replace(p)
		if err := config.WatchEndpointPolicies(ctx, cfg.EndpointPolicyFile, policies); err != nil {
			slog.Warn("endpoint policy watcher disabled", slog.Any("error", err))
		}
	}
	retrier := upstream.NewRetrier(client, policies, cfg.GetRetryConfig())

	chat := usecase.NewChatService(st.cache, st.limiter, retrier, st.keyFunc)
	votes := usecase.NewVoteService(st.votes, st.publisher)
	search := usecase.NewSearchService(retrier)
	pass := usecase.NewPassthroughService(retrier)
	gw := httpserver.NewGateway(cfg, chat, votes, search, pass)

	ready := app.BuildReadinessChecks(cfg, st.pinger(), app.RedisPinger(st.rdb))
	health := usecase.NewHealthService(client, ready...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.BuildRouter(cfg, gw, policies, health, ready),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      max(cfg.HTTPWriteTimeout, policies.LongestDeadline()+config.DeadlineGrace),
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("upstream", cfg.UpstreamBaseURL),
			slog.String("state_backend", cfg.StateBackend),
			slog.String("vote_store", cfg.VoteStore))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		slog.Error("graceful shutdown failed", slog.Any("error", err))
	}
}
