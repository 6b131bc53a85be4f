// Package app assembles the gateway's HTTP surface.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/search-gateway/internal/adapter/httpserver"
	"github.com/fairyhunter13/search-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/search-gateway/internal/config"
	"github.com/fairyhunter13/search-gateway/internal/domain"
	"github.com/fairyhunter13/search-gateway/internal/usecase"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// Deadlines reports the retry budget of an upstream endpoint.
type Deadlines interface {
	Deadline(endpoint string) time.Duration
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// Operational routes are matched first; every other path goes to the gateway.
// A gateway request may run for its endpoint's full retry budget from
// deadlines, never less than cfg.RequestTimeout.
func BuildRouter(cfg config.Config, gw http.Handler, deadlines Deadlines, health usecase.HealthService, ready []usecase.HealthCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// Preflights pass through so the gateway answers them with its fixed headers.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type", "Authorization", "X-Requested-With", "X-Request-Id"},
		ExposedHeaders:     []string{"X-Request-Id"},
		AllowCredentials:   false,
		MaxAge:             86400,
		OptionsPassthrough: true,
	}))
	r.MethodNotAllowed(httpserver.MethodNotAllowed)

	r.Group(func(op chi.Router) {
		op.Use(httpserver.DeadlineMiddleware(httpserver.FixedDeadline(cfg.RequestTimeout)))
		op.Get("/healthz", httpserver.Healthz)
		op.Get("/readyz", httpserver.ReadyzHandler(ready...))
		op.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
		op.Get("/api-health", httpserver.HealthHandler(health))
	})

	r.Group(func(gr chi.Router) {
		gr.Use(httpserver.DeadlineMiddleware(gatewayDeadline(cfg, deadlines)))
		gr.Use(addressLimit(cfg))
		gr.Handle("/*", gw)
	})

	return httpserver.SecurityHeaders(r)
}

func gatewayDeadline(cfg config.Config, deadlines Deadlines) func(*http.Request) time.Duration {
	return func(r *http.Request) time.Duration {
		if deadlines == nil {
			return cfg.RequestTimeout
		}
		ep, _ := httpserver.ResolveEndpoint(r.URL.Path, r.URL.Query(), cfg.EndpointMarker, cfg.DefaultEndpoint)
		return max(cfg.RequestTimeout, deadlines.Deadline(ep))
	}
}

// addressLimit is a coarse per-IP flood guard. Preflights are always answered,
// and chat is left to the per-conversation limiter, which admits declared
// retries and reports retry_after.
func addressLimit(cfg config.Config) func(http.Handler) http.Handler {
	if cfg.RateLimitPerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limit := httprate.Limit(cfg.RateLimitPerMin, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(httpserver.TooManyRequests))
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if ep, _ := httpserver.ResolveEndpoint(r.URL.Path, r.URL.Query(), cfg.EndpointMarker, cfg.DefaultEndpoint); ep == domain.EndpointChat {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}
