package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60, 120},
		},
		[]string{"route", "method"},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_requests_total",
			Help: "Upstream attempts by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)
	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_upstream_request_duration_seconds",
			Help:    "Upstream attempt duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"endpoint"},
	)
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Upstream retries scheduled by endpoint",
		},
		[]string{"endpoint"},
	)
	RetryOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_retry_outcomes_total",
			Help: "Terminal states of upstream retry sequences",
		},
		[]string{"endpoint", "state"},
	)
	KnownDefectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_known_defects_total",
			Help: "Upstream responses carrying the known serialization defect",
		},
		[]string{"endpoint"},
	)
	DedupHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_dedup_hits_total",
			Help: "Chat requests answered from the dedup cache",
		},
	)
	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Chat requests rejected by the per-conversation interval",
		},
	)
	RateLimitBypassTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_bypass_total",
			Help: "Retry attempts admitted inside the interval",
		},
	)
	VotesRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_votes_recorded_total",
			Help: "Votes persisted by result",
		},
		[]string{"result"},
	)
)

var initOnce sync.Once

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(UpstreamRequestsTotal)
		prometheus.MustRegister(UpstreamRequestDuration)
		prometheus.MustRegister(RetriesTotal)
		prometheus.MustRegister(RetryOutcomesTotal)
		prometheus.MustRegister(KnownDefectsTotal)
		prometheus.MustRegister(DedupHitsTotal)
		prometheus.MustRegister(RateLimitedTotal)
		prometheus.MustRegister(RateLimitBypassTotal)
		prometheus.MustRegister(VotesRecordedTotal)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveUpstreamAttempt records one upstream attempt.
func ObserveUpstreamAttempt(endpoint, outcome string, d time.Duration) {
	UpstreamRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	UpstreamRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveRetry records a scheduled retry.
func ObserveRetry(endpoint string) { RetriesTotal.WithLabelValues(endpoint).Inc() }

// ObserveRetryOutcome records the terminal state of a retry sequence.
func ObserveRetryOutcome(endpoint, state string) {
	RetryOutcomesTotal.WithLabelValues(endpoint, state).Inc()
	if state == "known_defect" {
		KnownDefectsTotal.WithLabelValues(endpoint).Inc()
	}
}

// ObserveDedupHit records a cache replay.
func ObserveDedupHit() { DedupHitsTotal.Inc() }

// ObserveRateDecision records a rate limiter verdict.
func ObserveRateDecision(allowed, bypassed bool) {
	switch {
	case !allowed:
		RateLimitedTotal.Inc()
	case bypassed:
		RateLimitBypassTotal.Inc()
	}
}

// ObserveVote records a vote persistence result ("ok" or "error").
func ObserveVote(result string) { VotesRecordedTotal.WithLabelValues(result).Inc() }
