package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fairyhunter13/search-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/search-gateway/internal/observability"
)

// Health statuses.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDown     = "down"
	HealthError    = "error"
)

const upstreamHealthTimeout = 5 * time.Second

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// TargetHealth is the probe result for one target.
type TargetHealth struct {
	Status         string `json:"status"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// HealthReport aggregates all targets.
type HealthReport struct {
	Timestamp     time.Time               `json:"timestamp"`
	OverallStatus string                  `json:"overall_status"`
	Endpoints     map[string]TargetHealth `json:"endpoints"`
}

// HealthService probes the upstream API and the configured backing stores.
type HealthService struct {
	Checks []HealthCheck
}

// NewHealthService builds a HealthService that always probes the upstream
// health endpoint first.
func NewHealthService(up domain.Upstream, extra ...HealthCheck) HealthService {
	checks := []HealthCheck{{Name: "upstream", Check: UpstreamHealthCheck(up)}}
	return HealthService{Checks: append(checks, extra...)}
}

// UpstreamHealthCheck calls GET /api/health once and expects a 2xx answer.
func UpstreamHealthCheck(up domain.Upstream) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx = obsctx.WithLogAttrs(ctx, slog.String("endpoint", domain.EndpointHealth))
		res := up.Do(ctx, domain.UpstreamCall{
			Endpoint: domain.EndpointHealth,
			Method:   http.MethodGet,
			Timeout:  upstreamHealthTimeout,
		})
		if res.Err != nil {
			return res.Err
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return fmt.Errorf("%w: status %d", domain.ErrMalformedUpstream, res.StatusCode)
		}
		return nil
	}
}

// Probe runs every check concurrently.
func (s HealthService) Probe(ctx context.Context) HealthReport {
	rep := HealthReport{Timestamp: time.Now().UTC(), Endpoints: make(map[string]TargetHealth, len(s.Checks))}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range s.Checks {
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)
			th := TargetHealth{Status: HealthOK, ResponseTimeMS: time.Since(start).Milliseconds()}
			if err != nil {
				th.Status = HealthError
				th.Error = err.Error()
			}
			mu.Lock()
			rep.Endpoints[c.Name] = th
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	ok := 0
	for _, th := range rep.Endpoints {
		if th.Status == HealthOK {
			ok++
		}
	}
	switch {
	case ok == len(rep.Endpoints):
		rep.OverallStatus = HealthOK
	case ok > 0:
		rep.OverallStatus = HealthDegraded
	default:
		rep.OverallStatus = HealthDown
	}
	return rep
}

// Status maps the overall status to an HTTP status code.
func (r HealthReport) Status() int {
	if r.OverallStatus == HealthDown {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
