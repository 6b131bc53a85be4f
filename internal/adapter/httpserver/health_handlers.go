package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/fairyhunter13/search-gateway/internal/usecase"
)

// HealthHandler serves the aggregated upstream and store probe.
func HealthHandler(svc usecase.HealthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		rep := svc.Probe(ctx)
		writeJSON(w, rep.Status(), rep)
	}
}

// ReadyzHandler reports whether the gateway's own stores respond.
func ReadyzHandler(checks ...usecase.HealthCheck) http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		out := make([]check, 0, len(checks))
		st := http.StatusOK
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				out = append(out, check{Name: c.Name, Details: err.Error()})
				st = http.StatusServiceUnavailable
				continue
			}
			out = append(out, check{Name: c.Name, OK: true})
		}
		writeJSON(w, st, map[string]any{"checks": out})
	}
}

// Healthz is the liveness probe.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
