// Package httpserver contains the gateway's HTTP handler and middleware.
//
// Every response leaving this package is a JSON document: either the upstream
// body verbatim or the gateway's {success, message, error} envelope.
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	obsctx "github.com/fairyhunter13/search-gateway/internal/observability"
	"github.com/fairyhunter13/search-gateway/internal/usecase"
)

const jsonContentType = "application/json; charset=utf-8"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeReply(w http.ResponseWriter, rep usecase.Reply) {
	status := rep.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_, _ = w.Write(rep.Body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	rep := usecase.ErrorReply(err)
	if rep.Status >= http.StatusInternalServerError {
		obsctx.LoggerFromContext(r.Context()).Error("request failed", slog.Any("error", err))
	}
	writeReply(w, rep)
}

// TooManyRequests answers requests rejected by the per-address limiter.
func TooManyRequests(w http.ResponseWriter, _ *http.Request) {
	writeReply(w, usecase.EnvelopeReply(http.StatusTooManyRequests, usecase.Envelope{
		Message: "Rate limit exceeded",
		Error:   "Too many requests from this address, please slow down",
	}))
}

// MethodNotAllowed answers methods an operational route does not serve.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeReply(w, usecase.EnvelopeReply(http.StatusMethodNotAllowed, usecase.Envelope{
		Message: "Method not allowed",
		Error:   r.Method + " is not supported on " + r.URL.Path,
	}))
}
