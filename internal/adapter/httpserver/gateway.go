package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/fairyhunter13/search-gateway/internal/config"
	"github.com/fairyhunter13/search-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/search-gateway/internal/observability"
	"github.com/fairyhunter13/search-gateway/internal/usecase"
)

// CORS values sent on preflight responses.
const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Requested-With"
	corsMaxAge       = "86400"
)

// Flow answers requests for one resolved endpoint.
type Flow interface {
	Handle(ctx context.Context, in domain.InboundRequest) (usecase.Reply, error)
}

// FlowFunc adapts a function to Flow.
type FlowFunc func(ctx context.Context, in domain.InboundRequest) (usecase.Reply, error)

// Handle calls f.
func (f FlowFunc) Handle(ctx context.Context, in domain.InboundRequest) (usecase.Reply, error) {
	return f(ctx, in)
}

// Gateway is the single browser-facing handler. It resolves the endpoint,
// dispatches to the matching flow and always answers with JSON.
type Gateway struct {
	Marker          string
	DefaultEndpoint string
	MaxBodyBytes    int64
	// AllowAnyOrigin adds a wildcard origin to bare preflight responses.
	AllowAnyOrigin bool
	Flows          map[string]Flow
	// Fallback serves every endpoint without a dedicated flow.
	Fallback Flow
}

// NewGateway wires the chat, vote and search flows plus pass-through.
func NewGateway(cfg config.Config, chat *usecase.ChatService, votes usecase.VoteService, search usecase.SearchService, pass usecase.PassthroughService) *Gateway {
	return &Gateway{
		Marker:          cfg.EndpointMarker,
		DefaultEndpoint: cfg.DefaultEndpoint,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		AllowAnyOrigin:  strings.TrimSpace(cfg.CORSAllowOrigins) == "" || strings.TrimSpace(cfg.CORSAllowOrigins) == "*",
		Flows: map[string]Flow{
			domain.EndpointChat:   chat,
			domain.EndpointVote:   FlowFunc(votes.Record),
			domain.EndpointSearch: search,
		},
		Fallback: pass,
	}
}

// ResolveEndpoint picks the endpoint name for a request: the path segment
// right after the marker segment, else the "endpoint" query parameter, else
// def. fromQuery reports the second case.
func ResolveEndpoint(path string, query url.Values, marker, def string) (endpoint string, fromQuery bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p == marker && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], false
		}
	}
	if ep := strings.TrimSpace(query.Get("endpoint")); ep != "" {
		return ep, true
	}
	return def, false
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		g.preflight(w)
		return
	}

	query := r.URL.Query()
	endpoint, fromQuery := ResolveEndpoint(r.URL.Path, query, g.Marker, g.DefaultEndpoint)
	rawQuery := r.URL.RawQuery
	if fromQuery {
		query.Del("endpoint")
		rawQuery = query.Encode()
	}
	ctx := obsctx.WithLogAttrs(r.Context(), slog.String("endpoint", endpoint))
	lg := obsctx.LoggerFromContext(ctx)

	body, err := g.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeReply(w, usecase.EnvelopeReply(http.StatusRequestEntityTooLarge, usecase.Envelope{
				Message: "Request too large",
				Error:   fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			}))
			return
		}
		writeError(w, r, &usecase.FlowError{Kind: domain.ErrInvalidArgument, Message: "Request error", Detail: "Could not read request body"})
		return
	}

	reqID := obsctx.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = r.Header.Get("X-Request-Id")
	}
	in := domain.InboundRequest{
		Endpoint:   endpoint,
		Method:     r.Method,
		RawQuery:   rawQuery,
		Body:       body,
		Header:     r.Header.Clone(),
		RemoteAddr: r.RemoteAddr,
		RequestID:  reqID,
	}

	flow, ok := g.Flows[endpoint]
	if !ok || flow == nil {
		flow = g.Fallback
	}
	if flow == nil {
		writeError(w, r, &usecase.FlowError{Kind: domain.ErrNotFound, Message: "Unknown endpoint", Detail: endpoint})
		return
	}
	lg.Debug("dispatching gateway request", slog.String("method", r.Method), slog.Int("body_bytes", len(body)))
	rep, err := flow.Handle(ctx, in)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	writeReply(w, rep)
}

func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	rc := r.Body
	if g.MaxBodyBytes > 0 {
		rc = http.MaxBytesReader(w, r.Body, g.MaxBodyBytes)
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// preflight answers OPTIONS without touching the upstream API.
func (g *Gateway) preflight(w http.ResponseWriter) {
	h := w.Header()
	if h.Get("Access-Control-Allow-Origin") == "" && g.AllowAnyOrigin {
		h.Set("Access-Control-Allow-Origin", "*")
	}
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Max-Age", corsMaxAge)
	h.Set("Content-Type", jsonContentType)
	w.WriteHeader(http.StatusNoContent)
}
