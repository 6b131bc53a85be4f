package domain

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrTransport         = errors.New("upstream transport error")
	ErrMalformedUpstream = errors.New("malformed upstream response")
	ErrResponseTooLarge  = errors.New("upstream response too large")
	ErrKnownDefect       = errors.New("known upstream defect")
	ErrPersistence       = errors.New("persistence error")
	ErrMethodNotAllowed  = errors.New("method not allowed")
	ErrInternal          = errors.New("internal error")
)

// Endpoint names with dedicated flows.
const (
	EndpointChat   = "chat"
	EndpointVote   = "vote"
	EndpointSearch = "search"
	EndpointHealth = "health"
)

// InboundRequest is a browser request after endpoint resolution.
// It is never mutated once built by the gateway handler.
type InboundRequest struct {
	Endpoint       string
	Method         string
	RawQuery       string
	Body           []byte
	Header         http.Header
	ClientIdentity string
	RemoteAddr     string
	Attempt        int
	IsFirstMessage bool
	RequestID      string
}

// CacheEntry is a produced chat response remembered for duplicate suppression.
// Key is derived from the raw request body only.
type CacheEntry struct {
	Key        string    `json:"key"`
	StatusCode int       `json:"status_code"`
	Response   []byte    `json:"response"`
	CreatedAt  time.Time `json:"created_at"`
}

// RateState records the last admitted request for one identity.
type RateState struct {
	Identity      string
	LastRequestAt time.Time
}

// RateDecision is the verdict of a rate limiter admission check.
type RateDecision struct {
	Allowed    bool
	Bypassed   bool
	Elapsed    time.Duration
	RetryAfter time.Duration
}

// RetryAfterSeconds reports the wait in whole seconds, rounded up, as sent in
// the retry_after field of a 429 response. It is at least 1 for a rejection.
func (d RateDecision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// UpstreamCall describes one logical request to the upstream API.
type UpstreamCall struct {
	Endpoint  string
	Method    string
	RawQuery  string
	Body      []byte
	Header    http.Header
	Timeout   time.Duration
	RequestID string
}

// UpstreamResult is what a single upstream attempt produced.
type UpstreamResult struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Err        error
}

// Vote is a persisted thumbs up/down for a conversation answer.
type Vote struct {
	ConversationID       string    `json:"conversation_id"`
	ServerConversationID string    `json:"server_conversation_id"`
	QueryID              string    `json:"query_id"`
	Vote                 string    `json:"vote"`
	Timestamp            string    `json:"timestamp"`
	IsFinal              bool      `json:"is_final"`
	ClientIP             string    `json:"client_ip"`
	RecordedAt           time.Time `json:"recorded_at"`
}

// Ports

// DedupCache remembers produced chat responses keyed by body hash.
type DedupCache interface {
	Lookup(ctx Context, key string) (CacheEntry, bool, error)
	Store(ctx Context, entry CacheEntry) error
}

// RateLimiter enforces the per-identity minimum interval between requests.
type RateLimiter interface {
	Admit(ctx Context, identity string, attempt int, isFirstMessage bool, now time.Time) (RateDecision, error)
}

// Upstream performs a single attempt against the upstream API.
type Upstream interface {
	Do(ctx Context, call UpstreamCall) UpstreamResult
}

// VoteRepository persists votes keyed by sanitized conversation id.
type VoteRepository interface {
	Save(ctx Context, key string, v Vote) error
	Get(ctx Context, key string) (Vote, error)
}

// VoteEventPublisher announces recorded votes to downstream consumers.
type VoteEventPublisher interface {
	PublishVote(ctx Context, v Vote) error
}

// Context is an alias to allow decoupling from std context in domain.
type Context = context.Context
