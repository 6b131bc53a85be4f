package usecase

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/fairyhunter13/search-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/search-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/search-gateway/internal/observability"
)

// ChatService answers chat requests: replays of recent responses, the
// per-conversation interval, and the retried upstream call.
type ChatService struct {
	Cache   domain.DedupCache
	Limiter domain.RateLimiter
	Retrier Executor
	// KeyFunc derives the dedup key from the raw request body.
	KeyFunc func(body []byte) string
	Now     func() time.Time

	flights singleflight.Group
}

// NewChatService constructs a ChatService. cache and limiter may be nil.
func NewChatService(cache domain.DedupCache, limiter domain.RateLimiter, retrier Executor, keyFunc func([]byte) string) *ChatService {
	return &ChatService{Cache: cache, Limiter: limiter, Retrier: retrier, KeyFunc: keyFunc, Now: time.Now}
}

// ParseChatRequest fills the attempt, first-message flag and identity of in
// from its JSON body.
func ParseChatRequest(in domain.InboundRequest) (domain.InboundRequest, error) {
	if !gjson.ValidBytes(in.Body) {
		return in, invalidArgument("Invalid request format", "Invalid JSON body")
	}
	root := gjson.ParseBytes(in.Body)
	if !root.IsObject() {
		return in, invalidArgument("Invalid request format", "JSON object expected")
	}
	in.IsFirstMessage = root.Get("first_message").Bool()
	in.Attempt = 1
	if a := root.Get("client.attempt"); a.Exists() && a.Int() > 1 {
		in.Attempt = int(a.Int())
	}
	in.ClientIdentity = strings.TrimSpace(root.Get("conversation_id").String())
	if in.ClientIdentity == "" {
		in.ClientIdentity = ClientAddr(in.RemoteAddr)
	}
	return in, nil
}

// ClientAddr strips the port from a remote address.
func ClientAddr(remote string) string {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

// Handle runs the chat flow for in.
func (s *ChatService) Handle(ctx context.Context, in domain.InboundRequest) (Reply, error) {
	in, err := ParseChatRequest(in)
	if err != nil {
		return Reply{}, err
	}
	lg := obsctx.LoggerFromContext(ctx).With(
		slog.String("identity", in.ClientIdentity),
		slog.Int("attempt", in.Attempt),
		slog.Bool("first_message", in.IsFirstMessage),
		slog.String("client_request_id", gjson.GetBytes(in.Body, "client.request_id").String()))

	key := s.KeyFunc(in.Body)
	if in.Attempt > 1 && s.Cache != nil {
		entry, ok, err := s.Cache.Lookup(ctx, key)
		switch {
		case err != nil:
			lg.Warn("dedup lookup failed", slog.Any("error", err))
		case ok:
			observability.ObserveDedupHit()
			lg.Info("duplicate chat request answered from cache")
			status := entry.StatusCode
			if status == 0 {
				status = http.StatusOK
			}
			return Reply{Status: status, Body: entry.Response}, nil
		}
	}

	if s.Limiter != nil {
		dec, err := s.Limiter.Admit(ctx, in.ClientIdentity, in.Attempt, in.IsFirstMessage, s.now())
		if err != nil {
			lg.Warn("rate limiter unavailable, admitting request", slog.Any("error", err))
			dec.Allowed = true
		}
		observability.ObserveRateDecision(dec.Allowed, dec.Bypassed)
		if !dec.Allowed {
			lg.Info("chat request rate limited", slog.Duration("elapsed", dec.Elapsed), slog.Duration("retry_after", dec.RetryAfter))
			return Reply{}, rateLimited(dec.RetryAfterSeconds())
		}
		if dec.Bypassed {
			lg.Info("rate limit bypassed for retry attempt", slog.Duration("elapsed", dec.Elapsed))
		}
	}

	v, _, shared := s.flights.Do(key, func() (any, error) {
		out := s.Retrier.Execute(ctx, domain.UpstreamCall{
			Endpoint:  domain.EndpointChat,
			Method:    http.MethodPost,
			Body:      in.Body,
			RequestID: in.RequestID,
		})
		reply, cacheable := proxyReply(out)
		if cacheable && s.Cache != nil {
			entry := domain.CacheEntry{Key: key, StatusCode: reply.Status, Response: reply.Body, CreatedAt: s.now()}
			if err := s.Cache.Store(ctx, entry); err != nil {
				lg.Warn("dedup store failed", slog.Any("error", err))
			}
		}
		return reply, nil
	})
	if shared {
		lg.Info("concurrent duplicate chat request shared one upstream call")
	}
	return v.(Reply), nil
}

func (s *ChatService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
