package usecase

import (
	"context"
	"net/http"

	"github.com/fairyhunter13/search-gateway/internal/domain"
)

// PassthroughService forwards any other endpoint to /api/{endpoint}.
type PassthroughService struct {
	Retrier Executor
}

// NewPassthroughService constructs a PassthroughService.
func NewPassthroughService(r Executor) PassthroughService {
	return PassthroughService{Retrier: r}
}

// Handle forwards in unchanged apart from hop-by-hop headers.
func (s PassthroughService) Handle(ctx context.Context, in domain.InboundRequest) (Reply, error) {
	call := domain.UpstreamCall{
		Endpoint:  in.Endpoint,
		Method:    in.Method,
		RawQuery:  in.RawQuery,
		Header:    in.Header,
		RequestID: in.RequestID,
	}
	if call.Method == "" {
		call.Method = http.MethodGet
	}
	if len(in.Body) > 0 && call.Method != http.MethodGet && call.Method != http.MethodHead {
		call.Body = in.Body
	}
	reply, _ := proxyReply(s.Retrier.Execute(ctx, call))
	return reply, nil
}
