package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/fairyhunter13/search-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/search-gateway/internal/observability"
	"github.com/fairyhunter13/search-gateway/pkg/textx"
)

// rawDataLimit bounds the slice of a malformed body echoed to the client.
const rawDataLimit = 500

// DefaultTopSearchCategories apply to top-bar searches without categories.
var DefaultTopSearchCategories = []string{"Website", "Proverbs"}

// SearchService rewrites search requests and shapes the upstream answer.
type SearchService struct {
	Retrier Executor
	// NewRequestID returns the id stamped into the upstream body.
	NewRequestID func() string
}

// NewSearchService constructs a SearchService with ULID based request ids.
func NewSearchService(r Executor) SearchService {
	return SearchService{Retrier: r, NewRequestID: func() string { return "req_" + ulid.Make().String() }}
}

// Handle runs the search flow for in.
func (s SearchService) Handle(ctx context.Context, in domain.InboundRequest) (Reply, error) {
	if in.Method != http.MethodPost {
		return Reply{}, &FlowError{
			Kind:    domain.ErrMethodNotAllowed,
			Message: "Method not allowed",
			Detail:  "Only POST method is allowed for this endpoint",
		}
	}
	if !gjson.ValidBytes(in.Body) || !gjson.ParseBytes(in.Body).IsObject() {
		return Reply{}, invalidArgument("Invalid request format", "Invalid JSON: Syntax error")
	}
	if isEmptyValue(gjson.GetBytes(in.Body, "query")) {
		return Reply{}, invalidArgument("Missing parameter", "Query parameter is required")
	}

	requestID := s.NewRequestID()
	body, err := RewriteSearchBody(in.Body, requestID)
	if err != nil {
		return Reply{}, fmt.Errorf("op=search.rewrite: %w: %w", domain.ErrInternal, err)
	}
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("search_request_id", requestID))
	lg.Info("forwarding search", slog.String("query", textx.Truncate(gjson.GetBytes(body, "query").String(), 200)))

	out := s.Retrier.Execute(ctx, domain.UpstreamCall{
		Endpoint:  domain.EndpointSearch,
		Method:    http.MethodPost,
		Body:      body,
		RequestID: requestID,
	})
	return searchReply(out, requestID), nil
}

// RewriteSearchBody applies the gateway's search defaults to body.
func RewriteSearchBody(body []byte, requestID string) ([]byte, error) {
	var err error
	set := func(path string, v any) {
		if err == nil {
			body, err = sjson.SetBytes(body, path, v)
		}
	}
	del := func(path string) {
		if err == nil {
			body, err = sjson.DeleteBytes(body, path)
		}
	}

	del("use_direct")
	set("webpage_search", true)
	cats := gjson.GetBytes(body, "categories")
	switch {
	case gjson.GetBytes(body, "from_top_search").Type == gjson.True:
		if isEmptyValue(cats) {
			set("categories", DefaultTopSearchCategories)
		}
		del("from_top_search")
	case cats.IsArray() && len(cats.Array()) > 0:
		trimmed := make([]any, 0, len(cats.Array()))
		for _, c := range cats.Array() {
			if c.Type == gjson.String {
				trimmed = append(trimmed, strings.TrimSpace(c.String()))
				continue
			}
			trimmed = append(trimmed, json.RawMessage(c.Raw))
		}
		set("categories", trimmed)
	default:
		set("categories", []string{})
	}
	set("request_id", requestID)
	set("serialize_results", true)
	return body, err
}

func searchReply(out domain.RetryOutcome, requestID string) Reply {
	res := out.Result
	switch out.State {
	case domain.RetryStateSuccess:
		return wrapSearchResults(res, requestID)
	case domain.RetryStateKnownDefect:
		return EnvelopeReply(http.StatusInternalServerError, Envelope{
			Message:    defectMessage,
			Error:      defectError,
			StatusCode: res.StatusCode,
			RequestID:  requestID,
		})
	}
	switch out.Failure {
	case domain.FailureStatus:
		return EnvelopeReply(http.StatusInternalServerError, Envelope{
			Message:    "API error",
			Error:      out.Detail,
			StatusCode: res.StatusCode,
			RequestID:  requestID,
		})
	case domain.FailureMalformed:
		return EnvelopeReply(http.StatusInternalServerError, Envelope{
			Message:   out.Detail,
			Error:     "API returned invalid JSON response",
			RawData:   textx.Truncate(string(res.Body), rawDataLimit),
			RequestID: requestID,
		})
	default:
		detail := out.Detail
		if res.Err != nil {
			detail = res.Err.Error()
		}
		return EnvelopeReply(http.StatusInternalServerError, Envelope{
			Message:   "API request failed",
			Error:     detail,
			RequestID: requestID,
		})
	}
}

// wrapSearchResults adds the success envelope around bare result collections.
// Bodies that already speak the envelope, or are scalars, pass through.
func wrapSearchResults(res domain.UpstreamResult, requestID string) Reply {
	root := gjson.ParseBytes(res.Body)
	var count int
	switch {
	case root.IsArray():
		count = len(root.Array())
	case root.IsObject():
		if isSet(root.Get("success")) || isSet(root.Get("error")) {
			return Reply{Status: res.StatusCode, Body: res.Body}
		}
		count = len(root.Map())
	default:
		return Reply{Status: res.StatusCode, Body: res.Body}
	}
	return EnvelopeReply(res.StatusCode, Envelope{
		Success:   true,
		Message:   "Search completed successfully",
		Results:   json.RawMessage(root.Raw),
		Count:     &count,
		RequestID: requestID,
	})
}

func isSet(r gjson.Result) bool { return r.Exists() && r.Type != gjson.Null }

// isEmptyValue reports missing, null, false, zero, "", "0", [] and {}.
func isEmptyValue(r gjson.Result) bool {
	if !r.Exists() {
		return true
	}
	switch r.Type {
	case gjson.Null, gjson.False:
		return true
	case gjson.Number:
		return r.Float() == 0
	case gjson.String:
		return r.Str == "" || r.Str == "0"
	case gjson.JSON:
		if r.IsArray() {
			return len(r.Array()) == 0
		}
		return len(r.Map()) == 0
	}
	return false
}
