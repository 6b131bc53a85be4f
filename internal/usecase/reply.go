// Package usecase contains application business logic services.
//
// Every flow answers with a Reply: an HTTP status and a JSON document that is
// either the upstream body verbatim or an Envelope built by the gateway.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fairyhunter13/search-gateway/internal/domain"
)

// Messages shared by several flows.
const (
	defectError          = "Object of type ScoredPoint is not JSON serializable"
	defectMessage        = "API error - known serialization issue"
	invalidBackendMsg    = "Backend returned invalid response"
	invalidBackendDetail = "The backend server returned a non-JSON response. Please try again later."
	proxyErrorMsg        = "Proxy error: upstream request failed"
)

// Executor runs one logical upstream call with retries.
type Executor interface {
	Execute(ctx context.Context, call domain.UpstreamCall) domain.RetryOutcome
}

// Envelope is the gateway's own response shape.
type Envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Error      string          `json:"error,omitempty"`
	Data       any             `json:"data,omitempty"`
	Results    json.RawMessage `json:"results,omitempty"`
	Count      *int            `json:"count,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	RetryAfter int             `json:"retry_after,omitempty"`
	RawData    string          `json:"raw_data,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
}

// Reply is what the gateway writes back to the browser.
type Reply struct {
	Status int
	Body   []byte
}

// EnvelopeReply encodes env with status.
func EnvelopeReply(status int, env Envelope) Reply {
	b, err := json.Marshal(env)
	if err != nil {
		b = []byte(`{"success":false,"message":"Internal error","error":"response encoding failed"}`)
		status = http.StatusInternalServerError
	}
	return Reply{Status: status, Body: b}
}

// FlowError is a request the gateway answers itself without a usable upstream
// result: bad input, rate limiting, a wrong method, or a storage failure.
type FlowError struct {
	Kind       error
	Message    string
	Detail     string
	RetryAfter int
}

func (e *FlowError) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return e.Message + ": " + e.Detail
}

func (e *FlowError) Unwrap() error { return e.Kind }

// Reply renders the error as an envelope with the status its kind maps to.
func (e *FlowError) Reply() Reply {
	return EnvelopeReply(StatusFor(e.Kind), Envelope{
		Message:    e.Message,
		Error:      e.Detail,
		RetryAfter: e.RetryAfter,
	})
}

// StatusFor maps a domain sentinel to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ErrorReply turns any flow error into a reply. Errors other than FlowError
// become a generic 500 envelope.
func ErrorReply(err error) Reply {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Reply()
	}
	return EnvelopeReply(StatusFor(err), Envelope{Message: "Internal error", Error: err.Error()})
}

func invalidArgument(message, detail string) *FlowError {
	return &FlowError{Kind: domain.ErrInvalidArgument, Message: message, Detail: detail}
}

func rateLimited(retryAfter int) *FlowError {
	return &FlowError{
		Kind:       domain.ErrRateLimited,
		Message:    "Rate limit exceeded",
		Detail:     fmt.Sprintf("Please wait %d seconds before trying again", retryAfter),
		RetryAfter: retryAfter,
	}
}

// proxyReply converts a retry outcome into the reply used by the chat and
// pass-through flows. cacheable is false when nothing was received.
func proxyReply(out domain.RetryOutcome) (reply Reply, cacheable bool) {
	res := out.Result
	switch out.State {
	case domain.RetryStateSuccess:
		return Reply{Status: res.StatusCode, Body: res.Body}, true
	case domain.RetryStateKnownDefect:
		return EnvelopeReply(http.StatusInternalServerError, Envelope{
			Message:    defectMessage,
			Error:      defectError,
			StatusCode: res.StatusCode,
		}), true
	}
	switch out.Failure {
	case domain.FailureStatus:
		return Reply{Status: res.StatusCode, Body: res.Body}, true
	case domain.FailureMalformed, domain.FailureEmpty:
		return EnvelopeReply(http.StatusInternalServerError, Envelope{
			Message:    invalidBackendMsg,
			Error:      invalidBackendDetail,
			StatusCode: res.StatusCode,
		}), true
	default:
		detail := out.Detail
		if res.Err != nil {
			detail = res.Err.Error()
		}
		return EnvelopeReply(http.StatusInternalServerError, Envelope{
			Message: proxyErrorMsg,
			Error:   detail,
		}), false
	}
}
