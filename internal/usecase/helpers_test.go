package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/search-gateway/internal/domain"
)

// fakeExecutor returns scripted outcomes in order, repeating the last one.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []domain.UpstreamCall
	outs  []domain.RetryOutcome
	// started and gate let a test hold a call in flight.
	started chan struct{}
	gate    chan struct{}
}

func newFakeExecutor(outs ...domain.RetryOutcome) *fakeExecutor {
	return &fakeExecutor{outs: outs}
}

func (f *fakeExecutor) Execute(_ context.Context, call domain.UpstreamCall) domain.RetryOutcome {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	i := len(f.calls) - 1
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if i >= len(f.outs) {
		i = len(f.outs) - 1
	}
	return f.outs[i]
}

func (f *fakeExecutor) Calls() []domain.UpstreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.UpstreamCall(nil), f.calls...)
}

func successOutcome(status int, body string) domain.RetryOutcome {
	return domain.RetryOutcome{
		State:    domain.RetryStateSuccess,
		Result:   domain.UpstreamResult{StatusCode: status, Body: []byte(body)},
		Attempts: 1,
	}
}

func defectOutcome() domain.RetryOutcome {
	return domain.RetryOutcome{
		State:    domain.RetryStateKnownDefect,
		Failure:  domain.FailureDefect,
		Result:   domain.UpstreamResult{StatusCode: http.StatusInternalServerError, Body: []byte(`{"detail":"ScoredPoint is not JSON serializable"}`)},
		Attempts: 1,
	}
}

func malformedOutcome(body, detail string) domain.RetryOutcome {
	return domain.RetryOutcome{
		State:    domain.RetryStateExhausted,
		Failure:  domain.FailureMalformed,
		Result:   domain.UpstreamResult{StatusCode: http.StatusBadGateway, Body: []byte(body)},
		Attempts: 3,
		Detail:   detail,
	}
}

func statusOutcome(status int, body, detail string) domain.RetryOutcome {
	return domain.RetryOutcome{
		State:    domain.RetryStateExhausted,
		Failure:  domain.FailureStatus,
		Result:   domain.UpstreamResult{StatusCode: status, Body: []byte(body)},
		Attempts: 3,
		Detail:   detail,
	}
}

func transportOutcome(msg string) domain.RetryOutcome {
	err := errors.New(msg)
	return domain.RetryOutcome{
		State:    domain.RetryStateExhausted,
		Failure:  domain.FailureTransport,
		Result:   domain.UpstreamResult{Err: err},
		Attempts: 3,
		Detail:   msg,
	}
}

func decodeBody(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m), string(b))
	return m
}
