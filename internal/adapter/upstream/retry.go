package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/fairyhunter13/search-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/search-gateway/internal/config"
	"github.com/fairyhunter13/search-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/search-gateway/internal/observability"
)

// PolicySource resolves per-endpoint timeout and retry budget.
type PolicySource interface {
	For(endpoint string) config.ResolvedPolicy
}

// doublingBackOff waits base, 2*base, 4*base ... capped at max.
type doublingBackOff struct {
	base time.Duration
	max  time.Duration
	n    int
}

func (b *doublingBackOff) NextBackOff() time.Duration {
	d := b.base << b.n
	if d <= 0 || (b.max > 0 && d > b.max) {
		d = b.max
	}
	b.n++
	return d
}

func (b *doublingBackOff) Reset() { b.n = 0 }

// Retrier drives the attempt loop for one logical upstream call:
// Attempting, then Success, KnownDefect, or RetryableFailure followed by
// another attempt until the budget is spent (Exhausted). Attempts are
// strictly sequential.
type Retrier struct {
	up       domain.Upstream
	policies PolicySource
	base     time.Duration
	max      time.Duration
	// newTimer is swapped in tests to skip real sleeps.
	newTimer func() backoff.Timer
}

// NewRetrier wraps up with the backoff settings of rc.
func NewRetrier(up domain.Upstream, policies PolicySource, rc config.RetryConfig) *Retrier {
	return &Retrier{up: up, policies: policies, base: rc.BaseDelay, max: rc.MaxDelay}
}

// errRetryable marks an attempt that should be retried.
var errRetryable = errors.New("retryable upstream failure")

// Execute runs call with retries and folds every attempt into a RetryOutcome.
// Cancelling ctx abandons the sequence, including a pending backoff wait.
func (r *Retrier) Execute(ctx context.Context, call domain.UpstreamCall) domain.RetryOutcome {
	pol := config.ResolvedPolicy{}
	if r.policies != nil {
		pol = r.policies.For(call.Endpoint)
	}
	if call.Timeout <= 0 {
		call.Timeout = pol.Timeout
	}
	lg := obsctx.LoggerFromContext(ctx)

	out := domain.RetryOutcome{State: domain.RetryStateAttempting}
	op := func() error {
		start := time.Now()
		res := r.up.Do(ctx, call)
		out.Attempts++
		state, kind, detail := classifyAttempt(res)
		observability.ObserveUpstreamAttempt(call.Endpoint, string(state), time.Since(start))
		out.State, out.Failure, out.Result, out.Detail = state, kind, res, detail

		switch state {
		case domain.RetryStateSuccess:
			return nil
		case domain.RetryStateKnownDefect:
			lg.Warn("upstream known defect", slog.Int("attempt", out.Attempts), slog.Int("status", res.StatusCode))
			return backoff.Permanent(domain.ErrKnownDefect)
		}
		lg.Warn("upstream attempt failed",
			slog.Int("attempt", out.Attempts),
			slog.Int("status", res.StatusCode),
			slog.String("failure", string(kind)),
			slog.String("detail", detail),
			slog.Any("error", res.Err))
		if errors.Is(res.Err, domain.ErrResponseTooLarge) {
			// A larger body will not shrink on a second attempt.
			return backoff.Permanent(res.Err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return errRetryable
	}
	notify := func(_ error, d time.Duration) {
		out.Delays = append(out.Delays, d)
		observability.ObserveRetry(call.Endpoint)
		lg.Info("retrying upstream call", slog.Int("next_attempt", out.Attempts+1), slog.Duration("backoff", d))
	}

	var bo backoff.BackOff = &doublingBackOff{base: r.base, max: r.max}
	bo = backoff.WithMaxRetries(bo, uint64(max(pol.MaxRetries, 0)))
	bo = backoff.WithContext(bo, ctx)

	var err error
	if r.newTimer != nil {
		err = backoff.RetryNotifyWithTimer(op, bo, notify, r.newTimer())
	} else {
		err = backoff.RetryNotify(op, bo, notify)
	}
	if err != nil && out.State == domain.RetryStateRetryable {
		out.State = domain.RetryStateExhausted
	}
	observability.ObserveRetryOutcome(call.Endpoint, string(out.State))
	if out.State != domain.RetryStateSuccess {
		lg.Error("upstream call failed",
			slog.String("state", string(out.State)),
			slog.Int("attempts", out.Attempts),
			slog.Int("status", out.Result.StatusCode))
	}
	return out
}

// classifyAttempt maps one attempt's result to the next state of the machine.
func classifyAttempt(res domain.UpstreamResult) (domain.RetryState, domain.FailureKind, string) {
	if res.Err != nil {
		if IsKnownDefect(res.Body) {
			return domain.RetryStateKnownDefect, domain.FailureDefect, ""
		}
		return domain.RetryStateRetryable, domain.FailureTransport, res.Err.Error()
	}
	v := Classify(res.Body)
	switch v.Kind {
	case VerdictKnownDefect:
		return domain.RetryStateKnownDefect, domain.FailureDefect, ""
	case VerdictEmpty:
		return domain.RetryStateRetryable, domain.FailureEmpty, "empty response from upstream"
	case VerdictMalformed:
		return domain.RetryStateRetryable, domain.FailureMalformed, v.Detail
	}
	if res.StatusCode >= 400 {
		detail := gjson.GetBytes(res.Body, "error").String()
		if detail == "" {
			detail = fmt.Sprintf("API returned error with status code %d", res.StatusCode)
		}
		return domain.RetryStateRetryable, domain.FailureStatus, detail
	}
	return domain.RetryStateSuccess, domain.FailureNone, ""
}
