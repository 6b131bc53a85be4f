// Package domain defines retry states for upstream calls.
package domain

import "time"

// RetryState is a state of the upstream retry state machine.
type RetryState string

const (
	// RetryStateAttempting indicates an attempt is in flight
	RetryStateAttempting RetryState = "attempting"
	// RetryStateSuccess indicates the upstream produced a valid JSON body
	RetryStateSuccess RetryState = "success"
	// RetryStateRetryable indicates the last attempt failed in a way worth retrying
	RetryStateRetryable RetryState = "retryable_failure"
	// RetryStateKnownDefect indicates the upstream hit its known serialization defect
	RetryStateKnownDefect RetryState = "known_defect"
	// RetryStateExhausted indicates all attempts failed
	RetryStateExhausted RetryState = "exhausted"
)

// IsTerminal reports whether no further attempts follow this state.
func (s RetryState) IsTerminal() bool {
	switch s {
	case RetryStateSuccess, RetryStateKnownDefect, RetryStateExhausted:
		return true
	default:
		return false
	}
}

// FailureKind explains why an attempt was not a success.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransport FailureKind = "transport"
	FailureEmpty     FailureKind = "empty_body"
	FailureMalformed FailureKind = "malformed"
	FailureStatus    FailureKind = "upstream_status"
	FailureDefect    FailureKind = "known_defect"
)

// Err maps a failure kind to its sentinel.
func (k FailureKind) Err() error {
	switch k {
	case FailureNone:
		return nil
	case FailureTransport, FailureEmpty:
		return ErrTransport
	case FailureDefect:
		return ErrKnownDefect
	default:
		return ErrMalformedUpstream
	}
}

// RetryOutcome is the folded result of an upstream retry sequence.
type RetryOutcome struct {
	State    RetryState
	Failure  FailureKind
	Result   UpstreamResult
	Attempts int
	Delays   []time.Duration
	// Detail is a human readable fragment, e.g. an HTML title from a malformed body.
	Detail string
}
