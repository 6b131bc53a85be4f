// Package ratelimiter enforces a minimum interval between chat requests of the
// same conversation. A first message needs a longer gap than a follow-up, and a
// client-declared retry (attempt > 1) is admitted inside the interval.
package ratelimiter

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/search-gateway/internal/domain"
)

// Intervals holds the minimum gaps between admitted requests.
type Intervals struct {
	FirstMessage time.Duration
	FollowUp     time.Duration
}

// DefaultIntervals are 2s for a first message and 1s otherwise.
var DefaultIntervals = Intervals{FirstMessage: 2 * time.Second, FollowUp: time.Second}

// For returns the interval that applies to a request.
func (iv Intervals) For(isFirstMessage bool) time.Duration {
	if isFirstMessage {
		return iv.FirstMessage
	}
	return iv.FollowUp
}

// decide applies the admission policy to one identity's previous request time.
// hasLast is false when the identity has never been admitted.
func decide(iv Intervals, last time.Time, hasLast bool, attempt int, isFirstMessage bool, now time.Time) domain.RateDecision {
	if !hasLast {
		return domain.RateDecision{Allowed: true}
	}
	elapsed := now.Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}
	minInterval := iv.For(isFirstMessage)
	if elapsed >= minInterval {
		return domain.RateDecision{Allowed: true, Elapsed: elapsed}
	}
	if attempt > 1 {
		return domain.RateDecision{Allowed: true, Bypassed: true, Elapsed: elapsed}
	}
	return domain.RateDecision{Elapsed: elapsed, RetryAfter: minInterval - elapsed}
}

// IntervalLimiter keeps rate state in process memory. The least recently
// admitted identities are pruned once capacity is exceeded. It is safe for
// concurrent use; check and update for an identity happen under one lock.
type IntervalLimiter struct {
	intervals Intervals
	capacity  int

	mu    sync.Mutex
	state map[string]*list.Element
	lru   *list.List
}

type stateEntry struct {
	identity string
	last     time.Time
}

// NewIntervalLimiter returns an in-memory limiter. capacity <= 0 means unbounded.
func NewIntervalLimiter(iv Intervals, capacity int) *IntervalLimiter {
	return &IntervalLimiter{
		intervals: iv,
		capacity:  capacity,
		state:     make(map[string]*list.Element),
		lru:       list.New(),
	}
}

// Admit decides whether identity may proceed and records now on admission.
func (l *IntervalLimiter) Admit(_ context.Context, identity string, attempt int, isFirstMessage bool, now time.Time) (domain.RateDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.state[identity]
	var last time.Time
	if ok {
		last = el.Value.(*stateEntry).last
	}
	d := decide(l.intervals, last, ok, attempt, isFirstMessage, now)
	if !d.Allowed {
		return d, nil
	}
	if ok {
		el.Value.(*stateEntry).last = now
		l.lru.MoveToFront(el)
	} else {
		l.state[identity] = l.lru.PushFront(&stateEntry{identity: identity, last: now})
	}
	for l.capacity > 0 && l.lru.Len() > l.capacity {
		oldest := l.lru.Back()
		l.lru.Remove(oldest)
		delete(l.state, oldest.Value.(*stateEntry).identity)
	}
	return d, nil
}

// Last returns the last admitted request time for identity.
func (l *IntervalLimiter) Last(identity string) (domain.RateState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.state[identity]
	if !ok {
		return domain.RateState{}, false
	}
	return domain.RateState{Identity: identity, LastRequestAt: el.Value.(*stateEntry).last}, true
}

// Len reports how many identities are tracked.
func (l *IntervalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}
