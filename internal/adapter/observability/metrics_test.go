package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetricsMiddleware_Basic(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(204) }))
	mw.ServeHTTP(rec, r)
	if rec.Result().StatusCode != 204 {
		t.Fatalf("want 204")
	}
}

func TestInitMetrics_Idempotent(t *testing.T) {
	InitMetrics()
	InitMetrics()
}

func TestGatewayMetricsHelpers(t *testing.T) {
	InitMetrics()

	before := testutil.ToFloat64(KnownDefectsTotal.WithLabelValues("search"))
	ObserveRetryOutcome("search", "known_defect")
	if got := testutil.ToFloat64(KnownDefectsTotal.WithLabelValues("search")); got != before+1 {
		t.Fatalf("known defect counter = %v, want %v", got, before+1)
	}

	limited := testutil.ToFloat64(RateLimitedTotal)
	bypassed := testutil.ToFloat64(RateLimitBypassTotal)
	ObserveRateDecision(false, false)
	ObserveRateDecision(true, true)
	ObserveRateDecision(true, false)
	if got := testutil.ToFloat64(RateLimitedTotal); got != limited+1 {
		t.Fatalf("rate limited counter = %v, want %v", got, limited+1)
	}
	if got := testutil.ToFloat64(RateLimitBypassTotal); got != bypassed+1 {
		t.Fatalf("bypass counter = %v, want %v", got, bypassed+1)
	}

	ObserveUpstreamAttempt("chat", "success", 20*time.Millisecond)
	ObserveRetry("chat")
	ObserveDedupHit()
	ObserveVote("ok")
}
