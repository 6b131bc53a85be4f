package usecase_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/search-gateway/internal/adapter/dedup"
	"github.com/fairyhunter13/search-gateway/internal/domain"
	"github.com/fairyhunter13/search-gateway/internal/service/ratelimiter"
	"github.com/fairyhunter13/search-gateway/internal/usecase"
)

var chatT0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type chatFixture struct {
	svc   *usecase.ChatService
	exec  *fakeExecutor
	cache *dedup.MemoryCache
	now   time.Time
}

func newChatFixture(outs ...domain.RetryOutcome) *chatFixture {
	f := &chatFixture{exec: newFakeExecutor(outs...), cache: dedup.NewMemoryCache(dedup.DefaultCapacity), now: chatT0}
	f.svc = usecase.NewChatService(f.cache, ratelimiter.NewIntervalLimiter(ratelimiter.DefaultIntervals, 100), f.exec, dedup.Key)
	f.svc.Now = func() time.Time { return f.now }
	return f
}

func chatRequest(body string) domain.InboundRequest {
	return domain.InboundRequest{
		Endpoint:   domain.EndpointChat,
		Method:     http.MethodPost,
		Body:       []byte(body),
		RemoteAddr: "203.0.113.7:51234",
		RequestID:  "01HZX",
	}
}

func TestParseChatRequest(t *testing.T) {
	in, err := usecase.ParseChatRequest(chatRequest(`{"conversation_id":"conv_1","first_message":true,"client":{"attempt":3}}`))
	require.NoError(t, err)
	assert.Equal(t, "conv_1", in.ClientIdentity)
	assert.Equal(t, 3, in.Attempt)
	assert.True(t, in.IsFirstMessage)

	in, err = usecase.ParseChatRequest(chatRequest(`{"message":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", in.ClientIdentity, "falls back to caller address")
	assert.Equal(t, 1, in.Attempt)
	assert.False(t, in.IsFirstMessage)

	_, err = usecase.ParseChatRequest(chatRequest(`{not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = usecase.ParseChatRequest(chatRequest(`[1,2]`))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestChat_SuccessEchoesUpstream(t *testing.T) {
	f := newChatFixture(successOutcome(http.StatusOK, `{"answer":"42","conversation_id":"conv_1"}`))
	rep, err := f.svc.Handle(context.Background(), chatRequest(`{"conversation_id":"conv_1","message":"q"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rep.Status)
	assert.JSONEq(t, `{"answer":"42","conversation_id":"conv_1"}`, string(rep.Body))

	calls := f.exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.EndpointChat, calls[0].Endpoint)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "01HZX", calls[0].RequestID)
	assert.Equal(t, 1, f.cache.Len(), "produced response is remembered")
}

func TestChat_RateLimitedWithinInterval(t *testing.T) {
	f := newChatFixture(successOutcome(http.StatusOK, `{"ok":true}`))
	_, err := f.svc.Handle(context.Background(), chatRequest(`{"conversation_id":"c","first_message":true,"message":"a"}`))
	require.NoError(t, err)

	f.now = chatT0.Add(500 * time.Millisecond)
	_, err = f.svc.Handle(context.Background(), chatRequest(`{"conversation_id":"c","first_message":true,"message":"b"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	var fe *usecase.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 2, fe.RetryAfter)
	assert.Equal(t, "Please wait 2 seconds before trying again", fe.Detail)
	assert.Len(t, f.exec.Calls(), 1, "no upstream call for a rejected request")

	f.now = chatT0.Add(2 * time.Second)
	_, err = f.svc.Handle(context.Background(), chatRequest(`{"conversation_id":"c","message":"b"}`))
	require.NoError(t, err)
}

func TestChat_RetryAttemptServedFromCache(t *testing.T) {
	f := newChatFixture(successOutcome(http.StatusOK, `{"answer":"first"}`), successOutcome(http.StatusOK, `{"answer":"second"}`))
	body := `{"conversation_id":"c","message":"same","client":{"attempt":1}}`
	_, err := f.svc.Handle(context.Background(), chatRequest(body))
	require.NoError(t, err)

	// The retry body carries a new attempt number, so its first send misses.
	f.now = chatT0.Add(100 * time.Millisecond)
	retry := `{"conversation_id":"c","message":"same","client":{"attempt":2}}`
	rep, err := f.svc.Handle(context.Background(), chatRequest(retry))
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"second"}`, string(rep.Body), "attempt 2 bypasses the interval and reaches upstream on a miss")

	rep, err = f.svc.Handle(context.Background(), chatRequest(retry))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rep.Status)
	assert.JSONEq(t, `{"answer":"second"}`, string(rep.Body))
	assert.Len(t, f.exec.Calls(), 2, "cache hit makes no upstream call")
}

func TestChat_FirstAttemptIgnoresCache(t *testing.T) {
	f := newChatFixture(successOutcome(http.StatusOK, `{"n":1}`), successOutcome(http.StatusOK, `{"n":2}`))
	body := `{"conversation_id":"c","message":"same"}`
	_, err := f.svc.Handle(context.Background(), chatRequest(body))
	require.NoError(t, err)
	f.now = chatT0.Add(3 * time.Second)
	rep, err := f.svc.Handle(context.Background(), chatRequest(body))
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(rep.Body))
}

func TestChat_MalformedUpstreamEnvelopeIsCached(t *testing.T) {
	f := newChatFixture(malformedOutcome("<html><title>502 Bad Gateway</title></html>", "502 Bad Gateway"))
	body := `{"conversation_id":"c","message":"m","client":{"attempt":2}}`
	rep, err := f.svc.Handle(context.Background(), chatRequest(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rep.Status)
	m := decodeBody(t, rep.Body)
	assert.Equal(t, false, m["success"])
	assert.Equal(t, "Backend returned invalid response", m["message"])
	assert.Equal(t, "The backend server returned a non-JSON response. Please try again later.", m["error"])
	assert.EqualValues(t, http.StatusBadGateway, m["status_code"])

	entry, ok, err := f.cache.Lookup(context.Background(), dedup.Key([]byte(body)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, entry.StatusCode)
}

func TestChat_TransportFailureNotCached(t *testing.T) {
	f := newChatFixture(transportOutcome("dial tcp: connection refused"))
	rep, err := f.svc.Handle(context.Background(), chatRequest(`{"conversation_id":"c"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rep.Status)
	m := decodeBody(t, rep.Body)
	assert.Equal(t, "Proxy error: upstream request failed", m["message"])
	assert.Equal(t, "dial tcp: connection refused", m["error"])
	assert.Equal(t, 0, f.cache.Len())
}

func TestChat_KnownDefectEnvelope(t *testing.T) {
	f := newChatFixture(defectOutcome())
	rep, err := f.svc.Handle(context.Background(), chatRequest(`{"conversation_id":"c"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rep.Status)
	m := decodeBody(t, rep.Body)
	assert.Equal(t, "API error - known serialization issue", m["message"])
	assert.Equal(t, "Object of type ScoredPoint is not JSON serializable", m["error"])
	assert.Len(t, f.exec.Calls(), 1)
}

func TestChat_UpstreamErrorStatusMirrored(t *testing.T) {
	f := newChatFixture(statusOutcome(http.StatusServiceUnavailable, `{"error":"model loading"}`, "model loading"))
	rep, err := f.svc.Handle(context.Background(), chatRequest(`{"conversation_id":"c"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rep.Status)
	assert.JSONEq(t, `{"error":"model loading"}`, string(rep.Body))
}

func TestChat_InvalidJSONRejected(t *testing.T) {
	f := newChatFixture(successOutcome(http.StatusOK, `{}`))
	_, err := f.svc.Handle(context.Background(), chatRequest(`conversation_id=c`))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Empty(t, f.exec.Calls())
}

type failingCache struct{}

func (failingCache) Lookup(context.Context, string) (domain.CacheEntry, bool, error) {
	return domain.CacheEntry{}, false, errors.New("redis down")
}
func (failingCache) Store(context.Context, domain.CacheEntry) error { return errors.New("redis down") }

func TestChat_CacheErrorsDoNotFailRequest(t *testing.T) {
	exec := newFakeExecutor(successOutcome(http.StatusOK, `{"ok":true}`))
	svc := usecase.NewChatService(failingCache{}, nil, exec, dedup.Key)
	rep, err := svc.Handle(context.Background(), chatRequest(`{"conversation_id":"c","client":{"attempt":2}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rep.Status)
}

func TestChat_ConcurrentDuplicatesShareOneCall(t *testing.T) {
	f := newChatFixture(successOutcome(http.StatusOK, `{"shared":true}`))
	f.exec.started = make(chan struct{}, 2)
	f.exec.gate = make(chan struct{})
	body := `{"conversation_id":"c","message":"dup","client":{"attempt":2}}`

	var wg sync.WaitGroup
	replies := make([]usecase.Reply, 2)
	run := func(i int) {
		defer wg.Done()
		rep, err := f.svc.Handle(context.Background(), chatRequest(body))
		assert.NoError(t, err)
		replies[i] = rep
	}
	wg.Add(1)
	go run(0)
	<-f.exec.started
	wg.Add(1)
	go run(1)
	time.Sleep(50 * time.Millisecond)
	close(f.exec.gate)
	wg.Wait()

	assert.Len(t, f.exec.Calls(), 1)
	for _, rep := range replies {
		assert.JSONEq(t, `{"shared":true}`, string(rep.Body))
	}
}
