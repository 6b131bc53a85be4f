package usecase_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/fairyhunter13/search-gateway/internal/domain"
	"github.com/fairyhunter13/search-gateway/internal/usecase"
)

func newSearch(outs ...domain.RetryOutcome) (usecase.SearchService, *fakeExecutor) {
	exec := newFakeExecutor(outs...)
	svc := usecase.NewSearchService(exec)
	svc.NewRequestID = func() string { return "req_test" }
	return svc, exec
}

func searchRequest(method, body string) domain.InboundRequest {
	return domain.InboundRequest{Endpoint: domain.EndpointSearch, Method: method, Body: []byte(body)}
}

func TestRewriteSearchBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		cats string
	}{
		{"top search defaults categories", `{"query":"grace","from_top_search":true}`, `["Website","Proverbs"]`},
		{"top search keeps chosen categories", `{"query":"grace","from_top_search":true,"categories":["Books"]}`, `["Books"]`},
		{"categories trimmed", `{"query":"grace","categories":[" Books ","Audio"]}`, `["Books","Audio"]`},
		{"missing categories become empty", `{"query":"grace"}`, `[]`},
		{"non array categories become empty", `{"query":"grace","categories":"Books"}`, `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := usecase.RewriteSearchBody([]byte(tt.in), "req_1")
			require.NoError(t, err)
			assert.JSONEq(t, tt.cats, gjson.GetBytes(out, "categories").Raw)
			assert.True(t, gjson.GetBytes(out, "webpage_search").Bool())
			assert.True(t, gjson.GetBytes(out, "serialize_results").Bool())
			assert.Equal(t, "req_1", gjson.GetBytes(out, "request_id").String())
			assert.False(t, gjson.GetBytes(out, "from_top_search").Exists())
			assert.Equal(t, "grace", gjson.GetBytes(out, "query").String())
		})
	}

	out, err := usecase.RewriteSearchBody([]byte(`{"query":"q","use_direct":true,"from_top_search":false}`), "r")
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(out, "use_direct").Exists())
	assert.True(t, gjson.GetBytes(out, "from_top_search").Exists(), "only a true flag is consumed")
}

func TestSearch_RejectsBadRequests(t *testing.T) {
	svc, exec := newSearch(successOutcome(http.StatusOK, `[]`))

	_, err := svc.Handle(context.Background(), searchRequest(http.MethodGet, ""))
	assert.ErrorIs(t, err, domain.ErrMethodNotAllowed)
	rep := usecase.ErrorReply(err)
	assert.Equal(t, http.StatusMethodNotAllowed, rep.Status)
	assert.Equal(t, "Only POST method is allowed for this endpoint", decodeBody(t, rep.Body)["error"])

	_, err = svc.Handle(context.Background(), searchRequest(http.MethodPost, `{oops`))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, "Invalid request format", decodeBody(t, usecase.ErrorReply(err).Body)["message"])

	for _, body := range []string{`{}`, `{"query":""}`, `{"query":"0"}`, `{"query":null}`, `{"query":[]}`} {
		_, err = svc.Handle(context.Background(), searchRequest(http.MethodPost, body))
		require.ErrorIs(t, err, domain.ErrInvalidArgument, body)
		m := decodeBody(t, usecase.ErrorReply(err).Body)
		assert.Equal(t, "Missing parameter", m["message"])
		assert.Equal(t, "Query parameter is required", m["error"])
	}
	assert.Empty(t, exec.Calls())
}

func TestSearch_WrapsBareResults(t *testing.T) {
	svc, exec := newSearch(successOutcome(http.StatusOK, `[{"title":"a"},{"title":"b"}]`))
	rep, err := svc.Handle(context.Background(), searchRequest(http.MethodPost, `{"query":"hope"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rep.Status)
	m := decodeBody(t, rep.Body)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "Search completed successfully", m["message"])
	assert.EqualValues(t, 2, m["count"])
	assert.Equal(t, "req_test", m["request_id"])
	assert.Len(t, m["results"], 2)

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.EndpointSearch, calls[0].Endpoint)
	assert.Equal(t, "req_test", calls[0].RequestID)
	assert.Equal(t, "req_test", gjson.GetBytes(calls[0].Body, "request_id").String())
}

func TestSearch_EmptyResultsCountZero(t *testing.T) {
	svc, _ := newSearch(successOutcome(http.StatusOK, `[]`))
	rep, err := svc.Handle(context.Background(), searchRequest(http.MethodPost, `{"query":"hope"}`))
	require.NoError(t, err)
	assert.Contains(t, string(rep.Body), `"count":0`)
}

func TestSearch_EnvelopeBodiesPassThrough(t *testing.T) {
	svc, _ := newSearch(successOutcome(http.StatusOK, `{"success":true,"results":[]}`))
	rep, err := svc.Handle(context.Background(), searchRequest(http.MethodPost, `{"query":"hope"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"results":[]}`, string(rep.Body))
}

func TestSearch_FailureEnvelopes(t *testing.T) {
	longHTML := "<html><head><title>Gateway Timeout</title></head><body>" + strings.Repeat("x", 800) + "</body></html>"
	tests := []struct {
		name    string
		out     domain.RetryOutcome
		message string
		errMsg  string
		check   func(t *testing.T, m map[string]any)
	}{
		{
			name:    "known defect",
			out:     defectOutcome(),
			message: "API error - known serialization issue",
			errMsg:  "Object of type ScoredPoint is not JSON serializable",
			check: func(t *testing.T, m map[string]any) {
				assert.EqualValues(t, 500, m["status_code"])
			},
		},
		{
			name:    "upstream status",
			out:     statusOutcome(http.StatusBadRequest, `{"error":"bad filter"}`, "bad filter"),
			message: "API error",
			errMsg:  "bad filter",
			check: func(t *testing.T, m map[string]any) {
				assert.EqualValues(t, 400, m["status_code"])
			},
		},
		{
			name:    "malformed html",
			out:     malformedOutcome(longHTML, "Gateway Timeout"),
			message: "Gateway Timeout",
			errMsg:  "API returned invalid JSON response",
			check: func(t *testing.T, m map[string]any) {
				raw, _ := m["raw_data"].(string)
				assert.Len(t, raw, 500)
			},
		},
		{
			name:    "transport",
			out:     transportOutcome("context deadline exceeded"),
			message: "API request failed",
			errMsg:  "context deadline exceeded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newSearch(tt.out)
			rep, err := svc.Handle(context.Background(), searchRequest(http.MethodPost, `{"query":"q"}`))
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, rep.Status)
			m := decodeBody(t, rep.Body)
			assert.Equal(t, false, m["success"])
			assert.Equal(t, tt.message, m["message"])
			assert.Equal(t, tt.errMsg, m["error"])
			assert.Equal(t, "req_test", m["request_id"])
			if tt.check != nil {
				tt.check(t, m)
			}
		})
	}
}
