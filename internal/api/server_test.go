package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/account-tracker/internal/scheduler"
	"github.com/JakeFAU/account-tracker/internal/tracker"
)

type fakeSource struct {
	ready bool
	sum   *scheduler.Summary
}

func (f fakeSource) LastSummary() (scheduler.Summary, bool) {
	if f.sum == nil {
		return scheduler.Summary{}, false
	}
	return *f.sum, true
}

func (f fakeSource) Ready() bool { return f.ready }

func serve(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(fakeSource{}, zap.NewNop()), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(fakeSource{}, nil), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(t, NewServer(fakeSource{ready: true}, nil), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLastRun(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(fakeSource{ready: true}, nil), "/v1/runs/last")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sum := scheduler.Summary{
		RunID:     "run-1",
		Window:    "2025-03-01",
		Outcome:   scheduler.OutcomeAborted,
		Targets:   7,
		Executed:  5,
		Statuses:  map[tracker.Status]int{tracker.StatusLoginRequired: 5},
		Backoff:   scheduler.BackoffState{Multiplier: 16, ConsecutiveFailures: 5},
		StartedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	rec = serve(t, NewServer(fakeSource{ready: true, sum: &sum}, nil), "/v1/runs/last")
	require.Equal(t, http.StatusOK, rec.Code)

	var got scheduler.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, scheduler.OutcomeAborted, got.Outcome)
	assert.Equal(t, 5, got.Statuses[tracker.StatusLoginRequired])
	assert.Equal(t, 5, got.Backoff.ConsecutiveFailures)
}

func TestMetricsEndpointAndMiddleware(t *testing.T) {
	srv := NewServer(fakeSource{}, nil)
	serve(t, srv, "/healthz")

	rec := serve(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/healthz"`)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	srv := NewServer(fakeSource{}, nil)
	h := srv.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	NewServer(fakeSource{}, nil).Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}
