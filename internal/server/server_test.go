package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/engine"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/Veraticus/factorflow/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRunner struct {
	run   *model.BatchRun
	err   error
	mu    sync.Mutex
	calls []service.RecordSelector
	limit int
}

func (r *stubRunner) RunBatch(_ context.Context, sel service.RecordSelector, limit int) (*model.BatchRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sel)
	r.limit = limit
	return r.run, r.err
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

func postBatch(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/batches", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Engine().ServeHTTP(resp, req)
	return resp
}

func TestCreateBatch_AllSucceeded(t *testing.T) {
	runner := &stubRunner{run: &model.BatchRun{
		ID:        "run-1",
		Processed: 2,
		Succeeded: 2,
		Details: []model.RecordOutcome{
			{EntryID: "rec-02", Success: true},
			{EntryID: "rec-01", Success: true},
		},
	}}
	s := New(runner, stubPinger{}, WithGatherer(prometheus.NewRegistry()))

	resp := postBatch(t, s, `{"scope":"acc1","concurrencyLimit":5}`)
	require.Equal(t, http.StatusOK, resp.Code)

	var run model.BatchRun
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &run))
	assert.Equal(t, 2, run.Processed)
	assert.Equal(t, "rec-01", run.Details[0].EntryID)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "acc1", runner.calls[0].AccountID)
	assert.Equal(t, service.SelectUnmatched, runner.calls[0].Kind)
	assert.Equal(t, 5, runner.limit)
}

func TestCreateBatch_PartialFailure(t *testing.T) {
	runner := &stubRunner{run: &model.BatchRun{
		Processed: 2,
		Succeeded: 1,
		Failed:    1,
		Details: []model.RecordOutcome{
			{EntryID: "rec-01", Success: true},
			{EntryID: "rec-02", Message: "no match found", Kind: common.KindNoMatch},
		},
	}}
	s := New(runner, stubPinger{}, WithGatherer(prometheus.NewRegistry()))

	resp := postBatch(t, s, `{"scope":"acc1","selector":"failed"}`)
	assert.Equal(t, http.StatusMultiStatus, resp.Code)
	assert.Contains(t, resp.Body.String(), "no match found")
	assert.Equal(t, service.SelectFailed, runner.calls[0].Kind)
}

func TestCreateBatch_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		runErr     error
		wantStatus int
		wantType   string
	}{
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest, wantType: "invalid_request"},
		{name: "missing scope", body: `{"scope":"  "}`, wantStatus: http.StatusBadRequest, wantType: "invalid_request"},
		{name: "negative limit", body: `{"scope":"acc1","concurrencyLimit":-1}`, wantStatus: http.StatusBadRequest, wantType: "invalid_request"},
		{name: "unknown selector", body: `{"scope":"acc1","selector":"everything"}`, wantStatus: http.StatusBadRequest, wantType: "invalid_request"},
		{name: "batch in progress", body: `{"scope":"acc1"}`, runErr: engine.ErrBatchInProgress, wantStatus: http.StatusConflict, wantType: "conflict"},
		{name: "catalog unavailable", body: `{"scope":"acc1"}`, runErr: fmt.Errorf("%w: empty", common.ErrCatalogLoad), wantStatus: http.StatusServiceUnavailable, wantType: "catalog_unavailable"},
		{name: "unexpected", body: `{"scope":"acc1"}`, runErr: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantType: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{run: &model.BatchRun{}, err: tt.runErr}
			s := New(runner, stubPinger{}, WithGatherer(prometheus.NewRegistry()))

			resp := postBatch(t, s, tt.body)
			assert.Equal(t, tt.wantStatus, resp.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body.Error.Type)
		})
	}
}

func TestHealth(t *testing.T) {
	s := New(&stubRunner{}, stubPinger{}, WithGatherer(prometheus.NewRegistry()))
	resp := httptest.NewRecorder()
	s.Engine().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	s = New(&stubRunner{}, stubPinger{err: errors.New("database is locked")}, WithGatherer(prometheus.NewRegistry()))
	resp = httptest.NewRecorder()
	s.Engine().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "factorflow_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	s := New(&stubRunner{}, nil, WithGatherer(registry))
	resp := httptest.NewRecorder()
	s.Engine().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, strings.Contains(resp.Body.String(), "factorflow_test_total 1"))
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := New(&stubRunner{}, nil, WithGatherer(prometheus.NewRegistry()))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	cancel()

	assert.NoError(t, <-done)
}
