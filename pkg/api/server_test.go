package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/platinummonkey/enx-analytics/pkg/batch"
	"github.com/platinummonkey/enx-analytics/pkg/consent"
	"github.com/platinummonkey/enx-analytics/pkg/dispatch"
	"github.com/platinummonkey/enx-analytics/pkg/events"
	"github.com/platinummonkey/enx-analytics/pkg/observability"
	"github.com/platinummonkey/enx-analytics/pkg/recorder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureDispatcher struct {
	mu      sync.Mutex
	batches []batch.Batch
}

func (d *captureDispatcher) Send(ctx context.Context, b batch.Batch) dispatch.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b)
	return dispatch.Result{Outcome: dispatch.Delivered, StatusCode: http.StatusAccepted}
}

func (d *captureDispatcher) sent() []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var all []events.Event
	for _, b := range d.batches {
		all = append(all, b.Events...)
	}
	return all
}

type testServer struct {
	*Server
	store      *consent.MemoryStore
	dispatcher *captureDispatcher
	metrics    *observability.Metrics
	registry   *prometheus.Registry
}

func newTestServer(t *testing.T, enabled bool) *testServer {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	ts := &testServer{
		store:      consent.NewMemoryStore(enabled),
		dispatcher: &captureDispatcher{},
		registry:   prometheus.NewRegistry(),
	}
	ts.metrics = observability.NewMetrics(ts.registry)

	rec, err := recorder.New(recorder.Config{
		Gate:       consent.NewGate(ts.store, consent.WithLogger(log)),
		Dispatcher: ts.dispatcher,
		Metrics:    ts.metrics,
		Log:        log,
	})
	require.NoError(t, err)

	health := observability.NewHealthChecker("test")
	ts.Server = NewServer(Config{
		Recorder: rec,
		Health:   health,
		Gatherer: ts.registry,
		Metrics:  ts.metrics,
		Log:      log,
	})
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func TestConsentEndpoints(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(http.MethodGet, "/api/v1/consent", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sharing_enabled": false}`, rec.Body.String())

	rec = ts.do(http.MethodPut, "/api/v1/consent", `{"sharing_enabled": true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sharing_enabled": true}`, rec.Body.String())

	enabled, err := ts.store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, enabled)

	rec = ts.do(http.MethodPut, "/api/v1/consent", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "sharing_enabled is required")
}

type readOnlyStore struct {
	consent.MemoryStore
}

func (s *readOnlyStore) Save(context.Context, bool) error {
	return errors.New("attempt to write a readonly database")
}

func TestPutConsent_StoreUnavailable(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	rec, err := recorder.New(recorder.Config{
		Gate:       consent.NewGate(&readOnlyStore{}, consent.WithLogger(log)),
		Dispatcher: &captureDispatcher{},
		Log:        log,
	})
	require.NoError(t, err)
	server := NewServer(Config{Recorder: rec, Log: log})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/consent", strings.NewReader(`{"sharing_enabled": true}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"analytics consent store unavailable"}`, w.Body.String())
	assert.False(t, rec.IsSharingEnabled(context.Background()))
}

func TestRecordAndFlush(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(http.MethodPost, "/api/v1/events", `{"kind": "ui_interaction", "type": "share_app"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = ts.do(http.MethodPost, "/api/v1/events", `{"kind": "rpc_call_success", "type": "keys_download", "payload_size": 512}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/flush", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result": "sent", "batch_id": 1, "events": 2, "outcome": "delivered"}`, rec.Body.String())

	sent := ts.dispatcher.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, events.KindUiInteraction, sent[0].Kind())
	size, ok := sent[1].PayloadSize()
	assert.True(t, ok)
	assert.Equal(t, 512, size)

	rec = ts.do(http.MethodPost, "/api/v1/flush", "")
	assert.JSONEq(t, `{"result": "empty", "events": 0}`, rec.Body.String())
}

func TestRecordWhileDisabledIsAcceptedAndDiscarded(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(http.MethodPost, "/api/v1/events", `{"kind": "ui_interaction", "type": "share_app"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/flush", "")
	assert.JSONEq(t, `{"result": "disabled", "events": 0}`, rec.Body.String())
	assert.Empty(t, ts.dispatcher.sent())
}

func TestRecordFailureKeepsHostClassification(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(http.MethodPost, "/api/v1/events",
		`{"kind": "rpc_call_failure", "type": "keys_upload", "error": {"class": "VerificationServerError", "message": "bad token", "code": 400}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = ts.do(http.MethodPost, "/api/v1/events",
		`{"kind": "api_call_failure", "type": "start", "error": {"message": "api not available"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	ts.do(http.MethodPost, "/api/v1/flush", "")
	sent := ts.dispatcher.sent()
	require.Len(t, sent, 2)

	assert.Equal(t, "VerificationServerError", sent[0].ErrorClass())
	assert.Equal(t, "bad token", sent[0].ErrorMessage())
	code, ok := sent[0].ServerErrorCode()
	assert.True(t, ok)
	assert.Equal(t, 400, code)

	assert.Equal(t, events.UnknownErrorClass, sent[1].ErrorClass())
	assert.Equal(t, "api not available", sent[1].ErrorMessage())
	_, ok = sent[1].ServerErrorCode()
	assert.False(t, ok)
}

func TestRecordEventValidation(t *testing.T) {
	ts := newTestServer(t, true)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"kind":`, "invalid JSON"},
		{"unknown field", `{"kind": "ui_interaction", "type": "share_app", "extra": true}`, "invalid JSON"},
		{"unknown kind", `{"kind": "page_view", "type": "home"}`, "unknown event kind"},
		{"unknown kind lists kinds", `{"kind": "page_view", "type": "home"}`, "worker_task_success"},
		{"unknown type", `{"kind": "ui_interaction", "type": "dance"}`, "unknown ui_interaction type"},
		{"rpc success without size", `{"kind": "rpc_call_success", "type": "keys_download"}`, "payload_size is required"},
		{"negative size", `{"kind": "rpc_call_success", "type": "keys_download", "payload_size": -1}`, "must not be negative"},
		{"size on failure", `{"kind": "rpc_call_failure", "type": "keys_download", "payload_size": 10}`, "payload_size is only valid"},
		{"error on success", `{"kind": "api_call_success", "type": "start", "error": {"message": "x"}}`, "error is only valid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/v1/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}

	assert.Equal(t, 0, ts.recorder.Pending())
}

func TestHealthEndpointsAndMetrics(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(http.MethodGet, "/livez", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.health.AddCheck("consent_store", true, func(ctx context.Context) error {
		return errors.New("database is locked")
	})
	rec = ts.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")

	ts.do(http.MethodGet, "/api/v1/consent", "")
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/consent", "200")))

	rec = ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "enx_analytics_http_requests_total")
}

func TestRequestIDAndUnknownRoute(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(http.MethodGet, "/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(http.MethodDelete, "/api/v1/consent", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
