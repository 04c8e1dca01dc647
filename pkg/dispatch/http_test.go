package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/enx-analytics/pkg/batch"
	"github.com/platinummonkey/enx-analytics/pkg/events"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var (
	spanRecorderOnce sync.Once
	spanRecorder     *tracetest.SpanRecorder
)

// installSpanRecorder routes the global tracer provider into a recorder.
// The global provider only delegates once, so it is shared by all tests.
func installSpanRecorder() *tracetest.SpanRecorder {
	spanRecorderOnce.Do(func() {
		spanRecorder = tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder)))
	})
	return spanRecorder
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testBatch() batch.Batch {
	return batch.Batch{
		ID: 42,
		Events: []events.Event{
			events.NewUiInteraction(events.UiShareApp),
			events.NewRpcCallSuccess(events.RpcKeysDownload, 512),
		},
	}
}

func newTestHTTPDispatcher(t *testing.T, url string, timeout time.Duration) *HTTPDispatcher {
	t.Helper()
	d, err := NewHTTPDispatcher(HTTPConfig{
		URL:     url,
		APIKey:  "secret-token",
		Timeout: timeout,
		Client:  ClientInfo{Name: "enx", Version: "1.2.3", Platform: "linux"},
		Log:     quietLogger(),
	})
	require.NoError(t, err)
	return d
}

func TestNewHTTPDispatcher_RequiresURL(t *testing.T) {
	_, err := NewHTTPDispatcher(HTTPConfig{})
	require.Error(t, err)
}

func TestHTTPDispatcher_DeliversEnvelope(t *testing.T) {
	var (
		got     Envelope
		headers http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b := testBatch()
	result := newTestHTTPDispatcher(t, server.URL, time.Second).Send(context.Background(), b)

	assert.Equal(t, Delivered, result.Outcome)
	assert.NoError(t, result.Reason)
	assert.Equal(t, http.StatusAccepted, result.StatusCode)
	assert.Positive(t, result.Duration)

	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "Bearer secret-token", headers.Get("Authorization"))
	assert.Equal(t, "42", headers.Get("X-Analytics-Batch-ID"))
	assert.Equal(t, "enx/1.2.3", headers.Get("User-Agent"))

	assert.Equal(t, uint64(42), got.BatchID)
	assert.Equal(t, "enx", got.Client.Name)
	assert.False(t, got.SentAt.IsZero())
	require.Len(t, got.Events, 2)
	assert.Equal(t, b.Events[0].ID(), got.Events[0].ID())
	size, ok := got.Events[1].PayloadSize()
	assert.True(t, ok)
	assert.Equal(t, 512, size)
}

func TestHTTPDispatcher_StatusClassification(t *testing.T) {
	tests := []struct {
		status  int
		outcome Outcome
	}{
		{http.StatusOK, Delivered},
		{http.StatusNoContent, Delivered},
		{http.StatusBadRequest, PermanentFailure},
		{http.StatusUnauthorized, PermanentFailure},
		{http.StatusNotFound, PermanentFailure},
		{http.StatusRequestEntityTooLarge, PermanentFailure},
		{http.StatusUnprocessableEntity, PermanentFailure},
		{http.StatusTooManyRequests, PermanentFailure},
		{http.StatusInternalServerError, TransientFailure},
		{http.StatusBadGateway, TransientFailure},
		{http.StatusServiceUnavailable, TransientFailure},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("schema mismatch\n"))
			}))
			defer server.Close()

			result := newTestHTTPDispatcher(t, server.URL, time.Second).Send(context.Background(), testBatch())
			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Equal(t, tt.status, result.StatusCode)

			if tt.outcome == Delivered {
				assert.NoError(t, result.Reason)
				return
			}
			var statusErr *StatusError
			require.ErrorAs(t, result.Reason, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, "schema mismatch", statusErr.Body)
		})
	}
}

func TestHTTPDispatcher_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	result := newTestHTTPDispatcher(t, server.URL, 50*time.Millisecond).Send(context.Background(), testBatch())
	assert.Equal(t, TransientFailure, result.Outcome)
	assert.Error(t, result.Reason)
	assert.Zero(t, result.StatusCode)
}

func TestHTTPDispatcher_ConnectivityFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	result := newTestHTTPDispatcher(t, url, time.Second).Send(context.Background(), testBatch())
	assert.Equal(t, TransientFailure, result.Outcome)
}

func TestHTTPDispatcher_CallerCancellationIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := newTestHTTPDispatcher(t, server.URL, time.Second).Send(ctx, testBatch())
	assert.Equal(t, TransientFailure, result.Outcome)
	assert.ErrorIs(t, result.Reason, context.Canceled)
}

func TestHTTPDispatcher_BadURLIsPermanent(t *testing.T) {
	result := newTestHTTPDispatcher(t, "://not-a-url", time.Second).Send(context.Background(), testBatch())
	assert.Equal(t, PermanentFailure, result.Outcome)
	assert.Error(t, result.Reason)
}

func TestHTTPDispatcher_DoesNotMutateBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	b := testBatch()
	ids := b.EventIDs()
	newTestHTTPDispatcher(t, server.URL, time.Second).Send(context.Background(), b)

	assert.Equal(t, uint64(42), b.ID)
	assert.Equal(t, ids, b.EventIDs())
}

func TestHTTPDispatcher_RecordsSpan(t *testing.T) {
	recorder := installSpanRecorder()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	newTestHTTPDispatcher(t, server.URL, time.Second).Send(context.Background(), testBatch())

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() != "dispatch.HTTP.Send" {
			continue
		}
		found = true
		attrs := map[string]string{}
		for _, kv := range span.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		assert.Equal(t, "permanent_failure", attrs["analytics.outcome"])
		assert.Equal(t, "2", attrs["analytics.batch_size"])
	}
	assert.True(t, found, "expected a dispatch span")
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, Delivered, ClassifyStatus(201))
	assert.Equal(t, TransientFailure, ClassifyStatus(504))
	assert.Equal(t, PermanentFailure, ClassifyStatus(403))
	assert.Equal(t, PermanentFailure, ClassifyStatus(304))
	assert.Equal(t, PermanentFailure, ClassifyStatus(0))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "transient_failure", TransientFailure.String())
	assert.Equal(t, "permanent_failure", PermanentFailure.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

func TestDispatcherFunc(t *testing.T) {
	var calls int
	d := DispatcherFunc(func(ctx context.Context, b batch.Batch) Result {
		calls++
		return Result{Outcome: Delivered}
	})
	assert.Equal(t, Delivered, d.Send(context.Background(), testBatch()).Outcome)
	assert.Equal(t, 1, calls)
}
