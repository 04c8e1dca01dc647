package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/enx-analytics/pkg/batch"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHTTPTimeout bounds a single HTTP send
const DefaultHTTPTimeout = 10 * time.Second

// maxResponseBody is how much of a collector response is kept for errors
const maxResponseBody = 4 << 10

var tracer = otel.Tracer("github.com/platinummonkey/enx-analytics/pkg/dispatch")

// HTTPConfig configures an HTTPDispatcher
type HTTPConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Client  ClientInfo
	// HTTPClient overrides the instrumented default client
	HTTPClient *http.Client
	Log        *logrus.Logger
}

// HTTPDispatcher POSTs envelopes to a collector endpoint
type HTTPDispatcher struct {
	url     string
	apiKey  string
	timeout time.Duration
	client  ClientInfo
	http    *http.Client
	log     *logrus.Logger
	now     func() time.Time
}

// NewHTTPDispatcher creates a dispatcher for cfg.URL
func NewHTTPDispatcher(cfg HTTPConfig) (*HTTPDispatcher, error) {
	if cfg.URL == "" {
		return nil, errors.New("collector URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &HTTPDispatcher{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		client:  cfg.Client,
		http:    httpClient,
		log:     cfg.Log,
		now:     time.Now,
	}, nil
}

// Send implements Dispatcher
func (d *HTTPDispatcher) Send(ctx context.Context, b batch.Batch) Result {
	ctx, span := tracer.Start(ctx, "dispatch.HTTP.Send",
		trace.WithAttributes(
			attribute.Int64("analytics.batch_id", int64(b.ID)),
			attribute.Int("analytics.batch_size", b.Len()),
		),
	)
	defer span.End()

	start := time.Now()
	result := d.send(ctx, b)
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("analytics.outcome", result.Outcome.String()),
		attribute.Int("http.status_code", result.StatusCode),
	)
	if result.Reason != nil {
		span.RecordError(result.Reason)
		span.SetStatus(codes.Error, result.Outcome.String())
	} else {
		span.SetStatus(codes.Ok, "batch delivered")
	}

	d.log.WithFields(logrus.Fields{
		"batch_id": b.ID,
		"events":   b.Len(),
		"outcome":  result.Outcome.String(),
		"status":   result.StatusCode,
		"duration": result.Duration,
	}).Debug("Analytics batch sent")

	return result
}

func (d *HTTPDispatcher) send(ctx context.Context, b batch.Batch) Result {
	body, err := json.Marshal(NewEnvelope(b, d.client, d.now()))
	if err != nil {
		return Result{Outcome: PermanentFailure, Reason: fmt.Errorf("failed to encode batch: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: PermanentFailure, Reason: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent(d.client))
	req.Header.Set("X-Analytics-Batch-ID", strconv.FormatUint(b.ID, 10))
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		// Timeouts, refused connections and caller cancellation alike
		return Result{Outcome: TransientFailure, Reason: fmt.Errorf("failed to reach collector: %w", err)}
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	outcome := ClassifyStatus(resp.StatusCode)
	if outcome == Delivered {
		return Result{Outcome: Delivered, StatusCode: resp.StatusCode}
	}
	return Result{
		Outcome:    outcome,
		StatusCode: resp.StatusCode,
		Reason:     &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))},
	}
}

func userAgent(c ClientInfo) string {
	name := c.Name
	if name == "" {
		name = "enx-analytics"
	}
	if c.Version != "" {
		return name + "/" + c.Version
	}
	return name
}

// StatusError is a non-2xx collector response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("collector returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("collector returned status %d: %s", e.StatusCode, e.Body)
}
