package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the recorder's delivery metrics as OpenTelemetry
// instruments, exported over OTLP when InitOTel is enabled
type OTelMetrics struct {
	eventsRecorded   metric.Int64Counter
	eventsDropped    metric.Int64Counter
	dispatchTotal    metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	batchSize        metric.Int64Histogram
}

// NewOTelMetrics creates the instruments from provider. A nil provider uses
// the global one, which is a no-op until InitOTel installs an SDK provider.
func NewOTelMetrics(provider metric.MeterProvider) (*OTelMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("github.com/platinummonkey/enx-analytics")

	m := &OTelMetrics{}
	var err error

	m.eventsRecorded, err = meter.Int64Counter(
		"analytics.events.recorded",
		metric.WithDescription("Analytics events accepted into the buffer"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events recorded counter: %w", err)
	}

	m.eventsDropped, err = meter.Int64Counter(
		"analytics.events.dropped",
		metric.WithDescription("Analytics events discarded without delivery"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events dropped counter: %w", err)
	}

	m.dispatchTotal, err = meter.Int64Counter(
		"analytics.dispatch.attempts",
		metric.WithDescription("Batch delivery attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch counter: %w", err)
	}

	m.dispatchDuration, err = meter.Float64Histogram(
		"analytics.dispatch.duration",
		metric.WithDescription("Batch delivery attempt duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch duration histogram: %w", err)
	}

	m.batchSize, err = meter.Int64Histogram(
		"analytics.batch.size",
		metric.WithDescription("Events per dispatched batch"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch size histogram: %w", err)
	}

	return m, nil
}

// RecordEvent counts one accepted event of the given kind
func (m *OTelMetrics) RecordEvent(ctx context.Context, kind string) {
	m.eventsRecorded.Add(ctx, 1, metric.WithAttributes(attribute.String("analytics.kind", kind)))
}

// RecordDrop counts n discarded events
func (m *OTelMetrics) RecordDrop(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	m.eventsDropped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("analytics.drop_reason", reason)))
}

// RecordDispatch records one delivery attempt
func (m *OTelMetrics) RecordDispatch(ctx context.Context, outcome string, duration time.Duration, events int) {
	attrs := metric.WithAttributes(attribute.String("analytics.outcome", outcome))
	m.dispatchTotal.Add(ctx, 1, attrs)
	m.dispatchDuration.Record(ctx, duration.Seconds(), attrs)
	m.batchSize.Record(ctx, int64(events))
}
