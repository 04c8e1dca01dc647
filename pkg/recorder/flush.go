package recorder

import (
	"context"
	"fmt"

	"github.com/platinummonkey/enx-analytics/pkg/batch"
	"github.com/platinummonkey/enx-analytics/pkg/diagnostics"
	"github.com/platinummonkey/enx-analytics/pkg/dispatch"
	"github.com/platinummonkey/enx-analytics/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FlushReport describes what a flush trigger did
type FlushReport struct {
	// Result is one of the observability.FlushResult* values
	Result  string
	BatchID uint64
	Events  int
	// Outcome is only meaningful when Result is FlushResultSent
	Outcome dispatch.Outcome
	Reason  error
}

// Sent reports whether a batch was handed to the dispatcher
func (f FlushReport) Sent() bool {
	return f.Result == observability.FlushResultSent
}

// FlushIfEnabled sends the open batch if sharing is enabled. With sharing
// disabled the open batch is discarded instead. At most one flush runs at a
// time; a concurrent call returns immediately with FlushResultCoalesced.
//
// An explicit flush always attempts delivery, even while scheduled flushes
// are backing off.
func (r *Recorder) FlushIfEnabled(ctx context.Context) FlushReport {
	if !r.flushSem.TryAcquire(1) {
		r.metrics.FlushesTotal.WithLabelValues(observability.FlushResultCoalesced).Inc()
		return FlushReport{Result: observability.FlushResultCoalesced}
	}
	defer r.flushSem.Release(1)

	ctx, span := r.tracer.Start(ctx, "recorder.Flush")
	defer span.End()

	report := r.flush(ctx)

	span.SetAttributes(
		attribute.String("analytics.flush_result", report.Result),
		attribute.Int("analytics.batch_size", report.Events),
	)
	if report.Sent() {
		span.SetAttributes(attribute.String("analytics.outcome", report.Outcome.String()))
	}
	if report.Reason != nil {
		span.RecordError(report.Reason)
		span.SetStatus(codes.Error, report.Result)
	}

	r.metrics.FlushesTotal.WithLabelValues(report.Result).Inc()
	r.updatePending()
	return report
}

func (r *Recorder) flush(ctx context.Context) FlushReport {
	b, ok := r.acc.TakeSnapshotForSend()

	// Consent is read after the snapshot: a revocation saved before this
	// point is seen here, and one whose purge already ran has superseded b.
	if !r.gate.IsSharingEnabled(ctx) || (ok && !r.acc.IsCurrent(b)) {
		if ok {
			r.acc.Release(ctx, b)
			r.dropped(ctx, observability.DropReasonRevoked, b.Len())
			observability.FromContext(ctx, r.log).WithField("events", b.Len()).Debug("Sharing disabled, discarded queued analytics")
		}
		return FlushReport{Result: observability.FlushResultDisabled, BatchID: b.ID, Events: b.Len()}
	}
	if !ok {
		return FlushReport{Result: observability.FlushResultEmpty}
	}

	result := r.send(ctx, b)
	r.metrics.DispatchTotal.WithLabelValues(result.Outcome.String()).Inc()
	r.metrics.DispatchDuration.WithLabelValues(result.Outcome.String()).Observe(result.Duration.Seconds())
	r.metrics.BatchSize.Observe(float64(b.Len()))
	r.otelMetrics.RecordDispatch(ctx, result.Outcome.String(), result.Duration, b.Len())

	entry := observability.FromContext(ctx, r.log).WithFields(logrus.Fields{
		"batch_id": b.ID,
		"events":   b.Len(),
		"outcome":  result.Outcome.String(),
	})

	switch result.Outcome {
	case dispatch.Delivered:
		r.acc.Release(ctx, b)
		r.backoff.reset()
		entry.Info("Analytics batch delivered")

	case dispatch.TransientFailure:
		if r.acc.Restore(ctx, b) {
			until := r.backoff.fail(r.now())
			entry.WithError(result.Reason).WithField("retry_after", until).Warn("Analytics batch send failed, will retry")
		} else {
			// Superseded while in flight: consent was revoked
			r.dropped(ctx, observability.DropReasonRevoked, b.Len())
			entry.WithError(result.Reason).Info("Analytics batch send failed after consent was revoked, discarding")
		}

	case dispatch.PermanentFailure:
		r.acc.Release(ctx, b)
		r.backoff.reset()
		r.dropped(ctx, observability.DropReasonPermanent, b.Len())
		entry.WithError(result.Reason).Error("Analytics batch rejected, dropping")
		r.report(diagnostics.Diagnostic{
			Kind:    diagnostics.KindPermanentDispatchFailure,
			BatchID: b.ID,
			Count:   b.Len(),
			Err:     result.Reason,
		})
	}

	return FlushReport{
		Result:  observability.FlushResultSent,
		BatchID: b.ID,
		Events:  b.Len(),
		Outcome: result.Outcome,
		Reason:  result.Reason,
	}
}

// send calls the dispatcher, converting a panic into a permanent failure so
// a broken collector cannot wedge the batch in flight
func (r *Recorder) send(ctx context.Context, b batch.Batch) (result dispatch.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			err := observability.MustRecover(rec)
			r.log.WithError(err).WithField("batch_id", b.ID).Error("Dispatcher panicked")
			result = dispatch.Result{Outcome: dispatch.PermanentFailure, Reason: fmt.Errorf("dispatcher panicked: %w", err)}
		}
	}()

	ctx, span := r.tracer.Start(ctx, "recorder.Send", trace.WithAttributes(
		attribute.Int64("analytics.batch_id", int64(b.ID)),
	))
	defer span.End()

	return r.dispatcher.Send(ctx, b)
}
