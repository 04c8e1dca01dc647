package recorder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/platinummonkey/enx-analytics/pkg/async"
	"github.com/platinummonkey/enx-analytics/pkg/batch"
	"github.com/platinummonkey/enx-analytics/pkg/consent"
	"github.com/platinummonkey/enx-analytics/pkg/diagnostics"
	"github.com/platinummonkey/enx-analytics/pkg/dispatch"
	"github.com/platinummonkey/enx-analytics/pkg/events"
	"github.com/platinummonkey/enx-analytics/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// DefaultDiagnosticTimeout bounds a single diagnostic sink call
const DefaultDiagnosticTimeout = 5 * time.Second

var (
	// ErrMissingGate is returned by New without a consent gate
	ErrMissingGate = errors.New("recorder requires a consent gate")
	// ErrMissingDispatcher is returned by New without a dispatcher
	ErrMissingDispatcher = errors.New("recorder requires a dispatcher")
)

const tracerName = "github.com/platinummonkey/enx-analytics/pkg/recorder"

// Config configures a Recorder. Gate and Dispatcher are required.
type Config struct {
	Gate       *consent.Gate
	Dispatcher dispatch.Dispatcher

	// Journal makes buffered events durable across restarts; nil keeps
	// them in memory only
	Journal      batch.Journal
	MaxEvents    int
	DedupeWindow int

	Retry RetryConfig

	// Sink receives diagnostics; nil discards them
	Sink              diagnostics.Sink
	DiagnosticTimeout time.Duration

	// Metrics defaults to a private registry
	Metrics *observability.Metrics
	// OTelMetrics defaults to instruments on the global meter provider
	OTelMetrics *observability.OTelMetrics
	// TracerProvider defaults to the global provider
	TracerProvider trace.TracerProvider
	Log            *logrus.Logger
}

// Recorder is the entry point for analytics: it records typed events while
// the user has opted in and flushes them to the collector.
//
// Recording methods never block on the network, never panic and never
// return errors; failures are logged, counted and reported to the
// diagnostic sink.
type Recorder struct {
	gate       *consent.Gate
	dispatcher dispatch.Dispatcher
	acc        *batch.Accumulator
	backoff    *backoff
	flushSem   *semaphore.Weighted

	sink        diagnostics.Sink
	diagTimeout time.Duration
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	tracer      trace.Tracer
	log         *logrus.Logger
	now         func() time.Time
}

// New creates a recorder. It does not load the journal; call Load once at
// startup to recover events left by a previous process.
func New(cfg Config) (*Recorder, error) {
	if cfg.Gate == nil {
		return nil, ErrMissingGate
	}
	if cfg.Dispatcher == nil {
		return nil, ErrMissingDispatcher
	}
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}
	if cfg.Sink == nil {
		cfg.Sink = diagnostics.NopSink{}
	}
	if cfg.DiagnosticTimeout <= 0 {
		cfg.DiagnosticTimeout = DefaultDiagnosticTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.OTelMetrics == nil {
		m, err := observability.NewOTelMetrics(nil)
		if err != nil {
			return nil, err
		}
		cfg.OTelMetrics = m
	}

	r := &Recorder{
		gate:        cfg.Gate,
		dispatcher:  cfg.Dispatcher,
		backoff:     &backoff{policy: NewRetryPolicy(cfg.Retry)},
		flushSem:    semaphore.NewWeighted(1),
		sink:        cfg.Sink,
		diagTimeout: cfg.DiagnosticTimeout,
		metrics:     cfg.Metrics,
		otelMetrics: cfg.OTelMetrics,
		tracer:      cfg.TracerProvider.Tracer(tracerName),
		log:         cfg.Log,
		now:         time.Now,
	}

	acc, err := batch.NewAccumulator(batch.Config{
		MaxEvents:    cfg.MaxEvents,
		DedupeWindow: cfg.DedupeWindow,
		Journal:      cfg.Journal,
		Log:          cfg.Log,
		Hooks: batch.Hooks{
			Overflow: r.onOverflow,
			Dropped:  r.onDropped,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create accumulator: %w", err)
	}
	r.acc = acc

	return r, nil
}

// Load restores journalled events from a previous process. Events are only
// restored while sharing is enabled; otherwise the journal is purged.
func (r *Recorder) Load(ctx context.Context) (int, error) {
	if !r.gate.IsSharingEnabled(ctx) {
		r.acc.Purge(ctx)
		r.updatePending()
		return 0, nil
	}
	n, err := r.acc.Load(ctx)
	r.updatePending()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.WithField("events", n).Info("Restored journalled analytics events")
	}
	return n, nil
}

// LogUiInteraction records a UI interaction
func (r *Recorder) LogUiInteraction(ctx context.Context, eventType events.UiEventType) {
	r.record(ctx, events.KindUiInteraction, func() events.Event {
		return events.NewUiInteraction(eventType)
	})
}

// LogWorkerTaskSuccess records a successful background task
func (r *Recorder) LogWorkerTaskSuccess(ctx context.Context, task events.WorkerTask) {
	r.record(ctx, events.KindWorkerTaskSuccess, func() events.Event {
		return events.NewWorkerTaskSuccess(task)
	})
}

// LogWorkerTaskFailure records a failed background task
func (r *Recorder) LogWorkerTaskFailure(ctx context.Context, task events.WorkerTask, err error) {
	r.record(ctx, events.KindWorkerTaskFailure, func() events.Event {
		return events.NewWorkerTaskFailure(task, err)
	})
}

// LogApiCallSuccess records a successful platform API call
func (r *Recorder) LogApiCallSuccess(ctx context.Context, call events.ApiCallType) {
	r.record(ctx, events.KindApiCallSuccess, func() events.Event {
		return events.NewApiCallSuccess(call)
	})
}

// LogApiCallFailure records a failed platform API call
func (r *Recorder) LogApiCallFailure(ctx context.Context, call events.ApiCallType, err error) {
	r.record(ctx, events.KindApiCallFailure, func() events.Event {
		return events.NewApiCallFailure(call, err)
	})
}

// LogRpcCallSuccess records a successful RPC with its response payload size
func (r *Recorder) LogRpcCallSuccess(ctx context.Context, call events.RpcCallType, payloadSize int) {
	r.record(ctx, events.KindRpcCallSuccess, func() events.Event {
		return events.NewRpcCallSuccess(call, payloadSize)
	})
}

// LogRpcCallFailure records a failed RPC
func (r *Recorder) LogRpcCallFailure(ctx context.Context, call events.RpcCallType, err error) {
	r.record(ctx, events.KindRpcCallFailure, func() events.Event {
		return events.NewRpcCallFailure(call, err)
	})
}

// record checks consent before building the event, so nothing is
// constructed while sharing is disabled
func (r *Recorder) record(ctx context.Context, kind events.Kind, build func() events.Event) {
	defer observability.RecoverPanic(r.log, "record analytics event")

	// read before the consent check: a revocation that purges after the
	// check advances the epoch and the append below is refused
	epoch := r.acc.Epoch()
	if !r.gate.IsSharingEnabled(ctx) {
		r.metrics.EventsSkipped.WithLabelValues(string(kind), observability.SkipReasonConsent).Inc()
		return
	}

	event, err := buildEvent(build)
	if err != nil {
		r.metrics.EventsInvalid.WithLabelValues(string(kind)).Inc()
		r.log.WithError(err).WithField("kind", kind).Error("Discarding invalid analytics event")
		r.report(diagnostics.Diagnostic{Kind: diagnostics.KindInvalidEvent, Count: 1, Err: err})
		return
	}

	if !r.acc.AppendInEpoch(ctx, epoch, event) {
		r.metrics.EventsSkipped.WithLabelValues(string(kind), observability.SkipReasonConsent).Inc()
		r.log.WithField("kind", kind).Debug("Sharing revoked while recording, event discarded")
		return
	}
	r.metrics.EventsRecorded.WithLabelValues(string(kind)).Inc()
	r.otelMetrics.RecordEvent(ctx, string(kind))
	r.updatePending()
}

func buildEvent(build func() events.Event) (event events.Event, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = observability.MustRecover(rec)
		}
	}()
	return build(), nil
}

// IsSharingEnabled reports the persisted consent state
func (r *Recorder) IsSharingEnabled(ctx context.Context) bool {
	return r.gate.IsSharingEnabled(ctx)
}

// SetSharingEnabled persists the consent state. Revoking consent purges
// every buffered event and supersedes any in-flight batch, so a failing
// send cannot requeue revoked data.
func (r *Recorder) SetSharingEnabled(ctx context.Context, enabled bool) error {
	if err := r.gate.SetSharingEnabled(ctx, enabled); err != nil {
		return err
	}
	r.metrics.ConsentChanges.WithLabelValues(strconv.FormatBool(enabled)).Inc()

	if !enabled {
		if dropped := r.acc.Purge(ctx); dropped > 0 {
			r.log.WithField("events", dropped).Info("Purged buffered analytics after consent was revoked")
		}
		r.backoff.reset()
		r.updatePending()
	}
	return nil
}

// Pending returns the number of events waiting in the open batch
func (r *Recorder) Pending() int {
	return r.acc.Len()
}

// BackoffUntil returns when scheduled flushes may resume after transient
// failures. The zero time means no backoff is in effect.
func (r *Recorder) BackoffUntil() time.Time {
	_, until := r.backoff.state()
	return until
}

func (r *Recorder) updatePending() {
	r.metrics.PendingEvents.Set(float64(r.acc.Len()))
}

func (r *Recorder) onOverflow(capacity int) {
	r.metrics.BufferOverflows.Inc()
	r.report(diagnostics.Diagnostic{
		Kind:  diagnostics.KindBufferOverflow,
		Count: capacity,
		Err:   fmt.Errorf("analytics buffer reached capacity of %d events", capacity),
	})
}

func (r *Recorder) onDropped(n int, reason string) {
	label := observability.DropReasonOverflow
	if reason == batch.DropReasonPurged {
		label = observability.DropReasonPurged
	}
	r.dropped(context.Background(), label, n)
}

func (r *Recorder) dropped(ctx context.Context, reason string, n int) {
	r.metrics.EventsDropped.WithLabelValues(reason).Add(float64(n))
	r.otelMetrics.RecordDrop(ctx, reason, n)
}

// report hands a diagnostic to the sink off the calling goroutine
func (r *Recorder) report(d diagnostics.Diagnostic) {
	if d.Time.IsZero() {
		d.Time = r.now().UTC()
	}
	sink := r.sink
	async.SafeGo(context.Background(), r.diagTimeout, "analytics diagnostic", func(ctx context.Context) error {
		return sink.Report(ctx, d)
	})
}
