package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Skip, drop and flush label values
const (
	SkipReasonConsent = "consent_disabled"

	DropReasonOverflow  = "overflow"
	DropReasonPurged    = "purged"
	DropReasonRevoked   = "revoked"
	DropReasonPermanent = "permanent_failure"

	FlushResultSent      = "sent"
	FlushResultEmpty     = "empty"
	FlushResultDisabled  = "disabled"
	FlushResultCoalesced = "coalesced"
	FlushResultBackoff   = "backoff"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP bridge metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Recording metrics
	EventsRecorded *prometheus.CounterVec
	EventsSkipped  *prometheus.CounterVec
	EventsInvalid  *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	PendingEvents  prometheus.Gauge

	// Dispatch metrics
	FlushesTotal     *prometheus.CounterVec
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	BatchSize        prometheus.Histogram
	BufferOverflows  prometheus.Counter

	// Consent metrics
	ConsentChanges *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enx_analytics_http_requests_total",
				Help: "Total number of HTTP bridge requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enx_analytics_http_request_duration_seconds",
				Help:    "HTTP bridge request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		EventsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enx_analytics_events_recorded_total",
				Help: "Total number of analytics events accepted into the buffer",
			},
			[]string{"kind"},
		),
		EventsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enx_analytics_events_skipped_total",
				Help: "Total number of recording calls ignored without constructing an event",
			},
			[]string{"kind", "reason"},
		),
		EventsInvalid: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enx_analytics_events_invalid_total",
				Help: "Total number of recording calls rejected by event validation",
			},
			[]string{"kind"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enx_analytics_events_dropped_total",
				Help: "Total number of buffered events discarded without delivery",
			},
			[]string{"reason"},
		),
		PendingEvents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "enx_analytics_pending_events",
				Help: "Number of events waiting in the open batch",
			},
		),

		FlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enx_analytics_flushes_total",
				Help: "Total number of flush triggers by result",
			},
			[]string{"result"},
		),
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enx_analytics_dispatch_total",
				Help: "Total number of batch send attempts by outcome",
			},
			[]string{"outcome"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enx_analytics_dispatch_duration_seconds",
				Help:    "Batch send duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "enx_analytics_batch_size_events",
				Help:    "Number of events per sent batch",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		BufferOverflows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "enx_analytics_buffer_overflows_total",
				Help: "Total number of buffer overflow episodes",
			},
		),

		ConsentChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enx_analytics_consent_changes_total",
				Help: "Total number of persisted consent changes",
			},
			[]string{"enabled"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsRecorded,
		m.EventsSkipped,
		m.EventsInvalid,
		m.EventsDropped,
		m.PendingEvents,
		m.FlushesTotal,
		m.DispatchTotal,
		m.DispatchDuration,
		m.BatchSize,
		m.BufferOverflows,
		m.ConsentChanges,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their mux route template to bound cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
