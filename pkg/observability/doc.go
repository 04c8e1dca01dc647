// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health checks and graceful shutdown.
//
// # Logging
//
// Binaries build a JSON logrus logger:
//
//	log, err := observability.NewLogger(cfg.LogLevel, os.Stdout)
//
// FromContext decorates it with the request ID and the active trace.
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.EventsRecorded.WithLabelValues("ui_interaction").Inc()
//
// MetricsHandler exposes the registry; HTTPMetricsMiddleware instruments a
// gorilla/mux router by route template.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "enx-analyticsd",
//	}, log)
//	defer observability.ShutdownOTel(ctx, providers, log)
//
// # Health and shutdown
//
// HealthChecker aggregates named dependency checks; ShutdownManager stops the
// HTTP server and then runs registered steps (final flush, store close) in
// order.
package observability
