package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/platinummonkey/enx-analytics/pkg/api"
	"github.com/platinummonkey/enx-analytics/pkg/async"
	"github.com/platinummonkey/enx-analytics/pkg/batch"
	"github.com/platinummonkey/enx-analytics/pkg/config"
	"github.com/platinummonkey/enx-analytics/pkg/consent"
	"github.com/platinummonkey/enx-analytics/pkg/diagnostics"
	"github.com/platinummonkey/enx-analytics/pkg/dispatch"
	"github.com/platinummonkey/enx-analytics/pkg/observability"
	"github.com/platinummonkey/enx-analytics/pkg/recorder"
	"github.com/platinummonkey/enx-analytics/pkg/storage/redis"
	"github.com/platinummonkey/enx-analytics/pkg/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	flushOnce   = flag.Bool("flush-once", false, "Load journalled events, flush once and exit")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "enx-analyticsd: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enx-analyticsd: %v\n", err)
		os.Exit(1)
	}
	async.SetLogger(log)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("enx-analyticsd failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx := context.Background()

	client := dispatch.ClientInfo{
		Name:     cfg.Collector.ClientName,
		Version:  cfg.Collector.ClientVersion,
		Platform: cfg.Collector.ClientPlatform,
	}

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		ClientName:     client.Name,
		ClientVersion:  client.Version,
		ClientPlatform: client.Platform,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	health := observability.NewHealthChecker(version)

	var db *sqlite.Store
	if cfg.Consent.Store == config.ConsentStoreSQLite || cfg.Storage.Journal {
		db, err = sqlite.Open(cfg.Storage.SQLitePath, log)
		if err != nil {
			return err
		}
		defer db.Close()
		health.AddCheck("sqlite", true, db.Ping)
		log.WithField("path", cfg.Storage.SQLitePath).Info("SQLite store opened")
	}

	store, closeStore, err := openConsentStore(cfg, db, health)
	if err != nil {
		return err
	}

	dispatcher, err := newDispatcher(ctx, cfg, client, log)
	if err != nil {
		return err
	}

	var journal batch.Journal
	if cfg.Storage.Journal {
		journal = db.Journal()
	}

	retry := recorder.RetryConfig{
		InitialDelay:      cfg.Recorder.Retry.InitialDelay,
		MaxDelay:          cfg.Recorder.Retry.MaxDelay,
		BackoffMultiplier: cfg.Recorder.Retry.BackoffMultiplier,
	}

	rec, err := recorder.New(recorder.Config{
		Gate: consent.NewGate(store,
			consent.WithReadTimeout(cfg.Consent.ReadTimeout),
			consent.WithLogger(log),
		),
		Dispatcher:        dispatcher,
		Journal:           journal,
		MaxEvents:         cfg.Recorder.MaxEvents,
		DedupeWindow:      cfg.Recorder.DedupeWindow,
		Retry:             retry,
		Sink:              diagnostics.NewLogrusSink(log),
		DiagnosticTimeout: cfg.Recorder.DiagnosticTimeout,
		Metrics:           metrics,
		Log:               log,
	})
	if err != nil {
		return err
	}
	if _, err := rec.Load(ctx); err != nil {
		log.WithError(err).Warn("Failed to restore journalled analytics events")
	}

	if *flushOnce {
		flushErr := finalFlush(ctx, cfg, log, rec)
		otelCtx, cancel := context.WithTimeout(ctx, cfg.Recorder.FlushTimeout)
		defer cancel()
		return errors.Join(flushErr, observability.ShutdownOTel(otelCtx, providers, log))
	}

	scheduler, err := recorder.NewScheduler(rec, cfg.Recorder.FlushSchedule, cfg.Recorder.FlushTimeout, log)
	if err != nil {
		return err
	}

	apiConfig := api.Config{
		Recorder: rec,
		Health:   health,
		Metrics:  metrics,
		Log:      log,
	}
	if cfg.Observability.MetricsEnabled {
		apiConfig.Gatherer = registry
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewServer(apiConfig),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sm := observability.NewShutdownManager(log, httpServer, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc("scheduler", scheduler.Stop)
	sm.RegisterShutdownFunc("final flush", func(ctx context.Context) error {
		return finalFlush(ctx, cfg, log, rec)
	})
	if closeStore != nil {
		sm.RegisterShutdownFunc("consent store", func(context.Context) error { return closeStore() })
	}
	sm.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, log)
	})

	scheduler.Start()

	go func() {
		log.WithField("addr", httpServer.Addr).Info("Starting analytics bridge")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Analytics bridge failed")
		}
	}()

	return sm.WaitForShutdown()
}

// openConsentStore returns the configured store and, when it owns a
// connection, the function that closes it
func openConsentStore(cfg *config.Config, db *sqlite.Store, health *observability.HealthChecker) (consent.Store, func() error, error) {
	switch cfg.Consent.Store {
	case config.ConsentStoreMemory:
		return consent.NewMemoryStore(cfg.Consent.Default), nil, nil
	case config.ConsentStoreSQLite:
		return db, nil, nil
	case config.ConsentStoreRedis:
		store, err := redis.NewConsentStore(redis.Config{
			URL:        cfg.Consent.RedisURL,
			Password:   cfg.Consent.RedisPassword,
			DB:         cfg.Consent.RedisDB,
			MaxRetries: cfg.Consent.RedisMaxRetries,
			PoolSize:   cfg.Consent.RedisPoolSize,
			Key:        cfg.Consent.RedisKey,
		})
		if err != nil {
			return nil, nil, err
		}
		health.AddCheck("redis", true, store.Ping)
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported consent store %q", cfg.Consent.Store)
	}
}

func newDispatcher(ctx context.Context, cfg *config.Config, client dispatch.ClientInfo, log *logrus.Logger) (dispatch.Dispatcher, error) {
	switch cfg.Collector.Type {
	case config.CollectorHTTP:
		d, err := dispatch.NewHTTPDispatcher(dispatch.HTTPConfig{
			URL:     cfg.Collector.URL,
			APIKey:  cfg.Collector.APIKey,
			Timeout: cfg.Collector.Timeout,
			Client:  client,
			Log:     log,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.CollectorS3:
		d, err := dispatch.NewS3Dispatcher(ctx, dispatch.S3Config{
			Bucket:       cfg.Collector.S3Bucket,
			Prefix:       cfg.Collector.S3Prefix,
			Region:       cfg.Collector.S3Region,
			Endpoint:     cfg.Collector.S3Endpoint,
			AccessKey:    cfg.Collector.S3AccessKey,
			SecretKey:    cfg.Collector.S3SecretKey,
			UsePathStyle: cfg.Collector.S3UsePathStyle,
			Timeout:      cfg.Collector.Timeout,
			Client:       client,
			Log:          log,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported collector type %q", cfg.Collector.Type)
	}
}

// finalFlush sends whatever is buffered, bounded by the flush timeout
func finalFlush(ctx context.Context, cfg *config.Config, log *logrus.Logger, rec *recorder.Recorder) error {
	ok := async.Run(ctx, cfg.Recorder.FlushTimeout, "final analytics flush", func(ctx context.Context) error {
		logFlush(log, rec.FlushIfEnabled(ctx))
		return nil
	})
	if !ok {
		return errors.New("final analytics flush did not complete")
	}
	return nil
}

func logFlush(log *logrus.Logger, report recorder.FlushReport) {
	entry := log.WithFields(logrus.Fields{
		"result":   report.Result,
		"batch_id": report.BatchID,
		"events":   report.Events,
	})
	if report.Sent() {
		entry = entry.WithField("outcome", report.Outcome.String())
	}
	if report.Reason != nil {
		entry = entry.WithError(report.Reason)
	}
	entry.Info("Analytics flush finished")
}
