// Package config provides application configuration management from
// environment variables and an optional YAML file.
//
// # Overview
//
// LoadConfig starts from Default, overlays the YAML file named by
// ENX_CONFIG_FILE (if any) and then applies ENX_* environment variables.
// The result is validated before it is returned.
//
// # Configuration Structure
//
// Server settings (local HTTP bridge):
//
//	ENX_HOST="127.0.0.1"
//	ENX_PORT="8787"
//	ENX_SHUTDOWN_TIMEOUT="30s"
//
// Consent and storage settings:
//
//	ENX_CONSENT_STORE="sqlite"  # memory, sqlite, redis
//	ENX_SQLITE_PATH="/var/lib/enx/analytics.db"
//	ENX_JOURNAL_ENABLED="true"
//	ENX_REDIS_URL="redis://localhost:6379/0"
//
// Collector settings:
//
//	ENX_COLLECTOR_TYPE="http"  # http, s3
//	ENX_COLLECTOR_URL="https://collector.example.com/v1/batches"
//	ENX_COLLECTOR_API_KEY="..."
//	ENX_S3_BUCKET="enx-analytics"
//
// Recorder settings:
//
//	ENX_MAX_EVENTS="10000"
//	ENX_FLUSH_SCHEDULE="*/15 * * * *"
//	ENX_RETRY_INITIAL_DELAY="30s"
//	ENX_RETRY_MAX_DELAY="1h"
//
// Observability settings:
//
//	ENX_LOG_LEVEL="info"  # debug, info, warn, error
//	ENX_METRICS_ENABLED="true"
//	ENX_OTEL_ENABLED="true"
//	ENX_OTEL_ENDPOINT="otel-collector:4317"
//
// The same settings in YAML:
//
//	collector:
//	  type: s3
//	  s3_bucket: enx-analytics
//	recorder:
//	  flush_schedule: "@every 10m"
//	  retry:
//	    initial_delay: 1m
package config
