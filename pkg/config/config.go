package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Consent store types
const (
	ConsentStoreMemory = "memory"
	ConsentStoreSQLite = "sqlite"
	ConsentStoreRedis  = "redis"
)

// Collector types
const (
	CollectorHTTP = "http"
	CollectorS3   = "s3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Consent       ConsentConfig       `yaml:"consent"`
	Storage       StorageConfig       `yaml:"storage"`
	Collector     CollectorConfig     `yaml:"collector"`
	Recorder      RecorderConfig      `yaml:"recorder"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP bridge configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ConsentConfig selects where the sharing decision is persisted
type ConsentConfig struct {
	// Store is memory, sqlite or redis
	Store string `yaml:"store"`
	// Default seeds the memory store
	Default     bool          `yaml:"default"`
	ReadTimeout time.Duration `yaml:"read_timeout"`

	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
	RedisKey        string `yaml:"redis_key"`
}

// StorageConfig holds the on-device database settings
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	// Journal persists pending events in the SQLite database
	Journal bool `yaml:"journal"`
}

// CollectorConfig selects and configures the dispatcher
type CollectorConfig struct {
	// Type is http or s3
	Type    string        `yaml:"type"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	S3Bucket       string `yaml:"s3_bucket"`
	S3Prefix       string `yaml:"s3_prefix"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`

	ClientName     string `yaml:"client_name"`
	ClientVersion  string `yaml:"client_version"`
	ClientPlatform string `yaml:"client_platform"`
}

// RecorderConfig holds buffering, scheduling and retry settings
type RecorderConfig struct {
	MaxEvents         int           `yaml:"max_events"`
	DedupeWindow      int           `yaml:"dedupe_window"`
	FlushSchedule     string        `yaml:"flush_schedule"`
	FlushTimeout      time.Duration `yaml:"flush_timeout"`
	DiagnosticTimeout time.Duration `yaml:"diagnostic_timeout"`
	Retry             RetryConfig   `yaml:"retry"`
}

// RetryConfig holds the backoff applied to scheduled flushes after a
// transient dispatch failure
type RetryConfig struct {
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            "8787",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Consent: ConsentConfig{
			Store:       ConsentStoreSQLite,
			ReadTimeout: 2 * time.Second,
			RedisKey:    "enx:analytics:sharing_enabled",
		},
		Storage: StorageConfig{
			SQLitePath: "enx-analytics.db",
			Journal:    true,
		},
		Collector: CollectorConfig{
			Type:           CollectorHTTP,
			Timeout:        10 * time.Second,
			S3Prefix:       "analytics",
			S3Region:       "us-east-1",
			ClientName:     "enx-analytics",
			ClientVersion:  "dev",
			ClientPlatform: "linux",
		},
		Recorder: RecorderConfig{
			MaxEvents:         10000,
			DedupeWindow:      4096,
			FlushSchedule:     "*/15 * * * *",
			FlushTimeout:      2 * time.Minute,
			DiagnosticTimeout: 5 * time.Second,
			Retry: RetryConfig{
				InitialDelay:      30 * time.Second,
				MaxDelay:          time.Hour,
				BackoffMultiplier: 2.0,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "enx-analytics",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by ENX_CONFIG_FILE, then environment variables, in that order of
// precedence (environment wins)
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv("ENX_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path; keys missing from the file keep
// their current values
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("ENX_HOST", s.Host)
	s.Port = getEnv("ENX_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("ENX_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("ENX_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("ENX_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("ENX_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	cs := &c.Consent
	cs.Store = strings.ToLower(getEnv("ENX_CONSENT_STORE", cs.Store))
	cs.Default = getEnvBool("ENX_CONSENT_DEFAULT", cs.Default)
	cs.ReadTimeout = getEnvDuration("ENX_CONSENT_READ_TIMEOUT", cs.ReadTimeout)
	cs.RedisURL = getEnv("ENX_REDIS_URL", cs.RedisURL)
	cs.RedisPassword = getEnv("ENX_REDIS_PASSWORD", cs.RedisPassword)
	cs.RedisDB = getEnvInt("ENX_REDIS_DB", cs.RedisDB)
	cs.RedisMaxRetries = getEnvInt("ENX_REDIS_MAX_RETRIES", cs.RedisMaxRetries)
	cs.RedisPoolSize = getEnvInt("ENX_REDIS_POOL_SIZE", cs.RedisPoolSize)
	cs.RedisKey = getEnv("ENX_REDIS_KEY", cs.RedisKey)

	c.Storage.SQLitePath = getEnv("ENX_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.Journal = getEnvBool("ENX_JOURNAL_ENABLED", c.Storage.Journal)

	col := &c.Collector
	col.Type = strings.ToLower(getEnv("ENX_COLLECTOR_TYPE", col.Type))
	col.URL = getEnv("ENX_COLLECTOR_URL", col.URL)
	col.APIKey = getEnv("ENX_COLLECTOR_API_KEY", col.APIKey)
	col.Timeout = getEnvDuration("ENX_COLLECTOR_TIMEOUT", col.Timeout)
	col.S3Bucket = getEnv("ENX_S3_BUCKET", col.S3Bucket)
	col.S3Prefix = getEnv("ENX_S3_PREFIX", col.S3Prefix)
	col.S3Region = getEnv("ENX_S3_REGION", col.S3Region)
	col.S3Endpoint = getEnv("ENX_S3_ENDPOINT", col.S3Endpoint)
	col.S3AccessKey = getEnv("ENX_S3_ACCESS_KEY", col.S3AccessKey)
	col.S3SecretKey = getEnv("ENX_S3_SECRET_KEY", col.S3SecretKey)
	col.S3UsePathStyle = getEnvBool("ENX_S3_USE_PATH_STYLE", col.S3UsePathStyle)
	col.ClientName = getEnv("ENX_CLIENT_NAME", col.ClientName)
	col.ClientVersion = getEnv("ENX_CLIENT_VERSION", col.ClientVersion)
	col.ClientPlatform = getEnv("ENX_CLIENT_PLATFORM", col.ClientPlatform)

	r := &c.Recorder
	r.MaxEvents = getEnvInt("ENX_MAX_EVENTS", r.MaxEvents)
	r.DedupeWindow = getEnvInt("ENX_DEDUPE_WINDOW", r.DedupeWindow)
	r.FlushSchedule = getEnv("ENX_FLUSH_SCHEDULE", r.FlushSchedule)
	r.FlushTimeout = getEnvDuration("ENX_FLUSH_TIMEOUT", r.FlushTimeout)
	r.DiagnosticTimeout = getEnvDuration("ENX_DIAGNOSTIC_TIMEOUT", r.DiagnosticTimeout)
	r.Retry.InitialDelay = getEnvDuration("ENX_RETRY_INITIAL_DELAY", r.Retry.InitialDelay)
	r.Retry.MaxDelay = getEnvDuration("ENX_RETRY_MAX_DELAY", r.Retry.MaxDelay)
	r.Retry.BackoffMultiplier = getEnvFloat("ENX_RETRY_MULTIPLIER", r.Retry.BackoffMultiplier)

	o := &c.Observability
	o.LogLevel = getEnv("ENX_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("ENX_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("ENX_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("ENX_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("ENX_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("ENX_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("ENX_OTEL_INSECURE", o.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Consent.Store {
	case ConsentStoreMemory:
	case ConsentStoreSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite consent store")
		}
	case ConsentStoreRedis:
		if c.Consent.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis consent store")
		}
	default:
		return fmt.Errorf("invalid consent store: %s (must be memory, sqlite, or redis)", c.Consent.Store)
	}

	if c.Storage.Journal && c.Storage.SQLitePath == "" {
		return fmt.Errorf("sqlite path is required when the event journal is enabled")
	}

	switch c.Collector.Type {
	case CollectorHTTP:
		if c.Collector.URL == "" {
			return fmt.Errorf("collector URL is required for the http collector")
		}
	case CollectorS3:
		if c.Collector.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for the s3 collector")
		}
	default:
		return fmt.Errorf("invalid collector type: %s (must be http or s3)", c.Collector.Type)
	}

	if c.Recorder.MaxEvents <= 0 {
		return fmt.Errorf("max events must be positive")
	}
	if c.Recorder.FlushSchedule == "" {
		return fmt.Errorf("flush schedule is required")
	}
	if c.Recorder.Retry.InitialDelay <= 0 {
		return fmt.Errorf("retry initial delay must be positive")
	}
	if c.Recorder.Retry.MaxDelay < c.Recorder.Retry.InitialDelay {
		return fmt.Errorf("retry max delay must not be shorter than the initial delay")
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Addr returns the HTTP bridge listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
