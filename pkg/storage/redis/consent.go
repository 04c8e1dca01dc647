// Package redis stores the analytics consent flag in Redis, for deployments
// where several recorder processes must share one decision.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// DefaultKey is the Redis key holding the sharing decision
const DefaultKey = "enx:analytics:sharing_enabled"

// Config configures a ConsentStore
type Config struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	Key        string
}

// ConsentStore implements consent.Store on top of a single Redis key.
// A missing key means sharing was never enabled.
type ConsentStore struct {
	client *goredis.Client
	key    string
}

// NewConsentStore connects to Redis and verifies the connection
func NewConsentStore(cfg Config) (*ConsentStore, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewConsentStoreFromClient(client, cfg.Key), nil
}

// NewConsentStoreFromClient wraps an existing client. An empty key uses DefaultKey.
func NewConsentStoreFromClient(client *goredis.Client, key string) *ConsentStore {
	if key == "" {
		key = DefaultKey
	}
	return &ConsentStore{client: client, key: key}
}

// Load implements consent.Store
func (s *ConsentStore) Load(ctx context.Context) (bool, error) {
	value, err := s.client.Get(ctx, s.key).Result()
	if err == goredis.Nil {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid consent value %q: %w", value, err)
	}
	return enabled, nil
}

// Save implements consent.Store. The key never expires.
func (s *ConsentStore) Save(ctx context.Context, enabled bool) error {
	if err := s.client.Set(ctx, s.key, strconv.FormatBool(enabled), 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity
func (s *ConsentStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *ConsentStore) Close() error {
	return s.client.Close()
}
