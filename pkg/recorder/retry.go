package recorder

import (
	"math"
	"sync"
	"time"
)

// RetryConfig configures the backoff applied to scheduled flushes after a
// transient dispatch failure
type RetryConfig struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay:      30 * time.Second,
		MaxDelay:          time.Hour,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a new retry policy, filling unset fields from
// DefaultRetryConfig
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	return &RetryPolicy{config: config}
}

// NextRetryDelay returns the delay after the given number of consecutive
// failures: initialDelay * multiplier^(failures-1), capped at MaxDelay
func (p *RetryPolicy) NextRetryDelay(failures int) time.Duration {
	if failures <= 1 {
		return p.config.InitialDelay
	}

	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(failures-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// backoff tracks consecutive transient failures
type backoff struct {
	mu       sync.Mutex
	policy   *RetryPolicy
	failures int
	until    time.Time
}

func (b *backoff) fail(now time.Time) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.until = now.Add(b.policy.NextRetryDelay(b.failures))
	return b.until
}

func (b *backoff) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.until = time.Time{}
}

func (b *backoff) state() (int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures, b.until
}
