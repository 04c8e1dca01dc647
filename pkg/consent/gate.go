package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultReadTimeout bounds a single store read made by the gate
const DefaultReadTimeout = 500 * time.Millisecond

// Store persists the user's analytics sharing decision.
// Implementations must return the most recently saved value on every Load.
type Store interface {
	Load(ctx context.Context) (bool, error)
	Save(ctx context.Context, enabled bool) error
}

// Gate is the single source of truth for whether analytics may be recorded
// or sent. It never caches: every check reads the store.
type Gate struct {
	store       Store
	readTimeout time.Duration
	log         *logrus.Logger
}

// Option configures a Gate
type Option func(*Gate)

// WithReadTimeout overrides DefaultReadTimeout
func WithReadTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.readTimeout = d
		}
	}
}

// WithLogger sets the logger used for store failures
func WithLogger(log *logrus.Logger) Option {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// NewGate creates a gate over the given store
func NewGate(store Store, opts ...Option) *Gate {
	g := &Gate{
		store:       store,
		readTimeout: DefaultReadTimeout,
		log:         logrus.New(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsSharingEnabled reports the currently persisted consent state.
// A store failure is treated as "not enabled".
func (g *Gate) IsSharingEnabled(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, g.readTimeout)
	defer cancel()

	enabled, err := g.store.Load(ctx)
	if err != nil {
		g.log.WithError(err).Warn("Failed to read analytics consent, treating sharing as disabled")
		return false
	}
	return enabled
}

// SetSharingEnabled persists a new consent state. It takes effect for every
// subsequent IsSharingEnabled call.
func (g *Gate) SetSharingEnabled(ctx context.Context, enabled bool) error {
	if err := g.store.Save(ctx, enabled); err != nil {
		return fmt.Errorf("failed to persist analytics consent: %w", err)
	}
	g.log.WithField("enabled", enabled).Info("Analytics sharing consent updated")
	return nil
}
