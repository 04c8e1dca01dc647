package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/platinummonkey/enx-analytics/pkg/events"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxEvents caps the open batch
	DefaultMaxEvents = 10000
	// DefaultDedupeWindow is how many recent event IDs are remembered
	DefaultDedupeWindow = 4096
)

// Drop reasons passed to Hooks.Dropped
const (
	DropReasonOverflow = "overflow"
	DropReasonPurged   = "purged"
)

// Hooks observe accumulator side effects. Hooks are called without the
// accumulator lock held and must not block.
type Hooks struct {
	// Overflow is called once per overflow episode, when the open batch
	// first reaches capacity. The episode ends when the batch is drained.
	Overflow func(capacity int)
	// Dropped is called with the number of events discarded and why
	Dropped func(n int, reason string)
}

// Config configures an Accumulator
type Config struct {
	MaxEvents    int
	DedupeWindow int
	Journal      Journal
	Hooks        Hooks
	Log          *logrus.Logger
}

// Accumulator buffers events between flush cycles. All methods are safe for
// concurrent use; mutations are serialized by a single mutex.
//
// Journal writes happen under that mutex so the journal sees mutations in
// the same order as the buffer. A Clear issued by Purge can never be
// followed by the write of an event the purge already discarded.
type Accumulator struct {
	mu          sync.Mutex
	open        []events.Event
	lastBatchID uint64
	inFlight    uint64
	epoch       uint64
	overflowing bool
	seen        *lru.Cache[uuid.UUID, struct{}]

	maxEvents int
	journal   Journal
	hooks     Hooks
	log       *logrus.Logger
}

// NewAccumulator creates an empty accumulator
func NewAccumulator(cfg Config) (*Accumulator, error) {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultDedupeWindow
	}
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}

	seen, err := lru.New[uuid.UUID, struct{}](cfg.DedupeWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedupe cache: %w", err)
	}

	return &Accumulator{
		seen:      seen,
		maxEvents: cfg.MaxEvents,
		journal:   cfg.Journal,
		hooks:     cfg.Hooks,
		log:       cfg.Log,
	}, nil
}

// Load re-opens events left in the journal by a previous process. They are
// placed ahead of anything appended since construction.
func (a *Accumulator) Load(ctx context.Context) (int, error) {
	if a.journal == nil {
		return 0, nil
	}

	stored, err := a.journal.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load event journal: %w", err)
	}

	a.mu.Lock()
	restored := make([]events.Event, 0, len(stored)+len(a.open))
	for _, e := range stored {
		if ok, _ := a.seen.ContainsOrAdd(e.ID(), struct{}{}); ok {
			continue
		}
		restored = append(restored, e)
	}
	a.open = append(restored, a.open...)
	dropped, overflowStarted := a.trimLocked(ctx)
	a.mu.Unlock()

	a.notify(dropped, overflowStarted)
	return len(restored), nil
}

// Append adds an event to the open batch. An event whose ID was already
// accumulated is ignored. When the batch is full the oldest events are
// dropped.
func (a *Accumulator) Append(ctx context.Context, event events.Event) {
	a.mu.Lock()
	a.appendLocked(ctx, event)
}

// Epoch identifies the current purge generation. Every Purge advances it.
func (a *Accumulator) Epoch() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epoch
}

// AppendInEpoch appends event only if no Purge has happened since epoch was
// read. Callers read Epoch before checking consent, so an event whose
// consent check raced a revocation is refused instead of outliving the
// purge.
func (a *Accumulator) AppendInEpoch(ctx context.Context, epoch uint64, event events.Event) bool {
	a.mu.Lock()
	if a.epoch != epoch {
		a.mu.Unlock()
		return false
	}
	a.appendLocked(ctx, event)
	return true
}

// appendLocked is called with a.mu held and releases it
func (a *Accumulator) appendLocked(ctx context.Context, event events.Event) {
	if ok, _ := a.seen.ContainsOrAdd(event.ID(), struct{}{}); ok {
		a.mu.Unlock()
		a.log.WithField("event_id", event.ID()).Debug("Ignoring duplicate analytics event")
		return
	}

	a.open = append(a.open, event)
	if a.journal != nil {
		if err := a.journal.Append(ctx, event); err != nil {
			a.log.WithError(err).WithField("event_id", event.ID()).Warn("Failed to journal analytics event")
		}
	}
	dropped, overflowStarted := a.trimLocked(ctx)
	a.mu.Unlock()

	a.notify(dropped, overflowStarted)
}

// TakeSnapshotForSend atomically closes the open batch and starts a fresh
// one. It returns false, with an empty batch, when there is nothing to send
// or when a previous snapshot is still in flight.
func (a *Accumulator) TakeSnapshotForSend() (Batch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inFlight != 0 || len(a.open) == 0 {
		return Batch{}, false
	}

	a.lastBatchID++
	b := Batch{ID: a.lastBatchID, Events: a.open}
	a.open = make([]events.Event, 0, len(b.Events))
	a.inFlight = b.ID
	a.overflowing = false
	return b, true
}

// Restore puts an in-flight snapshot back in front of the open batch so it
// is retried on the next flush. It returns false if the snapshot was
// superseded (for example purged after consent was revoked).
func (a *Accumulator) Restore(ctx context.Context, b Batch) bool {
	a.mu.Lock()
	if b.ID == 0 || b.ID != a.inFlight {
		a.mu.Unlock()
		a.log.WithField("batch_id", b.ID).Debug("Not restoring superseded analytics batch")
		return false
	}

	a.inFlight = 0
	merged := make([]events.Event, 0, len(b.Events)+len(a.open))
	merged = append(merged, b.Events...)
	a.open = append(merged, a.open...)
	dropped, overflowStarted := a.trimLocked(ctx)
	a.mu.Unlock()

	a.notify(dropped, overflowStarted)
	return true
}

// Release closes an in-flight snapshot that was delivered or discarded and
// removes its events from the journal. It returns false if the snapshot was
// already superseded.
func (a *Accumulator) Release(ctx context.Context, b Batch) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if b.ID == 0 || b.ID != a.inFlight {
		return false
	}
	a.inFlight = 0

	if a.journal != nil && len(b.Events) > 0 {
		if err := a.journal.Remove(ctx, b.EventIDs()); err != nil {
			a.log.WithError(err).WithField("batch_id", b.ID).Warn("Failed to remove released batch from journal")
		}
	}
	return true
}

// Purge drops the open batch and supersedes any in-flight snapshot, so a
// later Restore of that snapshot is ignored. It returns the number of open
// events dropped.
func (a *Accumulator) Purge(ctx context.Context) int {
	a.mu.Lock()
	dropped := len(a.open)
	a.open = nil
	a.inFlight = 0
	a.epoch++
	a.overflowing = false
	if a.journal != nil {
		if err := a.journal.Clear(ctx); err != nil {
			a.log.WithError(err).Warn("Failed to clear event journal")
		}
	}
	a.mu.Unlock()

	if dropped > 0 && a.hooks.Dropped != nil {
		a.hooks.Dropped(dropped, DropReasonPurged)
	}
	return dropped
}

// Len returns the number of events in the open batch
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}

// IsCurrent reports whether b is still the in-flight snapshot, that is, it
// has not been released, restored or superseded by Purge
func (a *Accumulator) IsCurrent(b Batch) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return b.ID != 0 && b.ID == a.inFlight
}

// InFlight reports whether a snapshot is awaiting Restore or Release
func (a *Accumulator) InFlight() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight != 0
}

// trimLocked enforces maxEvents by dropping the oldest events
func (a *Accumulator) trimLocked(ctx context.Context) (int, bool) {
	excess := len(a.open) - a.maxEvents
	if excess <= 0 {
		if len(a.open) < a.maxEvents {
			a.overflowing = false
		}
		return 0, false
	}

	droppedEvents := a.open[:excess]
	a.open = append([]events.Event(nil), a.open[excess:]...)

	if a.journal != nil {
		ids := make([]uuid.UUID, len(droppedEvents))
		for i, e := range droppedEvents {
			ids[i] = e.ID()
		}
		if err := a.journal.Remove(ctx, ids); err != nil {
			a.log.WithError(err).Warn("Failed to remove dropped events from journal")
		}
	}

	started := !a.overflowing
	a.overflowing = true
	return excess, started
}

func (a *Accumulator) notify(dropped int, overflowStarted bool) {
	if overflowStarted {
		a.log.WithField("capacity", a.maxEvents).Warn("Analytics buffer full, dropping oldest events")
		if a.hooks.Overflow != nil {
			a.hooks.Overflow(a.maxEvents)
		}
	}
	if dropped > 0 && a.hooks.Dropped != nil {
		a.hooks.Dropped(dropped, DropReasonOverflow)
	}
}
