package batch

import (
	"context"

	"github.com/google/uuid"
	"github.com/platinummonkey/enx-analytics/pkg/events"
)

// Batch is an ordered group of events accumulated since the last successful
// dispatch. A batch returned by TakeSnapshotForSend is immutable: it owns its
// slice and the accumulator never appends to it again.
type Batch struct {
	ID     uint64
	Events []events.Event
}

// Len returns the number of events in the batch
func (b Batch) Len() int {
	return len(b.Events)
}

// IsEmpty reports whether the batch holds no events
func (b Batch) IsEmpty() bool {
	return len(b.Events) == 0
}

// EventIDs returns the identifiers of the events in order
func (b Batch) EventIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(b.Events))
	for i, e := range b.Events {
		ids[i] = e.ID()
	}
	return ids
}

// Journal durably mirrors the events held by an accumulator (open and
// in flight) so that they survive a process restart.
type Journal interface {
	// Append stores an event at the tail
	Append(ctx context.Context, event events.Event) error
	// Remove deletes the given events
	Remove(ctx context.Context, ids []uuid.UUID) error
	// Load returns all stored events in arrival order
	Load(ctx context.Context) ([]events.Event, error)
	// Clear deletes every stored event
	Clear(ctx context.Context) error
}
