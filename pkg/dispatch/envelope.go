package dispatch

import (
	"time"

	"github.com/platinummonkey/enx-analytics/pkg/batch"
	"github.com/platinummonkey/enx-analytics/pkg/events"
)

// ClientInfo identifies the reporting installation in every envelope
type ClientInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// Envelope is the wire body shared by all collectors
type Envelope struct {
	BatchID uint64         `json:"batch_id"`
	SentAt  time.Time      `json:"sent_at"`
	Client  ClientInfo     `json:"client"`
	Events  []events.Event `json:"events"`
}

// NewEnvelope wraps a batch for transmission. The events slice is shared,
// not copied; envelopes are never mutated.
func NewEnvelope(b batch.Batch, client ClientInfo, sentAt time.Time) Envelope {
	return Envelope{
		BatchID: b.ID,
		SentAt:  sentAt.UTC(),
		Client:  client,
		Events:  b.Events,
	}
}
