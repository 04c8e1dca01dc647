// Package diagnostics receives best-effort notifications about failures the
// recorder absorbs instead of returning to its callers.
package diagnostics

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind identifies what went wrong
type Kind string

const (
	// KindPermanentDispatchFailure: a batch was rejected and dropped
	KindPermanentDispatchFailure Kind = "permanent_dispatch_failure"
	// KindBufferOverflow: the accumulator hit its cap and started dropping
	KindBufferOverflow Kind = "buffer_overflow"
	// KindInvalidEvent: an event failed validation while being recorded
	KindInvalidEvent Kind = "invalid_event"
)

// Diagnostic is a single notification
type Diagnostic struct {
	Kind    Kind
	Time    time.Time
	BatchID uint64
	// Count is the number of events affected, when known
	Count int
	Err   error
}

// Sink receives diagnostics. Implementations must be safe for concurrent use.
// Report is always invoked off the recording path, so it may block briefly,
// but its errors are only logged.
type Sink interface {
	Report(ctx context.Context, d Diagnostic) error
}

// NopSink discards every diagnostic
type NopSink struct{}

// Report implements Sink
func (NopSink) Report(context.Context, Diagnostic) error { return nil }

// LogrusSink writes diagnostics as structured log entries
type LogrusSink struct {
	log *logrus.Logger
}

// NewLogrusSink creates a sink logging to log (nil → logrus.New())
func NewLogrusSink(log *logrus.Logger) *LogrusSink {
	if log == nil {
		log = logrus.New()
	}
	return &LogrusSink{log: log}
}

// Report implements Sink
func (s *LogrusSink) Report(_ context.Context, d Diagnostic) error {
	entry := s.log.WithFields(logrus.Fields{
		"diagnostic":  string(d.Kind),
		"occurred_at": d.Time,
	})
	if d.BatchID != 0 {
		entry = entry.WithField("batch_id", d.BatchID)
	}
	if d.Count > 0 {
		entry = entry.WithField("count", d.Count)
	}
	if d.Err != nil {
		entry = entry.WithError(d.Err)
	}

	switch d.Kind {
	case KindPermanentDispatchFailure:
		entry.Error("Analytics batch permanently rejected and dropped")
	case KindBufferOverflow:
		entry.Warn("Analytics buffer overflow")
	case KindInvalidEvent:
		entry.Error("Invalid analytics event discarded")
	default:
		entry.Warn("Analytics diagnostic")
	}
	return nil
}

// Recorder is an in-memory Sink, useful for tests and for exposing recent
// diagnostics to an operator.
type Recorder struct {
	mu    sync.Mutex
	items []Diagnostic
}

// Report implements Sink
func (r *Recorder) Report(_ context.Context, d Diagnostic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, d)
	return nil
}

// Diagnostics returns a copy of everything reported so far
func (r *Recorder) Diagnostics() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Diagnostic(nil), r.items...)
}

// Count returns how many diagnostics of kind were reported
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.items {
		if d.Kind == kind {
			n++
		}
	}
	return n
}
