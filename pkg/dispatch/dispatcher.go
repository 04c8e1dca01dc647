package dispatch

import (
	"context"
	"time"

	"github.com/platinummonkey/enx-analytics/pkg/batch"
)

// Outcome classifies a single delivery attempt
type Outcome int

const (
	// Delivered means the collector accepted the batch
	Delivered Outcome = iota
	// TransientFailure means the attempt may succeed later (network error,
	// timeout, cancellation, 5xx)
	TransientFailure
	// PermanentFailure means the batch will never be accepted as sent
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Result describes one Send attempt
type Result struct {
	Outcome Outcome
	// Reason is nil for Delivered
	Reason error
	// StatusCode is the collector's status, zero when no response was received
	StatusCode int
	Duration   time.Duration
}

// Dispatcher transmits a batch to a remote collector. Send makes exactly one
// attempt, never retries, and never mutates the batch.
type Dispatcher interface {
	Send(ctx context.Context, b batch.Batch) Result
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, b batch.Batch) Result

// Send implements Dispatcher
func (f DispatcherFunc) Send(ctx context.Context, b batch.Batch) Result {
	return f(ctx, b)
}

// ClassifyStatus maps a collector status code to an outcome: 2xx delivered,
// 5xx transient, anything else (4xx schema rejection included) permanent.
func ClassifyStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return Delivered
	case code >= 500 && code < 600:
		return TransientFailure
	default:
		return PermanentFailure
	}
}
