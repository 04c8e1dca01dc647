package async

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var logger atomic.Pointer[logrus.Logger]

// SetLogger sets the logger used for task errors and recovered panics.
// Nil restores the logrus standard logger.
func SetLogger(log *logrus.Logger) {
	logger.Store(log)
}

func currentLogger() *logrus.Logger {
	if log := logger.Load(); log != nil {
		return log
	}
	return logrus.StandardLogger()
}

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` so a misbehaving collaborator can
// never crash the host process.
//
// Example:
//
//	SafeGo(ctx, 5*time.Second, "diagnostic report", func(ctx context.Context) error {
//	    return sink.Report(ctx, d)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go run(parentCtx, timeout, taskName, fn)
}

// Run is the synchronous form of SafeGo: it blocks until fn returns and
// reports whether fn completed without error or panic.
func Run(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) bool {
	return run(parentCtx, timeout, taskName, fn)
}

func run(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) (ok bool) {
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			currentLogger().WithFields(logrus.Fields{
				"task":  taskName,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("PANIC recovered in background task")
			ok = false
		}
	}()

	if err := fn(ctx); err != nil {
		// Logged, never propagated; the caller decides if it matters
		currentLogger().WithError(err).WithField("task", taskName).Warn("Background task failed")
		return false
	}
	return true
}
