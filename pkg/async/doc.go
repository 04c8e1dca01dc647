// Package async provides panic-safe execution for best-effort background work.
//
// SafeGo runs a function in its own goroutine with a timeout-bounded context.
// Panics are recovered and logged with their stack trace, and returned errors
// are logged rather than propagated:
//
//	async.SafeGo(ctx, 5*time.Second, "diagnostic report", func(ctx context.Context) error {
//		return sink.Report(ctx, d)
//	})
//
// Run does the same synchronously, for callers that must know the work has
// finished (for example during shutdown).
//
// Logging goes through logrus; SetLogger redirects it.
package async
