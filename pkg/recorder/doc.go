// Package recorder is the analytics entry point used by the rest of the
// application.
//
// A Recorder records typed events while the user has opted in to sharing,
// buffers them in a batch.Accumulator and hands closed batches to a
// dispatch.Dispatcher when flushed:
//
//	rec, err := recorder.New(recorder.Config{
//		Gate:       consent.NewGate(store),
//		Dispatcher: dispatcher,
//		Sink:       diagnostics.NewLogrusSink(log),
//		Log:        log,
//	})
//
//	rec.LogRpcCallSuccess(ctx, events.RpcKeysDownload, len(body))
//	report := rec.FlushIfEnabled(ctx)
//
// # Consent
//
// Every recording call consults the consent gate first; nothing is
// constructed or buffered while sharing is disabled. Revoking consent purges
// the buffer and supersedes any batch already in flight.
//
// # Delivery
//
// A delivered or permanently rejected batch is released and never sent
// again. A batch that fails transiently is restored ahead of newer events
// and retried on the next flush. The Scheduler runs flushes on a cron
// schedule and skips runs during the exponential backoff that follows a
// transient failure; FlushIfEnabled itself always attempts delivery.
package recorder
