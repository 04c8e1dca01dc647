// Package dispatch sends analytics batches to a remote collector.
//
// A Dispatcher makes a single attempt per call and reports the outcome as
// Delivered, TransientFailure or PermanentFailure; retry policy belongs to
// the caller. Two collectors are provided:
//
//   - HTTPDispatcher POSTs a JSON Envelope to a collector endpoint through an
//     otelhttp-instrumented transport.
//   - S3Dispatcher archives the same Envelope as an object in a bucket.
//
// DispatcherFunc adapts a plain function, which is convenient in tests.
package dispatch
