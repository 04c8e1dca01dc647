// Package batch buffers analytics events between flush cycles.
//
// # Lifecycle
//
// The Accumulator holds one open batch. TakeSnapshotForSend closes it and
// marks it in flight; the caller then either Releases it (delivered or
// discarded) or Restores it (transient failure), which puts its events back
// ahead of anything recorded in the meantime. Only one snapshot may be in
// flight at a time.
//
//	acc.Append(ctx, event)
//
//	b, ok := acc.TakeSnapshotForSend()
//	if ok {
//		if deliver(b) {
//			acc.Release(ctx, b)
//		} else {
//			acc.Restore(ctx, b)
//		}
//	}
//
// # Durability
//
// Without a Journal the accumulator is purely in memory and an abandoned
// send is lost with the process. With a Journal (see pkg/storage/sqlite)
// events stay journalled until released, and Load re-opens them on startup.
package batch
