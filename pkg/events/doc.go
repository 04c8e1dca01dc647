// Package events defines the closed taxonomy of analytics observations.
//
// # Overview
//
// Every observation is an Event tagged with a Kind and a kind-specific
// subtype. Failures carry an error classification, RPC successes a payload
// size and RPC failures an optional server error code.
//
// # Usage Example
//
//	e := events.NewRpcCallSuccess(events.RpcKeysDownload, 512)
//	size, _ := e.PayloadSize()
//
//	e = events.NewWorkerTaskFailure(events.TaskProvideDiagnosisKeys, err)
//	fmt.Println(e.ErrorClass(), e.ErrorMessage())
//
// # Validation
//
// Constructors panic with a *ValidationError when given an unknown or empty
// identifier. This is a programming error and never reaches a user; the
// recorder recovers it so host applications are not destabilized.
//
// # Related Packages
//
//   - pkg/batch: Buffers events between flushes
//   - pkg/recorder: Public recording API
package events
