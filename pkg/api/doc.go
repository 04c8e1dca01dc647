// Package api provides the local HTTP bridge to the analytics recorder.
//
// Host code that does not link this module (a UI shell, a platform
// service) reports events and manages consent over loopback HTTP:
//
//	GET  /api/v1/consent   {"sharing_enabled": true}
//	PUT  /api/v1/consent   {"sharing_enabled": false}
//	POST /api/v1/events    {"kind": "rpc_call_success", "type": "keys_download", "payload_size": 512}
//	POST /api/v1/flush
//	GET  /healthz
//	GET  /livez
//	GET  /metrics
//
// Events are validated before they reach the recorder, so a malformed
// request gets a 400 while a well-formed one is always answered 202, even
// when sharing is disabled and the event is discarded. Failure kinds may
// carry the host's own error classification:
//
//	{"kind": "rpc_call_failure", "type": "keys_upload",
//	 "error": {"class": "VerificationServerError", "message": "bad token", "code": 400}}
package api
