// Package httputil provides the JSON and middleware helpers used by the
// local HTTP bridge.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, state)
//	httputil.WriteBadRequest(w, "unknown event kind")
//	httputil.WriteInternalError(w, err)
//
// Errors are always rendered as {"error": "..."}.
//
// # Requests
//
//	var req EventRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(log),
//		httputil.RecoveryMiddleware(log),
//		httputil.MaxBytesMiddleware(64*1024),
//	)(router)
package httputil
