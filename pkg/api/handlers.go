package api

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/enx-analytics/pkg/events"
	"github.com/platinummonkey/enx-analytics/pkg/httputil"
	"github.com/platinummonkey/enx-analytics/pkg/observability"
)

// getConsent handles GET /api/v1/consent
func (s *Server) getConsent(w http.ResponseWriter, r *http.Request) {
	enabled := s.recorder.IsSharingEnabled(r.Context())
	httputil.WriteJSON(w, http.StatusOK, ConsentState{SharingEnabled: &enabled})
}

// putConsent handles PUT /api/v1/consent
func (s *Server) putConsent(w http.ResponseWriter, r *http.Request) {
	var req ConsentState
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.SharingEnabled == nil {
		httputil.WriteBadRequest(w, "sharing_enabled is required")
		return
	}

	if err := s.recorder.SetSharingEnabled(r.Context(), *req.SharingEnabled); err != nil {
		observability.FromContext(r.Context(), s.log).WithError(err).Error("Failed to update analytics consent")
		httputil.WriteServiceUnavailable(w, "analytics consent store unavailable")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, req)
}

// recordEvent handles POST /api/v1/events.
// The event is validated here so callers get a 400; recording itself is
// silent and is skipped while sharing is disabled.
func (s *Server) recordEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := validateEventRequest(req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	rec := s.recorder
	cause := req.Error.toError()

	switch req.Kind {
	case events.KindUiInteraction:
		rec.LogUiInteraction(ctx, events.UiEventType(req.Type))
	case events.KindWorkerTaskSuccess:
		rec.LogWorkerTaskSuccess(ctx, events.WorkerTask(req.Type))
	case events.KindWorkerTaskFailure:
		rec.LogWorkerTaskFailure(ctx, events.WorkerTask(req.Type), cause)
	case events.KindApiCallSuccess:
		rec.LogApiCallSuccess(ctx, events.ApiCallType(req.Type))
	case events.KindApiCallFailure:
		rec.LogApiCallFailure(ctx, events.ApiCallType(req.Type), cause)
	case events.KindRpcCallSuccess:
		rec.LogRpcCallSuccess(ctx, events.RpcCallType(req.Type), *req.PayloadSize)
	case events.KindRpcCallFailure:
		rec.LogRpcCallFailure(ctx, events.RpcCallType(req.Type), cause)
	}

	w.WriteHeader(http.StatusAccepted)
}

func validateEventRequest(req EventRequest) error {
	if !req.Kind.IsValid() {
		return fmt.Errorf("unknown event kind %q, expected one of %v", req.Kind, events.Kinds)
	}

	var known bool
	switch req.Kind {
	case events.KindUiInteraction:
		known = events.UiEventType(req.Type).IsValid()
	case events.KindWorkerTaskSuccess, events.KindWorkerTaskFailure:
		known = events.WorkerTask(req.Type).IsValid()
	case events.KindApiCallSuccess, events.KindApiCallFailure:
		known = events.ApiCallType(req.Type).IsValid()
	case events.KindRpcCallSuccess, events.KindRpcCallFailure:
		known = events.RpcCallType(req.Type).IsValid()
	}
	if !known {
		return fmt.Errorf("unknown %s type %q", req.Kind, req.Type)
	}

	if req.Kind == events.KindRpcCallSuccess {
		if req.PayloadSize == nil {
			return fmt.Errorf("payload_size is required for %s", req.Kind)
		}
		if *req.PayloadSize < 0 {
			return fmt.Errorf("payload_size must not be negative")
		}
	} else if req.PayloadSize != nil {
		return fmt.Errorf("payload_size is only valid for %s", events.KindRpcCallSuccess)
	}

	if req.Error != nil && !req.Kind.IsFailure() {
		return fmt.Errorf("error is only valid for failure kinds")
	}
	return nil
}

// flush handles POST /api/v1/flush
func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	report := s.recorder.FlushIfEnabled(r.Context())
	httputil.WriteJSON(w, http.StatusOK, newFlushResponse(report))
}
