package api

import (
	"github.com/platinummonkey/enx-analytics/pkg/events"
	"github.com/platinummonkey/enx-analytics/pkg/recorder"
)

// ConsentState is the body of GET and PUT /api/v1/consent
type ConsentState struct {
	SharingEnabled *bool `json:"sharing_enabled"`
}

// EventRequest is the body of POST /api/v1/events. Type holds the
// kind-specific identifier: a UI event type, worker task, API call type or
// RPC call type.
type EventRequest struct {
	Kind        events.Kind  `json:"kind"`
	Type        string       `json:"type"`
	PayloadSize *int         `json:"payload_size,omitempty"`
	Error       *RemoteError `json:"error,omitempty"`
}

// RemoteError describes a failure observed by host code
type RemoteError struct {
	Class   string `json:"class"`
	Message string `json:"message"`
	Code    *int   `json:"code,omitempty"`
}

// toError converts the request body into an error that carries the host's
// classification, and its server code only when one was given
func (e *RemoteError) toError() error {
	if e == nil {
		return nil
	}
	err := &classifiedError{class: e.Class, message: e.Message}
	if e.Code != nil {
		return &statusError{classifiedError: err, code: *e.Code}
	}
	return err
}

// classifiedError implements events.Classifier
type classifiedError struct {
	class   string
	message string
}

func (e *classifiedError) Error() string { return e.message }

func (e *classifiedError) ErrorClass() string {
	if e.class == "" {
		return events.UnknownErrorClass
	}
	return e.class
}

// statusError adds events.StatusCoder
type statusError struct {
	*classifiedError
	code int
}

func (e *statusError) StatusCode() int { return e.code }

// FlushResponse is the body of POST /api/v1/flush
type FlushResponse struct {
	Result  string `json:"result"`
	BatchID uint64 `json:"batch_id,omitempty"`
	Events  int    `json:"events"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newFlushResponse(r recorder.FlushReport) FlushResponse {
	resp := FlushResponse{
		Result:  r.Result,
		BatchID: r.BatchID,
		Events:  r.Events,
	}
	if r.Sent() {
		resp.Outcome = r.Outcome.String()
	}
	if r.Reason != nil {
		resp.Error = r.Reason.Error()
	}
	return resp
}
