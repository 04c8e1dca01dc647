package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UnknownErrorClass is used when a failure carries no classifiable error
const UnknownErrorClass = "unknown"

// Event is a single immutable analytics observation.
//
// Events are created through the New* constructors, which panic with a
// *ValidationError when a required identifier is missing. A zero Event is
// not valid.
type Event struct {
	id              uuid.UUID
	kind            Kind
	subtype         string
	timestamp       time.Time
	errorClass      string
	errorMessage    string
	payloadSize     *int
	serverErrorCode *int
}

// ID returns the unique identifier assigned at construction
func (e Event) ID() uuid.UUID { return e.id }

// Kind returns the event kind
func (e Event) Kind() Kind { return e.kind }

// Subtype returns the kind-specific identifier (UI event type, task, API or RPC call type)
func (e Event) Subtype() string { return e.subtype }

// Timestamp returns when the event was constructed
func (e Event) Timestamp() time.Time { return e.timestamp }

// ErrorClass returns the failure classification, empty for success kinds
func (e Event) ErrorClass() string { return e.errorClass }

// ErrorMessage returns the failure message, possibly empty
func (e Event) ErrorMessage() string { return e.errorMessage }

// PayloadSize returns the RPC payload size in bytes, if set
func (e Event) PayloadSize() (int, bool) {
	if e.payloadSize == nil {
		return 0, false
	}
	return *e.payloadSize, true
}

// ServerErrorCode returns the RPC server error code, if known
func (e Event) ServerErrorCode() (int, bool) {
	if e.serverErrorCode == nil {
		return 0, false
	}
	return *e.serverErrorCode, true
}

// String implements fmt.Stringer
func (e Event) String() string {
	return fmt.Sprintf("%s/%s(%s)", e.kind, e.subtype, e.id)
}

// NewUiInteraction creates a UI interaction event
func NewUiInteraction(eventType UiEventType) Event {
	return mustBuild(KindUiInteraction, string(eventType), nil)
}

// NewWorkerTaskSuccess creates a worker task success event
func NewWorkerTaskSuccess(task WorkerTask) Event {
	return mustBuild(KindWorkerTaskSuccess, string(task), nil)
}

// NewWorkerTaskFailure creates a worker task failure event.
// A nil err is recorded with the unknown error class.
func NewWorkerTaskFailure(task WorkerTask, err error) Event {
	return mustBuild(KindWorkerTaskFailure, string(task), func(e *Event) {
		e.errorClass, e.errorMessage = Classify(err)
	})
}

// NewApiCallSuccess creates a platform API call success event
func NewApiCallSuccess(call ApiCallType) Event {
	return mustBuild(KindApiCallSuccess, string(call), nil)
}

// NewApiCallFailure creates a platform API call failure event.
// Platform API failures never carry a numeric code, only the error class.
func NewApiCallFailure(call ApiCallType, err error) Event {
	return mustBuild(KindApiCallFailure, string(call), func(e *Event) {
		e.errorClass, e.errorMessage = Classify(err)
	})
}

// NewRpcCallSuccess creates an RPC success event with the response payload size
func NewRpcCallSuccess(call RpcCallType, payloadSize int) Event {
	return mustBuild(KindRpcCallSuccess, string(call), func(e *Event) {
		size := payloadSize
		e.payloadSize = &size
	})
}

// NewRpcCallFailure creates an RPC failure event. The server error code is
// taken from any error in the chain implementing StatusCode() int; when none
// does, the code is left unknown.
func NewRpcCallFailure(call RpcCallType, err error) Event {
	return mustBuild(KindRpcCallFailure, string(call), func(e *Event) {
		e.errorClass, e.errorMessage = Classify(err)
		if code, ok := ServerCode(err); ok {
			e.serverErrorCode = &code
		}
	})
}

func mustBuild(kind Kind, subtype string, fill func(*Event)) Event {
	e := Event{
		id:        uuid.New(),
		kind:      kind,
		subtype:   subtype,
		timestamp: time.Now().UTC(),
	}
	if fill != nil {
		fill(&e)
	}
	if err := e.Validate(); err != nil {
		panic(err)
	}
	return e
}

// Validate checks the structural invariants of the event
func (e Event) Validate() error {
	if e.id == uuid.Nil {
		return &ValidationError{Kind: e.kind, Field: "id", Reason: "missing identifier"}
	}
	set, ok := subtypeSets[e.kind]
	if !ok {
		return &ValidationError{Kind: e.kind, Field: "kind", Reason: "unknown kind"}
	}
	if e.subtype == "" {
		return &ValidationError{Kind: e.kind, Field: "subtype", Reason: "missing identifier"}
	}
	if !has(set, e.subtype) {
		return &ValidationError{Kind: e.kind, Field: "subtype", Reason: fmt.Sprintf("unknown identifier %q", e.subtype)}
	}

	if e.kind.IsFailure() {
		if e.errorClass == "" {
			return &ValidationError{Kind: e.kind, Field: "error_class", Reason: "failure requires an error classification"}
		}
	} else if e.errorClass != "" || e.errorMessage != "" {
		return &ValidationError{Kind: e.kind, Field: "error_class", Reason: "success cannot carry an error"}
	}

	switch e.kind {
	case KindRpcCallSuccess:
		if e.payloadSize == nil {
			return &ValidationError{Kind: e.kind, Field: "payload_size", Reason: "rpc success requires a payload size"}
		}
		if *e.payloadSize < 0 {
			return &ValidationError{Kind: e.kind, Field: "payload_size", Reason: "payload size cannot be negative"}
		}
		if e.serverErrorCode != nil {
			return &ValidationError{Kind: e.kind, Field: "server_error_code", Reason: "payload size and server error code are mutually exclusive"}
		}
	case KindRpcCallFailure:
		if e.payloadSize != nil {
			return &ValidationError{Kind: e.kind, Field: "payload_size", Reason: "payload size and server error code are mutually exclusive"}
		}
	default:
		if e.payloadSize != nil || e.serverErrorCode != nil {
			return &ValidationError{Kind: e.kind, Field: "payload_size", Reason: "only rpc events carry payload size or server error code"}
		}
	}

	return nil
}

// eventJSON is the serialized form used by journals and collectors
type eventJSON struct {
	ID              uuid.UUID `json:"id"`
	Kind            Kind      `json:"kind"`
	Subtype         string    `json:"subtype"`
	Timestamp       time.Time `json:"timestamp"`
	ErrorClass      string    `json:"error_class,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	PayloadSize     *int      `json:"payload_size,omitempty"`
	ServerErrorCode *int      `json:"server_error_code,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		ID:              e.id,
		Kind:            e.kind,
		Subtype:         e.subtype,
		Timestamp:       e.timestamp,
		ErrorClass:      e.errorClass,
		ErrorMessage:    e.errorMessage,
		PayloadSize:     e.payloadSize,
		ServerErrorCode: e.serverErrorCode,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Decoded events are validated
// and an invalid payload is returned as an error rather than a panic.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := Event{
		id:              raw.ID,
		kind:            raw.Kind,
		subtype:         raw.Subtype,
		timestamp:       raw.Timestamp,
		errorClass:      raw.ErrorClass,
		errorMessage:    raw.ErrorMessage,
		payloadSize:     raw.PayloadSize,
		serverErrorCode: raw.ServerErrorCode,
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*e = decoded
	return nil
}
