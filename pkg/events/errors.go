package events

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed event. Constructors panic with it.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s event: %s: %s", e.Kind, e.Field, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a *ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Classifier is implemented by errors that know their own classification,
// for example a platform API exception carrying its class name.
type Classifier interface {
	ErrorClass() string
}

// StatusCoder is implemented by errors carrying a numeric server status
type StatusCoder interface {
	StatusCode() int
}

// Classify returns the error class and message recorded for a failure.
//
// An explicit Classifier anywhere in the chain wins; otherwise the Go type of
// the innermost wrapped error is used. A nil error is UnknownErrorClass.
func Classify(err error) (class, message string) {
	if err == nil {
		return UnknownErrorClass, ""
	}

	var c Classifier
	if errors.As(err, &c) {
		if class := c.ErrorClass(); class != "" {
			return class, err.Error()
		}
	}

	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	return fmt.Sprintf("%T", root), err.Error()
}

// ServerCode extracts a numeric server status from the error chain
func ServerCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}
