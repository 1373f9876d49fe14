package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation error")
	ErrRemote     = errors.New("remote service error")
	ErrTransport  = errors.New("transport error")
	ErrStale      = errors.New("stale reference")
)

// Kind names the error taxonomy bucket an error belongs to.
type Kind string

const (
	KindValidation Kind = "validation"
	KindRemote     Kind = "remote"
	KindTransport  Kind = "transport"
	KindStale      Kind = "stale"
	KindUnknown    Kind = "unknown"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrRemote
	}
	if err != nil {
		return &taggedError{marker: marker, detail: detail, reason: strings.TrimSpace(message), cause: err}
	}
	return &taggedError{marker: marker, detail: detail, reason: strings.TrimSpace(message)}
}

// Classify maps an error onto the taxonomy used for notifications and item status.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrStale):
		return KindStale
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrRemote):
		return KindRemote
	default:
		return KindUnknown
	}
}

// Reason extracts the user-facing reason for err. Server-provided messages
// recorded through Wrap win; otherwise the error text is used, and fallback
// covers nil errors and empty messages.
func Reason(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	var tagged *taggedError
	if errors.As(err, &tagged) && tagged.reason != "" {
		return tagged.reason
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallback
}

type taggedError struct {
	marker error
	detail string
	reason string
	cause  error
}

func (e *taggedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.marker, e.detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.marker, e.detail)
}

func (e *taggedError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.marker, e.cause}
	}
	return []error{e.marker}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
