// Package apperr defines the coded error type shared by the scheduling
// engine and its transports.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindFormat                   Kind = "format"
	KindOutsideWorkingHours      Kind = "outside_working_hours"
	KindTimeSlotAlreadyBooked    Kind = "time_slot_already_booked"
	KindModificationWindowClosed Kind = "modification_window_closed"
	KindNotFound                 Kind = "not_found"
	KindUnauthorized             Kind = "unauthorized"
	KindInvalidState             Kind = "invalid_state"
	KindRetryable                Kind = "retryable"
	KindInternal                 Kind = "internal"
)

// Error is a classified error with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind. Two errors of one
// kind are interchangeable for errors.Is, so a lost booking race and a
// pre-existing conflict compare equal.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to the response status used by the HTTP handlers.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindFormat:
		return http.StatusBadRequest
	case KindOutsideWorkingHours, KindModificationWindowClosed:
		return http.StatusUnprocessableEntity
	case KindTimeSlotAlreadyBooked, KindInvalidState:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindRetryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
