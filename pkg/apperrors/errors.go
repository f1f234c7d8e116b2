package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can decide whether to retry or abandon
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindPersistence Kind = "persistence"
)

// Kind sentinels. errors.Is(err, ErrConflict) matches any conflict error.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrConflict    = &Error{Kind: KindConflict}
	ErrPersistence = &Error{Kind: KindPersistence}
)

// ReasonPersistence is the reason code carried by every persistence failure
const ReasonPersistence = "PERSISTENCE_FAILURE"

// Error is a classified error with a stable, machine-readable reason code
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Cause   error
}

// New creates a classified error
func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// Validation creates a validation error
func Validation(reason, message string) *Error {
	return New(KindValidation, reason, message)
}

// NotFound creates a not-found error
func NotFound(reason, message string) *Error {
	return New(KindNotFound, reason, message)
}

// Conflict creates a conflict error
func Conflict(reason, message string) *Error {
	return New(KindConflict, reason, message)
}

// Persistence wraps a store failure. Nothing was committed when this is returned.
func Persistence(op string, cause error) *Error {
	return &Error{
		Kind:    KindPersistence,
		Reason:  ReasonPersistence,
		Message: op,
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches kind sentinels (no reason) by kind, everything else by identity
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason == "" && t.Message == "" {
		return t.Kind == e.Kind
	}
	return t == e
}

// KindOf returns the kind of the outermost classified error in err's chain
func KindOf(err error) (Kind, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return "", false
}

// ReasonOf returns the reason code of the outermost classified error in err's chain
func ReasonOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}
