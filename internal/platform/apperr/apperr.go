// Package apperr defines the error taxonomy shared by the billing and
// lifecycle domains. Callers branch on Kind, never on message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindNotFound               Kind = "not_found"
	KindAlreadyExists          Kind = "already_exists"
	KindInvalidVisitType       Kind = "invalid_visit_type"
	KindPreconditionFailed     Kind = "precondition_failed"
	KindInvalidPayment         Kind = "invalid_payment"
	KindOverPayment            Kind = "overpayment"
	KindInvalidTransition      Kind = "invalid_transition"
	KindConcurrentModification Kind = "concurrent_modification"
	KindRecordLocked           Kind = "record_locked"
	KindForbidden              Kind = "forbidden"
	KindInvalidInput           Kind = "invalid_input"
	KindInternal               Kind = "internal"
)

// Error carries a Kind, a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so sentinels
// below can be matched with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "not found"}
	ErrAlreadyExists          = &Error{Kind: KindAlreadyExists, Message: "already exists"}
	ErrInvalidVisitType       = &Error{Kind: KindInvalidVisitType, Message: "invalid visit type"}
	ErrPreconditionFailed     = &Error{Kind: KindPreconditionFailed, Message: "precondition failed"}
	ErrInvalidPayment         = &Error{Kind: KindInvalidPayment, Message: "invalid payment"}
	ErrOverPayment            = &Error{Kind: KindOverPayment, Message: "payment exceeds remaining balance"}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification, Message: "concurrent modification"}
	ErrRecordLocked           = &Error{Kind: KindRecordLocked, Message: "record locked"}
	ErrForbidden              = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidInput           = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidInput(format string, args ...interface{}) *Error {
	return New(KindInvalidInput, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return New(KindInvalidTransition, format, args...)
}

func PreconditionFailed(format string, args ...interface{}) *Error {
	return New(KindPreconditionFailed, format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal for anything else.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the human-readable message of err. Internal errors are
// reduced to a generic message.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
