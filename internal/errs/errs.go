// Package errs defines the error taxonomy shared by services and transports.
//
// Every domain error has a Kind, used by the HTTP and gRPC layers to pick a
// status, and a stable snake_case Reason that clients can switch on.
package errs

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	Internal Kind = iota
	NotFound
	Forbidden
	Conflict
	InvalidArgument
	Unauthenticated
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	case InvalidArgument:
		return "invalid_argument"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "internal"
	}
}

// Error is a classified error.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

// New returns a classified error without a cause.
func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind and Reason, so
// sentinel comparisons survive Wrap and Withf.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

// Wrap returns a copy of e that carries cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// KindOf returns the Kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// ReasonOf returns the Reason of the first *Error in err's chain, or "internal".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "internal"
}

// MessageOf returns a message safe to show to clients. Unclassified errors
// are reported generically.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

func NotFoundf(reason, format string, args ...any) *Error {
	return New(NotFound, reason, fmt.Sprintf(format, args...))
}

func Forbiddenf(reason, format string, args ...any) *Error {
	return New(Forbidden, reason, fmt.Sprintf(format, args...))
}

func Conflictf(reason, format string, args ...any) *Error {
	return New(Conflict, reason, fmt.Sprintf(format, args...))
}

func InvalidArgumentf(reason, format string, args ...any) *Error {
	return New(InvalidArgument, reason, fmt.Sprintf(format, args...))
}
