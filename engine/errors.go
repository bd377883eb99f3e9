package engine

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable failure category surfaced to callers.
type Kind string

const (
	KindInvalidInput         Kind = "INVALID_INPUT"
	KindDuplicateEmail       Kind = "DUPLICATE_EMAIL"
	KindAuthenticationFailed Kind = "AUTHENTICATION_FAILED"
	KindPermissionDenied     Kind = "PERMISSION_DENIED"
	KindNotFound             Kind = "NOT_FOUND"
	KindInsufficientFunds    Kind = "INSUFFICIENT_FUNDS"
	KindAlreadyOwned         Kind = "ALREADY_OWNED"
	// KindPersistence means the snapshot write failed and the command was
	// not applied. It is the only kind that should page someone.
	KindPersistence Kind = "PERSISTENCE"
)

// Error is returned by every engine command.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so errors.Is(err, ErrNotFound) works for any NotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrDuplicateEmail       = &Error{Kind: KindDuplicateEmail}
	ErrAuthenticationFailed = &Error{Kind: KindAuthenticationFailed}
	ErrPermissionDenied     = &Error{Kind: KindPermissionDenied}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInsufficientFunds    = &Error{Kind: KindInsufficientFunds}
	ErrAlreadyOwned         = &Error{Kind: KindAlreadyOwned}
	ErrPersistence          = &Error{Kind: KindPersistence}
)

// KindOf returns the Kind of err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func invalid(op, format string, args ...any) *Error {
	return newError(KindInvalidInput, op, format, args...)
}

func notFound(op, format string, args ...any) *Error {
	return newError(KindNotFound, op, format, args...)
}

func denied(op, reason string) *Error {
	return &Error{Kind: KindPermissionDenied, Op: op, Msg: reason}
}
