// Package fault defines the error kinds shared by Spotline's domain services.
//
// Services return *Error values whose Kind is one of the sentinels below. The HTTP
// layer maps kinds to status codes and surfaces Code as the stable machine-readable reason.
package fault

import (
	"errors"
	"fmt"
)

// Sentinel kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput    = errors.New("invalid_input")
	ErrNotFound        = errors.New("not_found")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Error is a typed operation error with a stable Op + Kind contract for callers/tests.
// Code is a short reason such as "quota_reached" or "last_admin"; Msg is human-readable
// and must not include secrets.
type Error struct {
	Op   string
	Kind error
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// E builds an *Error. An empty code defaults to the kind's text.
func E(op string, kind error, code, msg string) *Error {
	if code == "" && kind != nil {
		code = kind.Error()
	}
	return &Error{Op: op, Kind: kind, Code: code, Msg: msg}
}

// Invalid is shorthand for an ErrInvalidInput error.
func Invalid(op, msg string) *Error { return E(op, ErrInvalidInput, "", msg) }

// NotFound is shorthand for an ErrNotFound error naming the missing resource.
func NotFound(op, resource string) *Error {
	return E(op, ErrNotFound, "", resource+" not found")
}

// Forbidden is shorthand for an ErrForbidden error.
func Forbidden(op, msg string) *Error { return E(op, ErrForbidden, "", msg) }

// Conflict is shorthand for an ErrConflict error with a reason code.
func Conflict(op, code, msg string) *Error { return E(op, ErrConflict, code, msg) }

// CodeOf returns the reason code carried by err, or "" when err is not an *Error.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// MessageOf returns the human-readable message carried by err, if any.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Msg
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err, kind error) bool { return errors.Is(err, kind) }
