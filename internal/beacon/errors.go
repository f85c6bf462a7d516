package beacon

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure reported to RPC callers
type Code string

const (
	CodeBluetoothDisabled Code = "bluetoothDisabled"
	CodeLocationDisabled  Code = "locationDisabled"
	CodePermissionDenied  Code = "locationPermissionDenied"
	CodeInvalidArgument   Code = "invalidArgument"
	CodeAlreadyPending    Code = "alreadyPending"
	CodeNotImplemented    Code = "notImplemented"
	CodeUnexpected        Code = "unexpected"
)

// Error is a coded monitoring error
type Error struct {
	Code Code
	Msg  string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is allows errors.Is to compare Error values by Code
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Requirement failures, reported synchronously and never retried automatically.
var (
	ErrBluetoothDisabled = &Error{Code: CodeBluetoothDisabled}
	ErrLocationDisabled  = &Error{Code: CodeLocationDisabled}
	ErrPermissionDenied  = &Error{Code: CodePermissionDenied}
)

var (
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument}
	ErrAlreadyPending  = &Error{Code: CodeAlreadyPending}
	ErrNotImplemented  = &Error{Code: CodeNotImplemented}
	ErrUnexpected      = &Error{Code: CodeUnexpected}
)

// Errorf builds a coded error with a formatted message
func Errorf(code Code, format string, args ...interface{}) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code carried by err, or CodeUnexpected for foreign errors
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnexpected
}
