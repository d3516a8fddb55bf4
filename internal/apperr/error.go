// Package apperr provides the coded error taxonomy used across the bot.
//
// Codes:
//   - CodeConfiguration: missing credentials or invalid config, fatal at startup
//   - CodeDataUnavailable: empty bars, missing quotes; means "no decision this tick"
//   - CodeGateway: broker/network failure, recorded by the circuit breaker
//   - CodeInvariant: an operation that would break the single-position rule
//   - CodeStorage: state snapshot or ledger persistence failure
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an Error.
type Code int

const (
	CodeUnknown Code = iota
	CodeConfiguration
	CodeDataUnavailable
	CodeGateway
	CodeInvariant
	CodeStorage
)

func (c Code) String() string {
	switch c {
	case CodeConfiguration:
		return "configuration"
	case CodeDataUnavailable:
		return "data_unavailable"
	case CodeGateway:
		return "gateway"
	case CodeInvariant:
		return "invariant"
	case CodeStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a structured error with a code, message and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf attaches a code and formatted message to cause.
func Wrapf(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// GetCode returns the code of the first *Error in err's chain, or CodeUnknown.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return err != nil && GetCode(err) == code
}
