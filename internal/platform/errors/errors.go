// Package errors defines the coded errors shared by the ledger and the
// settlement service, and their mapping onto gRPC statuses.
package errors

import (
	"errors"
	"fmt"
)

// Domain is the error domain for fundraising.space errors.
const Domain = "github.com/louisbranch/fundraising.space"

// Error is a coded error. Metadata values are strings so they survive the
// gRPC ErrorInfo details and can fill catalog templates.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Category returns the taxonomy bucket of the error code.
func (e *Error) Category() Category {
	return e.Code.Category()
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Field reports a problem with one named input.
func Field(code Code, field, message string) *Error {
	return WithMetadata(code, message, map[string]string{"Field": field})
}

// Fieldf is Field with a formatted message.
func Fieldf(code Code, field, format string, args ...any) *Error {
	return Field(code, field, fmt.Sprintf(format, args...))
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata, Cause: cause}
}

// GetCode returns the code of the first *Error in err's chain, or
// CodeUnknown.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsIntegrity reports whether err signals a logic bug that must abort the
// operation.
func IsIntegrity(err error) bool {
	return GetCode(err).Category() == CategoryIntegrity
}

// GetMetadata returns the metadata of the first *Error in err's chain.
func GetMetadata(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Metadata
	}
	return nil
}

func isDomain(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
