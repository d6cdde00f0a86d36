// Package errors defines stable error codes for all failure modes of the
// similarusers service, plus a structured error type that carries the code
// alongside a human-readable message and an optional cause.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// UserNoAccount indicates the queried user has no account on the wiki
	UserNoAccount ErrorCode = "USER_NO_ACCOUNT"
	// UserBot indicates the queried user is a bot account and out of scope
	UserBot ErrorCode = "USER_BOT"
	// UserNoEdits indicates the user has no in-scope edits on the wiki
	UserNoEdits ErrorCode = "USER_NO_EDITS"
	// DatabaseRefresh indicates a bulk dataset refresh is in progress
	DatabaseRefresh ErrorCode = "DATABASE_REFRESH"
	// InvalidArgument indicates bad or missing query parameters
	InvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// UpstreamUnavailable indicates the wiki edit-history API failed
	UpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Tag returns the wire-format error-type tag for a code. Only the codes a
// client is expected to branch on have tags; the rest return "".
func (c ErrorCode) Tag() string {
	switch c {
	case UserNoAccount:
		return "user-no-account"
	case UserBot:
		return "user-bot"
	case UserNoEdits:
		return "user-no-edits"
	case DatabaseRefresh:
		return "database-refresh"
	default:
		return ""
	}
}

// ServiceError represents a service error with code and message
type ServiceError struct {
	Code    ErrorCode
	Message string
	cause   error
}

// New creates a new ServiceError
func New(code ErrorCode, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// Newf creates a new ServiceError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new ServiceError with an underlying cause
func Wrap(code ErrorCode, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, cause: cause}
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.cause
}

// CodeOf extracts the error code from an error chain, or InternalError if
// the chain contains no ServiceError.
func CodeOf(err error) ErrorCode {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return InternalError
}

// FromError returns the ServiceError in err's chain, wrapping errors that
// carry no code as InternalError.
func FromError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return Wrap(InternalError, "unexpected error", err)
}
