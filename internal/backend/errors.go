package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a backend failure.
type Code string

const (
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeTimeout          Code = "TIMEOUT"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeInternal         Code = "INTERNAL"
	CodeValidation       Code = "VALIDATION"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
)

// Retryable reports whether failures with this code are worth replaying.
func (c Code) Retryable() bool {
	switch c {
	case CodeUnavailable, CodeTimeout, CodeRateLimited, CodeInternal:
		return true
	}
	return false
}

// Error is the typed outcome of a failed backend call.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error whose retryability follows its code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code.Retryable()}
}

// Wrap wraps err with a code; retryability follows the code.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Retryable: code.Retryable(), Err: err}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsRetryable reports whether a failed call may succeed on replay.
// Untyped errors (network failures, deadlines) are treated as transient;
// a cancelled context is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return !errors.Is(err, context.Canceled)
}

// FromStatus maps an HTTP status to an Error code.
func FromStatus(status int, message string) *Error {
	var code Code
	switch {
	case status == http.StatusNotFound:
		code = CodeNotFound
	case status == http.StatusConflict:
		code = CodeConflict
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		code = CodePermissionDenied
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		code = CodeTimeout
	case status == http.StatusTooManyRequests:
		code = CodeRateLimited
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway:
		code = CodeUnavailable
	case status >= 500:
		code = CodeInternal
	default:
		code = CodeValidation
	}
	return New(code, message)
}

// HTTPStatus maps an error to the HTTP status a server should answer with.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeValidation:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
