package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the class of a request failure.
type Code string

const (
	CodeInvalidInput Code = "INVALID_INPUT" // 400
	CodeUnauthorized Code = "UNAUTHORIZED"  // 401
	CodeNotFound     Code = "NOT_FOUND"     // 404
	CodeConflict     Code = "CONFLICT"      // 409
	CodeUnavailable  Code = "UNAVAILABLE"   // 500, configuration or provider outage
	CodeInternal     Code = "INTERNAL"      // 500
)

// Error is a request failure that aborts the pipeline and maps onto an HTTP
// status.
type Error struct {
	Code    Code
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func InvalidInput(msg string) *Error {
	return &Error{Code: CodeInvalidInput, Status: http.StatusBadRequest, Message: msg}
}

func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Status: http.StatusUnauthorized, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: msg}
}

func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Status: http.StatusConflict, Message: msg}
}

// Unavailable wraps a missing-configuration or provider failure.
func Unavailable(msg string, err error) *Error {
	return &Error{Code: CodeUnavailable, Status: http.StatusInternalServerError, Message: msg, Err: err}
}

// Internal classifies an unexpected failure. msg is what the caller sees; err
// stays in logs only.
func Internal(msg string, err error) *Error {
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: msg, Err: err}
}

// Is reports whether err, or anything it wraps, is an *Error with the given code.
func Is(err error, code Code) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// StatusOf returns the HTTP status for err. Unclassified errors are 500.
func StatusOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
