package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeAuth         ErrorType = "auth"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeFetchFailed  ErrorType = "fetch_failed"
	ErrorTypeNetwork      ErrorType = "network"
	ErrorTypeParsing      ErrorType = "parsing"
	ErrorTypeStorageRead  ErrorType = "storage_read"
	ErrorTypeStorageWrite ErrorType = "storage_write"
	ErrorTypeConfig       ErrorType = "config"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// Error represents a typed error. Code carries the HTTP status when there is one.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	var msg string
	if e.Code != 0 {
		msg = fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	} else {
		msg = fmt.Sprintf("%s error: %s", e.Type, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(t ErrorType, code int, message string) *Error {
	return &Error{Type: t, Code: code, Message: message}
}

// Wrap creates a typed error around a cause
func Wrap(t ErrorType, err error, message string) *Error {
	return &Error{Type: t, Message: message, Err: err}
}

// TypeOf returns the type of the first *Error in the chain, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType checks whether err carries the given type
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// TypeForStatus maps an HTTP status code to an error type
func TypeForStatus(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode == 0:
		return ErrorTypeNetwork
	default:
		return ErrorTypeFetchFailed
	}
}

// IsFatal reports whether an error must stop the run
func IsFatal(err error) bool {
	return IsType(err, ErrorTypeAuth) || IsType(err, ErrorTypeConfig)
}
