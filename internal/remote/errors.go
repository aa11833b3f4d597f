package remote

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// ErrorKind categorizes network errors.
type ErrorKind string

const (
	// KindUnreachable indicates no response was received.
	KindUnreachable ErrorKind = "UNREACHABLE"

	// KindServerError indicates the authority responded but refused or
	// failed the request.
	KindServerError ErrorKind = "SERVER_ERROR"
)

// NetworkError is returned by every Client call that fails.
type NetworkError struct {
	Kind   ErrorKind
	Method string
	Path   string

	// Status is the HTTP status for ServerError, zero for Unreachable.
	Status int

	// Body is the raw response body, truncated.
	Body string

	// Message is the authority's "message" field when the body carried one.
	Message string

	// Err is the transport or decode error, if any.
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	switch {
	case e.Kind == KindUnreachable:
		return fmt.Sprintf("remote: %s %s: %s: %v", e.Method, e.Path, e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("remote: %s %s: %s (%d): %s", e.Method, e.Path, e.Kind, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("remote: %s %s: %s (%d): %v", e.Method, e.Path, e.Kind, e.Status, e.Err)
	default:
		return fmt.Sprintf("remote: %s %s: %s (%d)", e.Method, e.Path, e.Kind, e.Status)
	}
}

// Unwrap returns the underlying transport or decode error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsUnreachable reports whether err is a NetworkError with no response.
// Uses errors.As to handle wrapped errors.
func IsUnreachable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Kind == KindUnreachable
	}
	return false
}

// IsServerError reports whether err is a NetworkError carrying a response.
func IsServerError(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Kind == KindServerError
	}
	return false
}

// IsRetryable reports whether repeating an idempotent request may succeed:
// the authority was unreachable or answered with a 5xx or 429.
func IsRetryable(err error) bool {
	var ne *NetworkError
	if !errors.As(err, &ne) {
		return false
	}
	if ne.Kind == KindUnreachable {
		return true
	}
	return ne.Status >= 500 || ne.Status == http.StatusTooManyRequests
}

// IsUnauthorized reports whether the authority rejected the session.
func IsUnauthorized(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Kind == KindServerError && ne.Status == http.StatusUnauthorized
	}
	return false
}

func unreachable(method, path string, err error) *NetworkError {
	return &NetworkError{Kind: KindUnreachable, Method: method, Path: path, Err: err}
}

func serverError(method, path string, status int, body []byte, message string, err error) *NetworkError {
	return &NetworkError{
		Kind:    KindServerError,
		Method:  method,
		Path:    path,
		Status:  status,
		Body:    truncate(string(body), maxErrorBody),
		Message: message,
		Err:     err,
	}
}

const maxErrorBody = 512

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
