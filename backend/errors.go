package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyResponse is returned when a JSON endpoint answers with no body.
	ErrEmptyResponse = errors.New("empty response body")
	// ErrMalformedResponse is returned when a response body cannot be decoded.
	// Not retried.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrHeaderTimeout is returned when the stream's response headers did not
	// arrive within the configured timeout.
	ErrHeaderTimeout = errors.New("timed out waiting for response headers")
)

// StatusError is returned for non-2xx HTTP responses.
// Message carries the backend's error text when it sent one.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
}

// Retriable reports whether repeating the request may succeed.
// 4xx responses are final; 429 is the exception.
func (e *StatusError) Retriable() bool {
	if e.Code == http.StatusTooManyRequests {
		return true
	}
	return e.Code < 400 || e.Code >= 500
}

// IsStatusError returns true if err wraps a StatusError.
func IsStatusError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr)
}

// IsUnauthorized returns true if the backend rejected the credentials.
func IsUnauthorized(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden
	}
	return false
}

// IsNotFound returns true if the backend answered 404.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusNotFound
	}
	return false
}
