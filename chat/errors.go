package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned by Submit for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSubmitInFlight is returned by Submit while another turn is streaming.
	ErrSubmitInFlight = errors.New("a turn is already in flight")
	// ErrNoPersona is returned when a session must be created and no persona
	// can be chosen.
	ErrNoPersona = errors.New("no persona available")
	// ErrSuperseded is returned by LoadSession when another load or reset
	// replaced the session while history was being fetched.
	ErrSuperseded = errors.New("session switch superseded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
)

// TransportError reports a request that never completed, or that the backend
// answered with a non-2xx status before any stream data.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BackendError reports an explicit error frame. The turn ends; the session
// stays usable.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return "backend error: " + e.Message
}

// IsTransportError returns true if err wraps a TransportError.
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsBackendError returns true if err wraps a BackendError.
func IsBackendError(err error) bool {
	var backendErr *BackendError
	return errors.As(err, &backendErr)
}
