package types

import (
	"errors"
	"time"
)

// Outcome classifies how a turn ended.
type Outcome string

// Outcome constants.
const (
	// OutcomeCompleted means the stream reached an end frame or EOF.
	OutcomeCompleted Outcome = "completed"
	// OutcomeBackendError means the backend sent an explicit error frame.
	OutcomeBackendError Outcome = "backend_error"
	// OutcomeTransportError means the request failed before any data arrived.
	OutcomeTransportError Outcome = "transport_error"
	// OutcomeStreamError means the stream broke after data arrived.
	OutcomeStreamError Outcome = "stream_error"
	// OutcomeCancelled means the turn was aborted locally.
	OutcomeCancelled Outcome = "cancelled"
)

// IsSuccess returns true only for completed turns.
func (o Outcome) IsSuccess() bool { return o == OutcomeCompleted }

// Turn is the archived record of one submit: the user message, the
// assistant replies it produced and how the stream ended.
type Turn struct {
	// ClientID identifies the client that ran the turn.
	ClientID string `json:"client_id" msgpack:"client_id"`
	// SessionID is the conversation the turn belongs to.
	SessionID ID `json:"session_id" msgpack:"session_id"`
	// PersonaID is the persona the session was created with, if known.
	PersonaID ID `json:"persona_id,omitempty" msgpack:"persona_id,omitempty"`
	// User is the submitted message.
	User *Message `json:"user" msgpack:"user"`
	// Assistant holds the replies in arrival order, with full text.
	Assistant []*Message `json:"assistant,omitempty" msgpack:"assistant,omitempty"`
	// Outcome is how the stream ended.
	Outcome Outcome `json:"outcome" msgpack:"outcome"`
	// Error carries the backend or transport error text.
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
	// Frames is the number of frames decoded.
	Frames int `json:"frames" msgpack:"frames"`
	// StartedAt is when the submit began.
	StartedAt time.Time `json:"started_at" msgpack:"started_at"`
	// CompletedAt is when the stream finished.
	CompletedAt time.Time `json:"completed_at" msgpack:"completed_at"`
}

// Validate checks the fields every archive record needs.
func (t *Turn) Validate() error {
	if t.SessionID.IsZero() {
		return errors.New("turn session_id must be non-empty")
	}
	if t.User == nil || t.User.ID.IsZero() {
		return errors.New("turn user message must carry an id")
	}
	if t.Outcome == "" {
		return errors.New("turn outcome must be set")
	}
	return nil
}

// Duration returns the wall time between start and completion.
func (t *Turn) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
