// Package adapter defines the boundary for turn-completion notifications.
//
// Adapters publish a TurnCompletedEvent to a downstream system after every
// submit. The chat controller owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/parley/types"
)

// EventTypeTurnCompleted is the only event type adapters publish.
const EventTypeTurnCompleted = "turn_completed"

// TurnCompletedEvent is the payload published when a turn finishes.
type TurnCompletedEvent struct {
	ContractVersion     string   `json:"contract_version" msgpack:"contract_version"`
	EventType           string   `json:"event_type" msgpack:"event_type"` // always "turn_completed"
	ClientID            string   `json:"client_id" msgpack:"client_id"`
	SessionID           string   `json:"session_id" msgpack:"session_id"`
	PersonaID           string   `json:"persona_id,omitempty" msgpack:"persona_id,omitempty"`
	UserMessageID       string   `json:"user_message_id" msgpack:"user_message_id"`
	AssistantMessageIDs []string `json:"assistant_message_ids" msgpack:"assistant_message_ids"`
	Outcome             string   `json:"outcome" msgpack:"outcome"` // completed, backend_error, etc.
	Error               string   `json:"error,omitempty" msgpack:"error,omitempty"`
	Citations           int      `json:"citations" msgpack:"citations"`
	Frames              int      `json:"frames" msgpack:"frames"`
	Timestamp           string   `json:"timestamp" msgpack:"timestamp"` // RFC 3339
	DurationMs          int64    `json:"duration_ms" msgpack:"duration_ms"`
}

// NewTurnCompletedEvent builds the event for a finished turn.
func NewTurnCompletedEvent(turn *types.Turn) *TurnCompletedEvent {
	ev := &TurnCompletedEvent{
		ContractVersion:     types.Version,
		EventType:           EventTypeTurnCompleted,
		ClientID:            turn.ClientID,
		SessionID:           turn.SessionID.String(),
		PersonaID:           turn.PersonaID.String(),
		AssistantMessageIDs: make([]string, 0, len(turn.Assistant)),
		Outcome:             string(turn.Outcome),
		Error:               turn.Error,
		Frames:              turn.Frames,
		Timestamp:           turn.CompletedAt.UTC().Format(time.RFC3339),
		DurationMs:          turn.Duration().Milliseconds(),
	}
	if turn.User != nil {
		ev.UserMessageID = turn.User.ID.String()
	}
	for _, m := range turn.Assistant {
		ev.AssistantMessageIDs = append(ev.AssistantMessageIDs, m.ID.String())
		ev.Citations += len(m.Citations)
	}
	return ev
}

// Adapter publishes turn completion events to a downstream system.
type Adapter interface {
	// Publish sends the event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *TurnCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Encoding selects the wire format of published payloads.
type Encoding string

// Encoding constants.
const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding validates an encoding name. Empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("unknown adapter encoding %q (want json or msgpack)", s)
	}
}

// ContentType returns the MIME type for the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingMsgpack {
		return "application/msgpack"
	}
	return "application/json"
}

// Encode serializes the event.
func Encode(event *TurnCompletedEvent, enc Encoding) ([]byte, error) {
	switch enc {
	case "", EncodingJSON:
		return json.Marshal(event)
	case EncodingMsgpack:
		return msgpack.Marshal(event)
	default:
		return nil, fmt.Errorf("unknown adapter encoding %q", enc)
	}
}

// Decode is the inverse of Encode. Used by consumers and tests.
func Decode(data []byte, enc Encoding) (*TurnCompletedEvent, error) {
	var ev TurnCompletedEvent
	var err error
	switch enc {
	case "", EncodingJSON:
		err = json.Unmarshal(data, &ev)
	case EncodingMsgpack:
		err = msgpack.Unmarshal(data, &ev)
	default:
		err = fmt.Errorf("unknown adapter encoding %q", enc)
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Backoff returns the wait before attempt i (1-based retry index): base,
// 2*base, 4*base...
func Backoff(base time.Duration, i int) time.Duration {
	if i < 1 {
		return 0
	}
	return base << uint(i-1)
}
