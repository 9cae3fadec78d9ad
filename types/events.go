package types

// RecordVersion is the version stamped on archive records and adapter payloads.
const RecordVersion = "0.3.0"

// EventType is the kind of a stream frame, taken from its event: line.
type EventType string

// Stream event kinds emitted by the backend.
const (
	EventTypeMessage  EventType = "message"
	EventTypeDocument EventType = "document"
	EventTypeError    EventType = "error"
	EventTypeEnd      EventType = "end"
)

// IsTerminal returns true if the event ends the turn.
func (e EventType) IsTerminal() bool {
	return e == EventTypeError || e == EventTypeEnd
}

// IsKnown returns true for event kinds the client understands.
func (e EventType) IsKnown() bool {
	switch e {
	case EventTypeMessage, EventTypeDocument, EventTypeError, EventTypeEnd:
		return true
	default:
		return false
	}
}

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Frame is one decoded stream event. Exactly one payload is set for
// message, document and error frames; end frames carry none.
type Frame struct {
	// Type is the event kind.
	Type EventType
	// Message is set for message frames.
	Message *Message
	// Document is set for document frames.
	Document *Citation
	// Error is set for error frames.
	Error *ErrorPayload
}
