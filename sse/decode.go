package sse

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/pithecene-io/parley/types"
)

// Envelope keys wrapping frame payloads.
const (
	messageKey  = "Message"
	documentKey = "Document"
)

// DecodeFrame decodes the data of one frame according to its event kind.
//
// Payloads are normally wrapped ({"Message": {...}}, {"Document": {...}}).
// Older backends send the bare object; both are accepted.
func DecodeFrame(eventType types.EventType, data []byte) (*types.Frame, error) {
	switch eventType {
	case types.EventTypeEnd:
		return &types.Frame{Type: types.EventTypeEnd}, nil

	case types.EventTypeMessage:
		var msg types.Message
		if err := decodePayload(eventType, data, messageKey, &msg); err != nil {
			return nil, err
		}
		if msg.ID.IsZero() {
			return nil, &FrameError{
				Kind:  FrameErrorDecode,
				Event: eventType,
				Msg:   "message payload has no id",
			}
		}
		return &types.Frame{Type: eventType, Message: &msg}, nil

	case types.EventTypeDocument:
		var doc types.Citation
		if err := decodePayload(eventType, data, documentKey, &doc); err != nil {
			return nil, err
		}
		if doc.MessageID.IsZero() {
			return nil, &FrameError{
				Kind:  FrameErrorDecode,
				Event: eventType,
				Msg:   "document payload has no message_id",
			}
		}
		return &types.Frame{Type: eventType, Document: &doc}, nil

	case types.EventTypeError:
		var payload types.ErrorPayload
		if err := decodePayload(eventType, data, messageKey, &payload); err != nil {
			return nil, err
		}
		return &types.Frame{Type: eventType, Error: &payload}, nil

	default:
		return nil, &FrameError{
			Kind:  FrameErrorUnknownEvent,
			Event: eventType,
			Msg:   "unknown event kind",
		}
	}
}

// errNullPayload reports a payload that is absent or JSON null.
var errNullPayload = errors.New("payload is null or missing")

// decodePayload unwraps data[key] when present and decodes it into v.
func decodePayload(eventType types.EventType, data []byte, key string, v any) error {
	body := bytes.TrimSpace(data)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return &FrameError{
			Kind:  FrameErrorDecode,
			Event: eventType,
			Msg:   "failed to decode payload",
			Err:   errNullPayload,
		}
	}

	// Keys are matched exactly: a bare message object has a lowercase
	// "message" text field that must not be mistaken for the wrapper.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return &FrameError{
			Kind:  FrameErrorDecode,
			Event: eventType,
			Msg:   "failed to decode payload",
			Err:   err,
		}
	}
	if inner, ok := probe[key]; ok {
		body = bytes.TrimSpace(inner)
		if len(body) == 0 || bytes.Equal(body, []byte("null")) {
			return &FrameError{
				Kind:  FrameErrorDecode,
				Event: eventType,
				Msg:   "failed to decode " + key,
				Err:   errNullPayload,
			}
		}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return &FrameError{
			Kind:  FrameErrorDecode,
			Event: eventType,
			Msg:   "failed to decode " + key,
			Err:   err,
		}
	}
	return nil
}
