package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pithecene-io/parley/types"
)

// Encoder writes frames in the backend's wire format. It backs fake backends
// in tests and the debug tooling that replays captured streams.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one frame and flushes it.
func (e *Encoder) Encode(frame *types.Frame) error {
	data, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return e.w.Flush()
}

// EncodeFrame renders a frame as event/data lines followed by a blank line.
func EncodeFrame(frame *types.Frame) ([]byte, error) {
	var payload any
	switch frame.Type {
	case types.EventTypeMessage:
		payload = map[string]any{messageKey: frame.Message}
	case types.EventTypeDocument:
		payload = map[string]any{documentKey: frame.Document}
	case types.EventTypeError:
		payload = map[string]any{messageKey: frame.Error}
	case types.EventTypeEnd:
		payload = map[string]any{}
	default:
		return nil, fmt.Errorf("cannot encode event kind %q", frame.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", frame.Type, err)
	}

	out := make([]byte, 0, len(data)+len(frame.Type)+16)
	out = append(out, "event:"...)
	out = append(out, frame.Type...)
	out = append(out, "\ndata:"...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out, nil
}
