// Package sse decodes the chat backend's event stream into typed frames.
//
// The backend answers a sent message with a chunked text/event-stream body:
//
//	event:message
//	data:{"Message": {...}}
//
//	event:document
//	data:{"Document": {..., "message_id": 12}}
//
// Chunk boundaries carry no meaning. The decoder buffers partial lines and
// frames across reads and only yields a frame once its terminating blank line
// (or the end of the stream) has been seen.
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/pithecene-io/parley/types"
)

// DefaultMaxFrameSize bounds a single frame (all of its lines) at 4 MiB.
const DefaultMaxFrameSize = 4 * 1024 * 1024

// readBufferSize is the bufio buffer used over the transport reader.
const readBufferSize = 32 * 1024

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorDecode indicates an unparseable or missing payload.
	// The frame is skipped; the stream continues.
	FrameErrorDecode FrameErrorKind = iota
	// FrameErrorUnknownEvent indicates an event kind the client does not handle.
	// The frame is skipped; the stream continues.
	FrameErrorUnknownEvent
	// FrameErrorTooLarge indicates a frame exceeding the size limit (fatal).
	FrameErrorTooLarge
	// FrameErrorTransport indicates the underlying reader failed (fatal).
	FrameErrorTransport
)

// String returns a short name for the kind.
func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorDecode:
		return "decode"
	case FrameErrorUnknownEvent:
		return "unknown_event"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorTransport:
		return "transport"
	default:
		return fmt.Sprintf("FrameErrorKind(%d)", int(k))
	}
}

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind  FrameErrorKind
	Event types.EventType
	Msg   string
	Err   error
}

func (e *FrameError) Error() string {
	prefix := e.Msg
	if e.Event != "" {
		prefix = fmt.Sprintf("%s (event %q)", e.Msg, e.Event)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return prefix
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the stream cannot continue after this error.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorTooLarge || e.Kind == FrameErrorTransport
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// IsDecodeError returns true if the error is a skippable per-frame error.
func IsDecodeError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return !frameErr.IsFatal()
	}
	return false
}

// Option configures a FrameDecoder.
type Option func(*FrameDecoder)

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(n int) Option {
	return func(d *FrameDecoder) {
		if n > 0 {
			d.maxSize = n
		}
	}
}

// utf8BOM may precede the first line of a stream.
var utf8BOM = []byte("\xef\xbb\xbf")

// FrameDecoder decodes event-stream frames from a reader.
// One decoder serves one stream; it is not safe for concurrent use and
// cannot be restarted.
type FrameDecoder struct {
	reader  *bufio.Reader
	maxSize int

	line    []byte
	skipLF  bool // previous line ended in \r; swallow a following \n
	started bool // first line seen; a leading BOM is stripped from it

	event   string
	data    []byte
	hasData bool
	size    int

	err error // sticky fatal error or io.EOF
}

// NewFrameDecoder creates a decoder over r.
func NewFrameDecoder(r io.Reader, opts ...Option) *FrameDecoder {
	d := &FrameDecoder{
		reader:  bufio.NewReaderSize(r, readBufferSize),
		maxSize: DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next complete frame.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with a decode or unknown-event kind: frame skipped, call Next again
//   - *FrameError with Kind=FrameErrorTooLarge or FrameErrorTransport: fatal
func (d *FrameDecoder) Next() (*types.Frame, error) {
	if d.err != nil {
		return nil, d.err
	}

	for {
		line, err := d.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.err = io.EOF
				// Transports may omit the final blank line.
				if d.pending() {
					return d.dispatch()
				}
				return nil, io.EOF
			}
			d.err = err
			return nil, err
		}

		if !d.started {
			d.started = true
			line = bytes.TrimPrefix(line, utf8BOM)
		}

		if len(line) == 0 {
			if !d.pending() {
				continue
			}
			return d.dispatch()
		}

		if err := d.processLine(line); err != nil {
			d.err = err
			return nil, err
		}
	}
}

// Frames returns a lazy sequence over Next. The sequence ends at io.EOF or
// after yielding a fatal error; skippable errors are yielded with a nil frame.
func (d *FrameDecoder) Frames() iter.Seq2[*types.Frame, error] {
	return func(yield func(*types.Frame, error) bool) {
		for {
			frame, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(frame, err) {
				return
			}
			if IsFatalFrameError(err) {
				return
			}
		}
	}
}

// readLine returns the next line without its terminator. LF, CRLF and lone
// CR all end a line. A final unterminated line is returned before io.EOF.
func (d *FrameDecoder) readLine() ([]byte, error) {
	d.line = d.line[:0]
	for {
		b, err := d.reader.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(d.line) > 0 {
					return d.line, nil
				}
				return nil, io.EOF
			}
			return nil, &FrameError{
				Kind: FrameErrorTransport,
				Msg:  "failed to read stream",
				Err:  err,
			}
		}

		if d.skipLF {
			d.skipLF = false
			if b == '\n' {
				continue
			}
		}

		switch b {
		case '\n':
			return d.line, nil
		case '\r':
			d.skipLF = true
			return d.line, nil
		}

		if d.size+len(d.line) >= d.maxSize {
			return nil, &FrameError{
				Kind: FrameErrorTooLarge,
				Msg:  fmt.Sprintf("frame exceeds maximum size %d", d.maxSize),
			}
		}
		d.line = append(d.line, b)
	}
}

// processLine applies one field line to the frame being assembled.
func (d *FrameDecoder) processLine(line []byte) error {
	d.size += len(line) + 1
	if d.size > d.maxSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("frame exceeds maximum size %d", d.maxSize),
		}
	}

	// Comment line.
	if line[0] == ':' {
		return nil
	}

	field, value := splitField(line)
	switch field {
	case "event":
		d.event = string(value)
	case "data":
		if d.hasData {
			d.data = append(d.data, '\n')
		}
		d.data = append(d.data, value...)
		d.hasData = true
	default:
		// id, retry and unknown fields carry nothing the client uses.
	}
	return nil
}

// pending reports whether a frame has started.
func (d *FrameDecoder) pending() bool {
	return d.event != "" || d.hasData
}

// dispatch decodes the assembled frame and resets frame state.
func (d *FrameDecoder) dispatch() (*types.Frame, error) {
	eventType := types.EventType(d.event)
	if eventType == "" {
		eventType = types.EventTypeMessage
	}
	data := d.data

	d.event = ""
	d.data = nil
	d.hasData = false
	d.size = 0

	return DecodeFrame(eventType, data)
}

// splitField splits "field:value", stripping one space after the colon.
// A line with no colon is a field with an empty value.
func splitField(line []byte) (string, []byte) {
	for i, b := range line {
		if b != ':' {
			continue
		}
		value := line[i+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		return string(line[:i]), value
	}
	return string(line), nil
}
