package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/parley/types"
)

// Sink abstracts persistence for policies.
// Implementations may write to the archive, forward elsewhere, or stub for testing.
type Sink interface {
	// WriteTurns persists a batch of turns.
	// Must preserve ordering within the batch.
	WriteTurns(ctx context.Context, turns []*types.Turn) error

	// Close releases any resources held by the sink.
	Close() error
}

// StubSink is a test sink that records writes without persisting.
type StubSink struct {
	mu sync.Mutex

	// Batches holds each WriteTurns call in order.
	Batches [][]*types.Turn
	// Closed indicates whether Close was called.
	Closed bool
	// ErrorOnWrite, if non-nil, is returned by WriteTurns.
	ErrorOnWrite error
}

// NewStubSink creates a new stub sink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// WriteTurns records the batch.
func (s *StubSink) WriteTurns(_ context.Context, turns []*types.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	s.Batches = append(s.Batches, append([]*types.Turn(nil), turns...))
	return nil
}

// SetError changes the error returned by subsequent writes.
func (s *StubSink) SetError(err error) {
	s.mu.Lock()
	s.ErrorOnWrite = err
	s.mu.Unlock()
}

// Close marks the sink as closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Turns returns every written turn in write order.
func (s *StubSink) Turns() []*types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Turn
	for _, b := range s.Batches {
		out = append(out, b...)
	}
	return out
}

// BatchCount returns the number of WriteTurns calls that succeeded.
func (s *StubSink) BatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Batches)
}

// IsClosed reports whether Close was called.
func (s *StubSink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}
