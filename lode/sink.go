package lode

import (
	"context"

	"github.com/pithecene-io/parley/metrics"
	"github.com/pithecene-io/parley/policy"
	"github.com/pithecene-io/parley/types"
)

// Sink adapts a Client to policy.Sink and counts archive writes on the
// collector. A nil collector disables counting.
type Sink struct {
	client    Client
	collector *metrics.Collector
}

// NewSink creates a policy sink writing through client.
func NewSink(client Client, collector *metrics.Collector) *Sink {
	return &Sink{client: client, collector: collector}
}

// WriteTurns implements policy.Sink.
func (s *Sink) WriteTurns(ctx context.Context, turns []*types.Turn) error {
	err := s.client.WriteTurns(ctx, turns)
	if err != nil {
		s.collector.IncArchiveWriteFailure()
	} else {
		s.collector.IncArchiveWriteSuccess()
	}
	return err
}

// Close implements policy.Sink.
func (s *Sink) Close() error {
	return s.client.Close()
}

var _ policy.Sink = (*Sink)(nil)
