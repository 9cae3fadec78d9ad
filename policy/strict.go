package policy

import (
	"context"
	"fmt"

	"github.com/pithecene-io/parley/types"
)

// StrictPolicy writes every turn to the sink as it arrives.
//
//   - No buffering: each turn is a batch of one
//   - No drops
//   - The caller blocks on sink latency
type StrictPolicy struct {
	sink  Sink
	stats *statsRecorder
}

// NewStrictPolicy creates a strict policy writing to sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink, stats: newStatsRecorder()}
}

// IngestTurn writes the turn immediately.
func (p *StrictPolicy) IngestTurn(ctx context.Context, turn *types.Turn) error {
	p.stats.update(func(s *Stats) { s.TotalTurns++ })

	if err := turn.Validate(); err != nil {
		p.stats.update(func(s *Stats) { s.Errors++ })
		return fmt.Errorf("%w: %w", ErrInvalidTurn, err)
	}
	if err := p.sink.WriteTurns(ctx, []*types.Turn{turn}); err != nil {
		p.stats.update(func(s *Stats) { s.Errors++ })
		return err
	}
	p.stats.update(func(s *Stats) { s.TurnsPersisted++ })
	return nil
}

// Flush is a no-op; nothing is buffered.
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.stats.update(func(s *Stats) { s.FlushCount++ })
	return nil
}

// Close closes the sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}
