package policy

import (
	"context"

	"github.com/pithecene-io/parley/types"
)

// NoopPolicy accepts turns without persisting them. Used when the archive
// is disabled.
//
// Stats still follow the drop rules: cancelled turns count as dropped,
// everything else as persisted.
type NoopPolicy struct {
	stats *statsRecorder
}

// NewNoopPolicy creates a no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{stats: newStatsRecorder()}
}

// IngestTurn accepts the turn.
func (p *NoopPolicy) IngestTurn(_ context.Context, turn *types.Turn) error {
	p.stats.update(func(s *Stats) {
		s.TotalTurns++
		if IsDroppable(turn.Outcome) {
			s.TurnsDropped++
			s.DroppedByOutcome[turn.Outcome]++
			return
		}
		s.TurnsPersisted++
	})
	return nil
}

// Flush is a no-op.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.stats.update(func(s *Stats) { s.FlushCount++ })
	return nil
}

// Close is a no-op.
func (p *NoopPolicy) Close() error { return nil }

// Stats returns policy statistics.
func (p *NoopPolicy) Stats() Stats {
	return p.stats.snapshot()
}
