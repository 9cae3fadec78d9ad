package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/pithecene-io/parley/log"
	"github.com/pithecene-io/parley/types"
)

// DefaultMaxBufferTurns is used when BufferedConfig.MaxBufferTurns is zero.
const DefaultMaxBufferTurns = 16

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferTurns bounds the buffer. Reaching it triggers a flush.
	MaxBufferTurns int
	// Logger is optional.
	Logger *log.Logger
}

// BufferedPolicy accumulates turns and writes them in batches.
//
// Flush happens when the buffer reaches MaxBufferTurns and whenever the
// caller asks (session switch, shutdown). On sink failure the buffer is
// kept intact and retried on the next flush; duplicates are preferred over
// loss.
//
// Drop strategy when the buffer is full and the flush failed:
//   - incoming droppable turn: drop it
//   - incoming non-droppable turn with droppable turns buffered: drop the oldest droppable
//   - otherwise: ErrBufferFull
type BufferedPolicy struct {
	sink   Sink
	max    int
	logger *log.Logger

	flushMu sync.Mutex // serializes sink writes
	mu      sync.Mutex // guards buffer
	buffer  []*types.Turn
	stats   *statsRecorder
}

// NewBufferedPolicy creates a buffered policy.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferTurns < 0 {
		return nil, fmt.Errorf("%w: max buffer turns must not be negative", ErrInvalidConfig)
	}
	if config.MaxBufferTurns == 0 {
		config.MaxBufferTurns = DefaultMaxBufferTurns
	}
	return &BufferedPolicy{
		sink:   sink,
		max:    config.MaxBufferTurns,
		logger: config.Logger,
		buffer: make([]*types.Turn, 0, config.MaxBufferTurns),
		stats:  newStatsRecorder(),
	}, nil
}

// IngestTurn buffers the turn, flushing first if the buffer is full.
func (p *BufferedPolicy) IngestTurn(ctx context.Context, turn *types.Turn) error {
	p.stats.update(func(s *Stats) { s.TotalTurns++ })
	if err := turn.Validate(); err != nil {
		p.stats.update(func(s *Stats) { s.Errors++ })
		return fmt.Errorf("%w: %w", ErrInvalidTurn, err)
	}

	if p.full() {
		// Errors are counted and logged by flush; the drop rules below decide
		// whether this turn still fits.
		_ = p.Flush(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffer) < p.max {
		p.appendLocked(turn)
		return nil
	}

	if IsDroppable(turn.Outcome) {
		p.dropLocked(turn, "buffer_full")
		return nil
	}
	if p.dropOldestDroppableLocked() {
		p.appendLocked(turn)
		return nil
	}

	p.stats.update(func(s *Stats) { s.Errors++ })
	if p.logger != nil {
		p.logger.Error("archive buffer overflow", map[string]any{
			"session_id": turn.SessionID.String(),
			"outcome":    string(turn.Outcome),
			"buffered":   len(p.buffer),
		})
	}
	return ErrBufferFull
}

// Flush writes all buffered turns as one batch. The buffer is cleared only
// after the sink accepts it.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	batch := p.buffer
	p.mu.Unlock()
	p.stats.update(func(s *Stats) { s.FlushCount++ })

	if len(batch) == 0 {
		return nil
	}

	if err := p.sink.WriteTurns(ctx, batch); err != nil {
		p.stats.update(func(s *Stats) { s.Errors++ })
		if p.logger != nil {
			p.logger.Warn("archive flush failed", map[string]any{
				"turns": len(batch),
				"error": err.Error(),
			})
		}
		return err
	}

	written := make(map[*types.Turn]struct{}, len(batch))
	for _, t := range batch {
		written[t] = struct{}{}
	}

	p.mu.Lock()
	// Turns appended while the write was in flight stay buffered.
	rest := make([]*types.Turn, 0, p.max)
	for _, t := range p.buffer {
		if _, ok := written[t]; !ok {
			rest = append(rest, t)
		}
	}
	p.buffer = rest
	p.setBufferedLocked()
	p.mu.Unlock()

	p.stats.update(func(s *Stats) { s.TurnsPersisted += int64(len(batch)) })
	return nil
}

// Close flushes remaining turns and closes the sink. The sink is closed
// even if the final flush fails.
func (p *BufferedPolicy) Close() error {
	flushErr := p.Flush(context.Background())
	closeErr := p.sink.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Stats returns policy statistics.
func (p *BufferedPolicy) Stats() Stats {
	return p.stats.snapshot()
}

func (p *BufferedPolicy) full() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer) >= p.max
}

func (p *BufferedPolicy) appendLocked(turn *types.Turn) {
	p.buffer = append(p.buffer, turn)
	p.setBufferedLocked()
}

func (p *BufferedPolicy) setBufferedLocked() {
	n := int64(len(p.buffer))
	p.stats.update(func(s *Stats) { s.Buffered = n })
}

func (p *BufferedPolicy) dropLocked(turn *types.Turn, reason string) {
	p.stats.update(func(s *Stats) {
		s.TurnsDropped++
		s.DroppedByOutcome[turn.Outcome]++
	})
	if p.logger != nil {
		p.logger.Debug("archive turn dropped", map[string]any{
			"session_id": turn.SessionID.String(),
			"outcome":    string(turn.Outcome),
			"reason":     reason,
		})
	}
}

// dropOldestDroppableLocked removes the first droppable turn in the buffer.
func (p *BufferedPolicy) dropOldestDroppableLocked() bool {
	for i, t := range p.buffer {
		if IsDroppable(t.Outcome) {
			p.buffer = append(p.buffer[:i:i], p.buffer[i+1:]...)
			p.dropLocked(t, "evicted")
			p.setBufferedLocked()
			return true
		}
	}
	return false
}
