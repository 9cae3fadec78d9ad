// Package policy decides how completed turns reach the transcript archive.
package policy

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/pithecene-io/parley/types"
)

// Policy defines the archive ingestion interface.
//
// Rules:
//   - May drop: cancelled turns
//   - Must NOT drop: completed, backend_error, transport_error, stream_error
//   - Policy must not alter turn records
//   - Order of ingestion is order of persistence
type Policy interface {
	// IngestTurn hands a finished turn to the policy.
	// Returns error when the turn could not be accepted.
	IngestTurn(ctx context.Context, turn *types.Turn) error

	// Flush persists any buffered turns.
	// Called on session switch, shutdown and when the buffer fills.
	Flush(ctx context.Context) error

	// Close releases the underlying sink.
	Close() error

	// Stats returns a consistent snapshot of policy counters.
	Stats() Stats
}

// Stats represents policy observability counters.
type Stats struct {
	// TotalTurns is the number of turns received.
	TotalTurns int64
	// TurnsPersisted is the number of turns written to the sink.
	TurnsPersisted int64
	// TurnsDropped is the number of turns dropped.
	TurnsDropped int64
	// DroppedByOutcome maps outcomes to drop counts.
	DroppedByOutcome map[types.Outcome]int64
	// Buffered is the number of turns awaiting flush.
	Buffered int64
	// FlushCount is the number of flush operations.
	FlushCount int64
	// Errors is the count of sink failures.
	Errors int64
}

var (
	// ErrInvalidConfig is returned when a policy config is invalid.
	ErrInvalidConfig = errors.New("invalid policy config")
	// ErrBufferFull is returned when a non-droppable turn cannot be buffered.
	ErrBufferFull = errors.New("policy buffer full")
	// ErrInvalidTurn is returned for records that fail validation.
	ErrInvalidTurn = errors.New("invalid turn record")
)

// IsPolicyError returns true for errors originating in policy decisions
// rather than in the sink.
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrBufferFull) || errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrInvalidTurn)
}

// IsDroppable returns true if a turn with this outcome may be dropped.
func IsDroppable(outcome types.Outcome) bool {
	return outcome == types.OutcomeCancelled
}

// statsRecorder guards Stats. Buffered policy mutates it under its own
// lock via the Locked methods.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		stats: Stats{DroppedByOutcome: make(map[types.Outcome]int64)},
	}
}

func (r *statsRecorder) update(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *statsRecorder) snapshotLocked() Stats {
	s := r.stats
	s.DroppedByOutcome = maps.Clone(r.stats.DroppedByOutcome)
	return s
}
