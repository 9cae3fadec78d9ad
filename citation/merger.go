// Package citation routes document frames to the message they cite.
//
// The backend may emit a citation before the message frame it belongs to.
// Such citations are held until the message is appended (Resolve), then
// merged in arrival order. The hold is bounded: beyond MaxPending the oldest
// held citation is dropped and counted.
package citation

import (
	"errors"
	"sync"

	"github.com/pithecene-io/parley/log"
	"github.com/pithecene-io/parley/metrics"
	"github.com/pithecene-io/parley/transcript"
	"github.com/pithecene-io/parley/types"
)

// DefaultMaxPending bounds the number of held citations.
const DefaultMaxPending = 256

// Target is the store surface the merger writes to.
// AddCitation must return an error wrapping transcript.ErrNotFound when the
// message does not exist.
type Target interface {
	AddCitation(id types.ID, c types.Citation) error
}

var _ Target = (*transcript.Store)(nil)

// Config configures a Merger.
type Config struct {
	// MaxPending bounds held citations. Zero means DefaultMaxPending.
	MaxPending int
	// Logger is optional.
	Logger *log.Logger
	// Collector is optional.
	Collector *metrics.Collector
}

// Stats reports merger counters.
type Stats struct {
	// Received is the number of citations passed to Merge.
	Received int64
	// Merged is the number attached to a message.
	Merged int64
	// Buffered is the number that had to be held at least once.
	Buffered int64
	// Dropped is the number evicted by the bound or discarded at teardown.
	Dropped int64
	// Pending is the number currently held.
	Pending int
}

// Merger attaches citations to messages. Safe for concurrent use.
type Merger struct {
	mu         sync.Mutex
	target     Target
	maxPending int
	logger     *log.Logger
	collector  *metrics.Collector

	// pending holds unmatched citations in global arrival order.
	pending []types.Citation

	received int64
	merged   int64
	buffered int64
	dropped  int64
}

// NewMerger creates a merger writing to target.
func NewMerger(target Target, cfg Config) *Merger {
	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Merger{
		target:     target,
		maxPending: maxPending,
		logger:     cfg.Logger,
		collector:  cfg.Collector,
	}
}

// Merge attaches c to its message, or holds it until the message appears.
// Citations for the same message keep their arrival order: once one is held,
// later ones for that message are held behind it.
func (m *Merger) Merge(c types.Citation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.received++

	if !m.hasPendingLocked(c.MessageID) {
		err := m.target.AddCitation(c.MessageID, c)
		if err == nil {
			m.merged++
			m.collector.AddCitationsMerged(1)
			return nil
		}
		if !errors.Is(err, transcript.ErrNotFound) {
			return err
		}
	}

	m.holdLocked(c)
	return nil
}

// Resolve flushes held citations for messageID in arrival order. Called once
// the message has been appended. Returns the number merged. On error the
// unflushed citations stay held.
func (m *Merger) Resolve(messageID types.ID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	kept := m.pending[:0]
	var firstErr error
	for _, c := range m.pending {
		if c.MessageID != messageID || firstErr != nil {
			kept = append(kept, c)
			continue
		}
		if err := m.target.AddCitation(messageID, c); err != nil {
			firstErr = err
			kept = append(kept, c)
			continue
		}
		n++
	}
	clear(m.pending[len(kept):])
	m.pending = kept

	m.merged += int64(n)
	m.collector.AddCitationsMerged(n)
	if n > 0 && m.logger != nil {
		m.logger.Debug("merged held citations", map[string]any{
			"message_id": messageID.String(),
			"count":      n,
		})
	}
	return n, firstErr
}

// Discard drops all held citations. Called on session switch and teardown.
func (m *Merger) Discard() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.pending)
	m.pending = nil
	m.dropped += int64(n)
	m.collector.AddCitationsDropped(n)
	if n > 0 && m.logger != nil {
		m.logger.Warn("discarded unmatched citations", map[string]any{"count": n})
	}
	return n
}

// Pending returns the number of citations held for messageID.
func (m *Merger) Pending(messageID types.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.pending {
		if c.MessageID == messageID {
			n++
		}
	}
	return n
}

// Stats returns a consistent snapshot of merger counters.
func (m *Merger) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Received: m.received,
		Merged:   m.merged,
		Buffered: m.buffered,
		Dropped:  m.dropped,
		Pending:  len(m.pending),
	}
}

func (m *Merger) hasPendingLocked(messageID types.ID) bool {
	for _, c := range m.pending {
		if c.MessageID == messageID {
			return true
		}
	}
	return false
}

// holdLocked appends c to the pending queue, evicting the oldest when full.
func (m *Merger) holdLocked(c types.Citation) {
	if len(m.pending) >= m.maxPending {
		evicted := m.pending[0]
		m.pending = append(m.pending[:0], m.pending[1:]...)
		m.dropped++
		m.collector.AddCitationsDropped(1)
		if m.logger != nil {
			m.logger.Warn("citation buffer full, dropped oldest", map[string]any{
				"citation_id": evicted.ID.String(),
				"message_id":  evicted.MessageID.String(),
				"max_pending": m.maxPending,
			})
		}
	}

	m.pending = append(m.pending, c)
	m.buffered++
	m.collector.IncCitationsBuffered()
}
