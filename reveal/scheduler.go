// Package reveal drives the progressive (typewriter) disclosure of assistant
// text that is already fully known.
//
// Each revealed message has its own cursor and ticker:
//
//	Idle ──Start──▶ Revealing ──cursor reaches end──▶ Complete
//	                    │
//	                  Cancel ──▶ Idle
//
// Every tick advances the cursor by Step runes and patches the target with
// the revealed prefix. Patches are issued while holding the scheduler lock
// after checking the cursor is still live, so once Cancel or CancelAll
// returns no further patch is issued for the cancelled cursors.
package reveal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/parley/log"
	"github.com/pithecene-io/parley/metrics"
	"github.com/pithecene-io/parley/types"
)

// DefaultCadence is the interval between reveal steps.
const DefaultCadence = 25 * time.Millisecond

var (
	// ErrAlreadyRevealing is returned by Start for a message with a live cursor.
	ErrAlreadyRevealing = errors.New("message is already revealing")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("scheduler closed")
)

// State is the reveal state of one message.
type State int

const (
	// StateIdle means no reveal has run, or it was cancelled.
	StateIdle State = iota
	// StateRevealing means the cursor is advancing.
	StateRevealing
	// StateComplete means the full text has been patched in.
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRevealing:
		return "revealing"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Target receives revealed prefixes. PatchText is called with the scheduler
// lock held and must not call back into the scheduler.
type Target interface {
	PatchText(id types.ID, text string) error
}

// Ticker is the subset of time.Ticker the scheduler uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the default TickerFunc, backed by time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Config configures a Scheduler.
type Config struct {
	// Cadence is the tick interval. Zero means DefaultCadence.
	Cadence time.Duration
	// Step is the number of runes revealed per tick. Zero means 1.
	Step int
	// NewTicker overrides ticker creation. Nil means NewTimeTicker.
	NewTicker TickerFunc
	// Logger is optional.
	Logger *log.Logger
	// Collector is optional.
	Collector *metrics.Collector
}

type cursor struct {
	id     types.ID
	runes  []rune
	pos    int
	ticker Ticker
	stop   chan struct{}
	done   chan struct{}
}

// Scheduler runs reveals. Safe for concurrent use.
type Scheduler struct {
	target    Target
	cadence   time.Duration
	step      int
	newTicker TickerFunc
	logger    *log.Logger
	collector *metrics.Collector

	mu       sync.Mutex
	active   map[types.ID]*cursor
	complete map[types.ID]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler patching target.
func NewScheduler(target Target, cfg Config) *Scheduler {
	cadence := cfg.Cadence
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	step := cfg.Step
	if step <= 0 {
		step = 1
	}
	newTicker := cfg.NewTicker
	if newTicker == nil {
		newTicker = NewTimeTicker
	}
	return &Scheduler{
		target:    target,
		cadence:   cadence,
		step:      step,
		newTicker: newTicker,
		logger:    cfg.Logger,
		collector: cfg.Collector,
		active:    make(map[types.ID]*cursor),
		complete:  make(map[types.ID]struct{}),
	}
}

// Start begins revealing fullText into message id. The target message is
// expected to hold an empty (or shorter) text already. Empty text completes
// immediately without patches.
func (s *Scheduler) Start(id types.ID, fullText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.active[id]; ok {
		return ErrAlreadyRevealing
	}

	s.collector.IncRevealStarted()
	delete(s.complete, id)

	runes := []rune(fullText)
	if len(runes) == 0 {
		s.complete[id] = struct{}{}
		s.collector.IncRevealCompleted()
		return nil
	}

	c := &cursor{
		id:     id,
		runes:  runes,
		ticker: s.newTicker(s.cadence),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.active[id] = c

	s.wg.Add(1)
	go s.run(c)
	return nil
}

func (s *Scheduler) run(c *cursor) {
	defer s.wg.Done()
	defer c.ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.ticker.C():
			if s.advance(c) {
				return
			}
		}
	}
}

// advance moves the cursor one step. Returns true when the cursor is finished.
func (s *Scheduler) advance(c *cursor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[c.id] != c {
		return true
	}

	c.pos = min(c.pos+s.step, len(c.runes))
	if err := s.target.PatchText(c.id, string(c.runes[:c.pos])); err != nil {
		// The message vanished under the cursor (store reset without cancel).
		if s.logger != nil {
			s.logger.Error("reveal patch failed", map[string]any{
				"message_id": c.id.String(),
				"error":      err.Error(),
			})
		}
		s.collector.IncContractViolations()
		s.removeLocked(c)
		s.collector.IncRevealCancelled()
		return true
	}

	if c.pos == len(c.runes) {
		s.completeLocked(c)
		return true
	}
	return false
}

// Finish reveals the remaining text of id immediately.
func (s *Scheduler) Finish(id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.active[id]
	if !ok {
		return nil
	}
	c.pos = len(c.runes)
	if err := s.target.PatchText(id, string(c.runes)); err != nil {
		s.removeLocked(c)
		s.collector.IncRevealCancelled()
		return err
	}
	s.completeLocked(c)
	return nil
}

// FinishAll stops every live reveal with its full text in place and returns
// how many were finished. The first patch error is returned after all
// cursors have been stopped.
func (s *Scheduler) FinishAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	var firstErr error
	for id, c := range s.active {
		c.pos = len(c.runes)
		if err := s.target.PatchText(id, string(c.runes)); err != nil {
			s.removeLocked(c)
			s.collector.IncRevealCancelled()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.completeLocked(c)
		n++
	}
	return n, firstErr
}

// Cancel stops the reveal of id. The message keeps whatever prefix was
// already patched. Returns false if id was not revealing.
func (s *Scheduler) Cancel(id types.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.active[id]
	if !ok {
		return false
	}
	s.removeLocked(c)
	s.collector.IncRevealCancelled()
	return true
}

// CancelAll stops every live reveal and returns how many were stopped.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.active)
	for _, c := range s.active {
		s.removeLocked(c)
		s.collector.IncRevealCancelled()
	}
	return n
}

// Reset cancels every live reveal and forgets completed ones.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.active {
		s.removeLocked(c)
		s.collector.IncRevealCancelled()
	}
	clear(s.complete)
}

// Close cancels all reveals and waits for their goroutines to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for _, c := range s.active {
		s.removeLocked(c)
		s.collector.IncRevealCancelled()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// State returns the reveal state of id.
func (s *Scheduler) State(id types.ID) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[id]; ok {
		return StateRevealing
	}
	if _, ok := s.complete[id]; ok {
		return StateComplete
	}
	return StateIdle
}

// Revealing reports whether id is currently revealing. Used for the typing
// indicator.
func (s *Scheduler) Revealing(id types.ID) bool {
	return s.State(id) == StateRevealing
}

// Active returns the number of live reveals.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Done returns a channel closed when the reveal of id completes or is
// cancelled. For an id that is not revealing the channel is already closed.
func (s *Scheduler) Done(id types.ID) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.active[id]; ok {
		return c.done
	}
	return closedChan
}

// Wait blocks until every reveal live at the time of the call has finished.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]<-chan struct{}, 0, len(s.active))
	for _, c := range s.active {
		pending = append(pending, c.done)
	}
	s.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (s *Scheduler) completeLocked(c *cursor) {
	s.removeLocked(c)
	s.complete[c.id] = struct{}{}
	s.collector.IncRevealCompleted()
}

// removeLocked detaches c and signals its goroutine and waiters.
func (s *Scheduler) removeLocked(c *cursor) {
	if s.active[c.id] != c {
		return
	}
	delete(s.active, c.id)
	close(c.stop)
	close(c.done)
}
