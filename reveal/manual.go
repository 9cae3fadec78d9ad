package reveal

import (
	"sync"
	"time"
)

// ManualClock hands out tickers that only fire when Tick is called.
// Used by tests of the scheduler and its callers.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

// NewManualClock creates a clock starting at the zero time.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// NewTicker is a TickerFunc.
func (m *ManualClock) NewTicker(time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTicker{
		c:       make(chan time.Time),
		stopped: make(chan struct{}),
	}
	m.tickers = append(m.tickers, t)
	return t
}

// Tick fires every live ticker once. Each send is unbuffered, so when Tick
// returns every receiving goroutine has taken its tick, and the work done on
// the previous tick has finished.
func (m *ManualClock) Tick() {
	m.mu.Lock()
	m.now = m.now.Add(time.Millisecond)
	now := m.now
	live := m.tickers[:0]
	for _, t := range m.tickers {
		select {
		case <-t.stopped:
		default:
			live = append(live, t)
		}
	}
	m.tickers = live
	tickers := append([]*manualTicker(nil), live...)
	m.mu.Unlock()

	for _, t := range tickers {
		select {
		case t.c <- now:
		case <-t.stopped:
		}
	}
}

// Live returns the number of tickers not yet stopped.
func (m *ManualClock) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.tickers {
		select {
		case <-t.stopped:
		default:
			n++
		}
	}
	return n
}

type manualTicker struct {
	c        chan time.Time
	stopped  chan struct{}
	stopOnce sync.Once
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}
