// Package transcript holds the authoritative, ordered message list of the
// active chat session.
//
// The store is copy-on-write: a message held by the store is never modified
// in place. Each mutation replaces the affected entry with an updated clone,
// so a Snapshot taken earlier keeps observing the messages as they were.
package transcript

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pithecene-io/parley/types"
)

// Sentinel errors. Both indicate a caller contract violation.
var (
	// ErrNotFound is returned when an operation names an unknown message.
	ErrNotFound = errors.New("message not found")
	// ErrDuplicateIdentity is returned when appending an ID that already exists.
	ErrDuplicateIdentity = errors.New("duplicate message identity")
	// ErrNoIdentity is returned when appending a message without an ID.
	ErrNoIdentity = errors.New("message has no identity")
)

// IsContractViolation returns true for store errors that indicate a caller
// defect rather than a runtime condition.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateIdentity) ||
		errors.Is(err, ErrNoIdentity)
}

// Store is an in-memory ordered collection of messages keyed by identity.
// Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	sessionID types.ID
	messages  []*types.Message
	index     map[types.ID]int
	version   uint64

	subs    map[int]chan Snapshot
	nextSub int
}

// New creates an empty store for the given session. The session ID may be
// empty until the backend assigns one.
func New(sessionID types.ID) *Store {
	return &Store{
		sessionID: sessionID,
		index:     make(map[types.ID]int),
		subs:      make(map[int]chan Snapshot),
	}
}

// Reset discards all messages and switches to sessionID. Idempotent.
func (s *Store) Reset(sessionID types.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = sessionID
	s.messages = nil
	s.index = make(map[types.ID]int)
	s.commitLocked()
}

// SetSessionID records the backend-assigned session without clearing messages.
// Used when the first submit of a new conversation creates the session.
func (s *Store) SetSessionID(sessionID types.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID == sessionID {
		return
	}
	s.sessionID = sessionID
	s.commitLocked()
}

// Append adds msg at the end. The store keeps its own copy.
func (s *Store) Append(msg *types.Message) error {
	if msg == nil || msg.ID.IsZero() {
		return ErrNoIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[msg.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, msg.ID)
	}
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg.Clone())
	s.commitLocked()
	return nil
}

// PatchText replaces the text of message id.
func (s *Store) PatchText(id types.ID, text string) error {
	return s.update(id, func(m *types.Message) {
		m.Text = text
	})
}

// AddCitation appends c to the citations of message id.
func (s *Store) AddCitation(id types.ID, c types.Citation) error {
	return s.update(id, func(m *types.Message) {
		m.Citations = append(m.Citations, c)
	})
}

// SetStatus records the client-side delivery status of message id.
func (s *Store) SetStatus(id types.ID, status types.Status) error {
	return s.update(id, func(m *types.Message) {
		m.Status = status
	})
}

// SetFeedback attaches a vote to message id.
func (s *Store) SetFeedback(id types.ID, fb *types.Feedback) error {
	return s.update(id, func(m *types.Message) {
		if fb == nil {
			m.Feedback = nil
			return
		}
		cp := *fb
		m.Feedback = &cp
	})
}

// update applies fn to a clone of message id and swaps the clone in.
func (s *Store) update(id types.ID, fn func(*types.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := s.messages[i].Clone()
	fn(next)
	s.messages[i] = next
	s.commitLocked()
	return nil
}

// Get returns a copy of message id.
func (s *Store) Get(id types.ID) (*types.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.messages[i].Clone(), true
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// SessionID returns the current session.
func (s *Store) SessionID() types.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Version returns the number of mutations applied so far.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Snapshot returns an immutable view of the current transcript.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel that receives the latest snapshot after every
// mutation, plus a cancel func. The channel holds at most one snapshot: a slow
// reader skips intermediate versions and never blocks writers. The current
// snapshot is delivered immediately.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) snapshotLocked() Snapshot {
	messages := make([]*types.Message, len(s.messages))
	copy(messages, s.messages)
	return Snapshot{
		SessionID: s.sessionID,
		Version:   s.version,
		messages:  messages,
	}
}

// commitLocked bumps the version and publishes to subscribers.
func (s *Store) commitLocked() {
	s.version++
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		// Replace any unread snapshot with the newest one.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
