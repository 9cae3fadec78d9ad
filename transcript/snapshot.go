package transcript

import (
	"iter"

	"github.com/pithecene-io/parley/types"
)

// Snapshot is an immutable point-in-time view of a transcript.
// Accessors hand out copies; the underlying messages are shared with the
// store but never modified after publication.
type Snapshot struct {
	// SessionID is the session the transcript belonged to.
	SessionID types.ID
	// Version increases with every store mutation.
	Version uint64

	messages []*types.Message
}

// Len returns the number of messages.
func (s Snapshot) Len() int { return len(s.messages) }

// At returns a copy of the i-th message.
func (s Snapshot) At(i int) *types.Message {
	return s.messages[i].Clone()
}

// Messages returns copies of all messages in order.
func (s Snapshot) Messages() []*types.Message {
	out := make([]*types.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// All iterates over copies of the messages in order.
func (s Snapshot) All() iter.Seq2[int, *types.Message] {
	return func(yield func(int, *types.Message) bool) {
		for i, m := range s.messages {
			if !yield(i, m.Clone()) {
				return
			}
		}
	}
}

// Get returns a copy of message id.
func (s Snapshot) Get(id types.ID) (*types.Message, bool) {
	for _, m := range s.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return nil, false
}

// Citations returns the citations of message id in arrival order.
func (s Snapshot) Citations(id types.ID) []types.Citation {
	m, ok := s.Get(id)
	if !ok {
		return nil
	}
	return m.Citations
}
