package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a message turn.
type Role string

// Role constants. The backend calls this field message_type.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// IsUser returns true for turns authored by the local user.
func (r Role) IsUser() bool { return r == RoleUser }

// Status tracks client-side delivery of a message. It is never sent on the wire.
type Status string

// Status constants.
const (
	// StatusSent is the zero-value default: history and assistant turns are sent.
	StatusSent Status = ""
	// StatusPending marks an optimistic user turn awaiting the backend.
	StatusPending Status = "pending"
	// StatusFailed marks a user turn whose request never completed.
	StatusFailed Status = "failed"
)

// Message is one turn in a conversation.
type Message struct {
	// ID is unique within a session. Assigned by the client for user turns
	// and by the backend for assistant turns.
	ID ID `json:"id" msgpack:"id"`
	// SessionID is the owning conversation.
	SessionID ID `json:"chat_session_id" msgpack:"chat_session_id"`
	// Role is user or assistant.
	Role Role `json:"message_type" msgpack:"message_type"`
	// Text is the message content. Assistant text grows during reveal.
	Text string `json:"message" msgpack:"message"`
	// Citations in arrival order.
	Citations Citations `json:"citations,omitempty" msgpack:"citations,omitempty"`
	// SentAt is the send timestamp.
	SentAt time.Time `json:"time_sent" msgpack:"time_sent"`
	// Feedback is the vote attached after creation, if any.
	Feedback *Feedback `json:"feedback,omitempty" msgpack:"feedback,omitempty"`
	// Error is a backend-reported failure for this turn.
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
	// Status is client-side delivery state.
	Status Status `json:"-" msgpack:"-"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Citations != nil {
		c.Citations = make(Citations, len(m.Citations))
		copy(c.Citations, m.Citations)
	}
	if m.Feedback != nil {
		fb := *m.Feedback
		c.Feedback = &fb
	}
	return &c
}

// Citation is a retrieved source reference attached to a message.
type Citation struct {
	// ID identifies the citation record.
	ID ID `json:"id" msgpack:"id"`
	// MessageID is the message this citation belongs to.
	MessageID ID `json:"message_id" msgpack:"message_id"`
	// DocumentID is the source system document identifier.
	DocumentID string `json:"document_id,omitempty" msgpack:"document_id,omitempty"`
	// Link is the display link or label.
	Link string `json:"link,omitempty" msgpack:"link,omitempty"`
	// Content is the retrieved excerpt.
	Content string `json:"content,omitempty" msgpack:"content,omitempty"`
	// UpdatedAt is the source document timestamp.
	UpdatedAt time.Time `json:"updated_date" msgpack:"updated_date"`
}

// Citations is an ordered citation list.
//
// History payloads are not uniform: some backend versions store full
// citation objects, older ones store bare document ids. Both decode; bare ids
// become citations carrying only an ID.
type Citations []Citation

// UnmarshalJSON decodes a list of citation objects or bare ids.
func (c *Citations) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	// Empty JSON columns arrive as null or {}.
	if bytes.Equal(data, []byte("null")) || (len(data) > 0 && data[0] == '{') {
		*c = nil
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("citations: %w", err)
	}

	out := make(Citations, 0, len(raw))
	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '{' {
			var cit Citation
			if err := json.Unmarshal(item, &cit); err != nil {
				return fmt.Errorf("citations[%d]: %w", i, err)
			}
			out = append(out, cit)
			continue
		}
		var id ID
		if err := json.Unmarshal(item, &id); err != nil {
			return fmt.Errorf("citations[%d]: %w", i, err)
		}
		out = append(out, Citation{ID: id})
	}
	*c = out
	return nil
}

// Vote is a feedback direction.
type Vote string

// Vote constants.
const (
	VoteUp   Vote = "upvote"
	VoteDown Vote = "downvote"
)

// ParseVote validates a vote string.
func ParseVote(s string) (Vote, error) {
	switch Vote(s) {
	case VoteUp, VoteDown:
		return Vote(s), nil
	case "up", "+1":
		return VoteUp, nil
	case "down", "-1":
		return VoteDown, nil
	default:
		return "", fmt.Errorf("invalid vote %q (must be upvote or downvote)", s)
	}
}

// Feedback is an up/down vote on a message.
type Feedback struct {
	MessageID ID     `json:"chat_message_id,omitempty" msgpack:"chat_message_id,omitempty"`
	UpVotes   bool   `json:"up_votes" msgpack:"up_votes"`
	Comment   string `json:"feedback,omitempty" msgpack:"feedback,omitempty"`
}

// Vote returns the vote direction recorded by the feedback.
func (f *Feedback) Vote() Vote {
	if f.UpVotes {
		return VoteUp
	}
	return VoteDown
}

// Persona is a named assistant configuration selectable before a session starts.
type Persona struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default_persona,omitempty"`
}

// Session is one conversation thread.
type Session struct {
	ID          ID         `json:"id"`
	Description string     `json:"description,omitempty"`
	PersonaID   ID         `json:"persona_id,omitempty"`
	OneShot     bool       `json:"one_shot,omitempty"`
	CreatedAt   time.Time  `json:"created_date"`
	Messages    []*Message `json:"messages,omitempty"`
}
