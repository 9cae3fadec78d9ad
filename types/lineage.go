package types

import "errors"

// SessionMeta carries the identity fields attached to every log entry and
// archive record produced on behalf of a chat client.
type SessionMeta struct {
	// ClientID identifies this client instance. Must be non-empty.
	ClientID string
	// SessionID is the active conversation. Empty until the first turn.
	SessionID ID
	// PersonaID is the persona the session was created with, if known.
	PersonaID ID
}

// Validate checks that the client identity is present.
func (m *SessionMeta) Validate() error {
	if m.ClientID == "" {
		return errors.New("client_id must be non-empty")
	}
	return nil
}
