// Package types defines the core domain types shared by the parley client.
// Wire shapes follow the chat backend's JSON encoding.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is an opaque identifier for sessions, messages, citations and personas.
//
// The backend issues numeric ids (sometimes quoted, sometimes bare) while the
// client generates UUID strings for user turns, so ID accepts both JSON
// strings and JSON numbers and always encodes as a string.
type ID string

// String returns the identifier as a string.
func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is empty.
func (id ID) IsZero() bool { return id == "" }

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON encodes the identifier as a JSON string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}
