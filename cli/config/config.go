// Package config loads parley.yaml.
//
// Every value is optional and acts as a default for the matching CLI flag;
// flags given on the command line always win.
package config

import (
	"errors"
	"fmt"
	"time"
)

// DefaultFile is the config file looked up in the working directory when
// --config is not given.
const DefaultFile = "parley.yaml"

// Config is the parsed parley.yaml.
type Config struct {
	// ClientID identifies this client in logs, archives and events.
	ClientID string        `yaml:"client_id"`
	Backend  BackendConfig `yaml:"backend"`
	Chat     ChatConfig    `yaml:"chat"`
	Archive  ArchiveConfig `yaml:"archive"`
	Adapter  AdapterConfig `yaml:"adapter"`
	Log      LogConfig     `yaml:"log"`
}

// BackendConfig locates the chat backend.
type BackendConfig struct {
	BaseURL string            `yaml:"base_url"`
	Token   string            `yaml:"token"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	Paths   PathsConfig       `yaml:"paths,omitempty"`
}

// PathsConfig overrides backend routes. Empty fields keep the defaults.
type PathsConfig struct {
	CreateSession string `yaml:"create_session,omitempty"`
	GetSession    string `yaml:"get_session,omitempty"`
	SendMessage   string `yaml:"send_message,omitempty"`
	Personas      string `yaml:"personas,omitempty"`
	Feedback      string `yaml:"feedback,omitempty"`
}

// ChatConfig tunes the session controller.
type ChatConfig struct {
	PersonaID           string   `yaml:"persona_id"`
	RevealCadence       Duration `yaml:"reveal_cadence,omitempty"`
	RevealStep          int      `yaml:"reveal_step,omitempty"`
	MaxPendingCitations int      `yaml:"max_pending_citations,omitempty"`
	MaxFrameSize        int      `yaml:"max_frame_size,omitempty"`
}

// ArchiveConfig selects where finished turns are archived.
type ArchiveConfig struct {
	// Policy is strict, buffered or none.
	Policy  string `yaml:"policy"`
	Dataset string `yaml:"dataset,omitempty"`
	// Backend is fs or s3.
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
	BufferTurns int    `yaml:"buffer_turns,omitempty"`
}

// AdapterConfig selects the turn-completion notifier.
type AdapterConfig struct {
	// Type is webhook or redis.
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Channel  string            `yaml:"channel,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Timeout  Duration          `yaml:"timeout,omitempty"`
	Retries  *int              `yaml:"retries,omitempty"`
	Encoding string            `yaml:"encoding,omitempty"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
	// File receives logs instead of stderr. The interactive chat always logs
	// to a file, since the terminal belongs to the UI.
	File string `yaml:"file,omitempty"`
}

// Duration wraps time.Duration for YAML strings such as "25ms" or "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration back as a string.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.String(), nil
}

// Validate checks enumerated fields. Missing values are left to the
// command that needs them.
func (c *Config) Validate() error {
	var errs []error
	switch c.Archive.Policy {
	case "", "strict", "buffered", "none":
	default:
		errs = append(errs, fmt.Errorf("archive.policy %q: must be strict, buffered or none", c.Archive.Policy))
	}
	switch c.Archive.Backend {
	case "", "fs", "s3":
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q: must be fs or s3", c.Archive.Backend))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type %q: must be webhook or redis", c.Adapter.Type))
	}
	switch c.Adapter.Encoding {
	case "", "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("adapter.encoding %q: must be json or msgpack", c.Adapter.Encoding))
	}
	if c.Chat.RevealStep < 0 {
		errs = append(errs, fmt.Errorf("chat.reveal_step %d: must not be negative", c.Chat.RevealStep))
	}
	if c.Archive.BufferTurns < 0 {
		errs = append(errs, fmt.Errorf("archive.buffer_turns %d: must not be negative", c.Archive.BufferTurns))
	}
	return errors.Join(errs...)
}

// MarshalText renders the duration for JSON output.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
