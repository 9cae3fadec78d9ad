package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/parley/types"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	meta := &types.SessionMeta{ClientID: "client-1", SessionID: "42", PersonaID: "7"}
	logger := newLoggerWithWriter(meta, &buf, zapAtomic(zapcore.DebugLevel))

	logger.Info("turn completed", map[string]any{"frames": 3})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e["message"] != "turn completed" {
		t.Errorf("message = %v", e["message"])
	}
	if e["level"] != "info" {
		t.Errorf("level = %v, want info", e["level"])
	}
	if e["client_id"] != "client-1" || e["session_id"] != "42" || e["persona_id"] != "7" {
		t.Errorf("context fields = %v", e)
	}
	if _, ok := e["timestamp"]; !ok {
		t.Error("missing timestamp")
	}
	fields, ok := e["fields"].(map[string]any)
	if !ok || fields["frames"] != float64(3) {
		t.Errorf("fields = %v", e["fields"])
	}
}

func TestLogger_OmitsEmptySession(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerWithWriter(&types.SessionMeta{ClientID: "c"}, &buf, zapAtomic(zapcore.DebugLevel))
	logger.Debug("starting", nil)

	e := decodeLines(t, &buf)[0]
	if _, ok := e["session_id"]; ok {
		t.Errorf("session_id should be absent: %v", e)
	}
}

func TestLogger_WithSessionAndOutput(t *testing.T) {
	var first, second bytes.Buffer
	base := newLoggerWithWriter(&types.SessionMeta{ClientID: "c"}, &first, zapAtomic(zapcore.DebugLevel))

	child := base.WithSession("99", "").WithOutput(&second)
	child.Warn("backend error", map[string]any{"error": "boom"})

	if first.Len() != 0 {
		t.Errorf("base writer received output: %s", first.String())
	}
	e := decodeLines(t, &second)[0]
	if e["session_id"] != "99" || e["client_id"] != "c" {
		t.Errorf("entry = %v", e)
	}
	if e["level"] != "warn" {
		t.Errorf("level = %v", e["level"])
	}
}

func TestLogger_WithOutputKeepsClientID(t *testing.T) {
	var file bytes.Buffer
	logger := newLoggerWithWriter(&types.SessionMeta{ClientID: "laptop"}, &bytes.Buffer{}, zapAtomic(zapcore.DebugLevel)).
		WithOutput(&file)

	logger.Info("opened", nil)
	logger.WithSession("5", "2").Info("turn", nil)
	logger.WithSession("6", "").Info("other turn", nil)

	entries := decodeLines(t, &file)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for _, e := range entries {
		if e["client_id"] != "laptop" {
			t.Errorf("client_id missing: %v", e)
		}
	}
	if entries[1]["session_id"] != "5" || entries[1]["persona_id"] != "2" {
		t.Errorf("session entry = %v", entries[1])
	}
	if entries[2]["session_id"] != "6" || entries[2]["persona_id"] != nil {
		t.Errorf("sibling entry = %v", entries[2])
	}
}

func TestLogger_WithLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerWithWriter(&types.SessionMeta{ClientID: "c"}, &buf, zapAtomic(zapcore.DebugLevel))
	logger.WithLevel(zapcore.WarnLevel)

	logger.Info("hidden", nil)
	logger.Error("shown", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["message"] != "shown" {
		t.Errorf("entries = %v", entries)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.DebugLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.DebugLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info("ignored", map[string]any{"k": "v"})
	l.Sugar().Infof("ignored %d", 1)
}

func zapAtomic(lvl zapcore.Level) zap.AtomicLevel {
	return zap.NewAtomicLevelAt(lvl)
}
