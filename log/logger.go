// Package log provides structured logging with chat client context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for the streaming pipeline (structured fields)
//   - SugaredLogger: Printf-style logging for CLI/debug surfaces
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/parley/types"
)

// Logger provides structured logging with client context.
// Entries carry client_id and, once known, session_id and persona_id.
type Logger struct {
	zap    *zap.Logger
	level  zap.AtomicLevel
	fields []zap.Field
}

// SugaredLogger provides printf-style logging for CLI and debug surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a new logger with client context.
// Output defaults to os.Stderr at debug level.
func NewLogger(meta *types.SessionMeta) *Logger {
	return newLoggerWithWriter(meta, os.Stderr, zap.NewAtomicLevelAt(zapcore.DebugLevel))
}

// NewNop returns a logger that discards everything. Used by tests and by the
// terminal UI when no log file is configured.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

// ParseLevel maps a config level name (debug, info, warn, error) to a zap level.
// The empty string means debug.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.DebugLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.DebugLevel, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

// WithOutput returns a new logger with a different output writer.
// Context fields and level are preserved.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		l.level,
	)
	return &Logger{zap: zap.New(core).With(l.fields...), level: l.level, fields: l.fields}
}

// WithLevel sets the minimum level. Shared with loggers derived from l.
func (l *Logger) WithLevel(lvl zapcore.Level) *Logger {
	l.level.SetLevel(lvl)
	return l
}

// WithSession returns a child logger tagged with the active session and persona.
func (l *Logger) WithSession(sessionID, personaID types.ID) *Logger {
	fields := []zap.Field{zap.String("session_id", sessionID.String())}
	if !personaID.IsZero() {
		fields = append(fields, zap.String("persona_id", personaID.String()))
	}
	return &Logger{zap: l.zap.With(fields...), level: l.level, fields: withFields(l.fields, fields)}
}

// withFields appends to a copy, so siblings never share a backing array.
func withFields(base, extra []zap.Field) []zap.Field {
	out := make([]zap.Field, 0, len(base)+len(extra))
	return append(append(out, base...), extra...)
}

// newLoggerWithWriter creates a logger writing to the specified writer.
func newLoggerWithWriter(meta *types.SessionMeta, w io.Writer, level zap.AtomicLevel) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		level,
	)

	contextFields := []zap.Field{
		zap.String("client_id", meta.ClientID),
	}
	if !meta.SessionID.IsZero() {
		contextFields = append(contextFields, zap.String("session_id", meta.SessionID.String()))
	}
	if !meta.PersonaID.IsZero() {
		contextFields = append(contextFields, zap.String("persona_id", meta.PersonaID.String()))
	}

	return &Logger{zap: zap.New(core).With(contextFields...), level: level, fields: contextFields}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
