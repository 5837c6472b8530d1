// Package logging provides structured logging for stenolive.
// It wraps zerolog to provide a consistent logging interface with support for
// JSON output and human-readable console output.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey type for context values to avoid collisions.
type ContextKey string

// Context keys carried into log entries.
const (
	SessionIDKey ContextKey = "session_id"
	RequestIDKey ContextKey = "request_id"
)

// Level represents logging severity levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level Level

	// Component is included in all log entries.
	Component string

	// JSONFormat enables JSON output when true, console output when false.
	JSONFormat bool

	// Output sets the writer for logs (defaults to os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a Config with console output at info level.
func DefaultConfig() *Config {
	return &Config{
		Level:     LevelInfo,
		Component: "stenolive",
		Output:    os.Stderr,
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a new Logger with the given fields attached to all subsequent logs.
	With(fields ...Field) Logger

	// WithContext returns a new Logger that carries session and request ids from ctx.
	WithContext(ctx context.Context) Logger

	// Zerolog returns the underlying zerolog.Logger.
	Zerolog() zerolog.Logger
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new Field with the given key and value.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates a Field for an error.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

type logger struct {
	zl zerolog.Logger
}

// NewLogger creates a new Logger with the given configuration.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zl := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("component", cfg.Component).
		Logger()

	return &logger{zl: zl}
}

// ParseLevel converts Level to zerolog.Level, defaulting to info.
func ParseLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *logger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *logger) Debug(msg string, fields ...Field) {
	addFields(l.zl.Debug(), fields).Msg(msg)
}

func (l *logger) Info(msg string, fields ...Field) {
	addFields(l.zl.Info(), fields).Msg(msg)
}

func (l *logger) Warn(msg string, fields ...Field) {
	addFields(l.zl.Warn(), fields).Msg(msg)
}

func (l *logger) Error(msg string, fields ...Field) {
	addFields(l.zl.Error(), fields).Msg(msg)
}

func (l *logger) With(fields ...Field) Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = addFieldToContext(ctx, f)
	}
	return &logger{zl: ctx.Logger()}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	zctx := l.zl.With()
	if id, ok := ctx.Value(SessionIDKey).(string); ok && id != "" {
		zctx = zctx.Str(string(SessionIDKey), id)
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		zctx = zctx.Str(string(RequestIDKey), id)
	}
	return &logger{zl: zctx.Logger()}
}

// WithSessionID returns a context that tags log entries with the session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// WithRequestID returns a context that tags log entries with the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func addFields(event *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			event = event.Str(f.Key, v)
		case int:
			event = event.Int(f.Key, v)
		case int64:
			event = event.Int64(f.Key, v)
		case float64:
			event = event.Float64(f.Key, v)
		case bool:
			event = event.Bool(f.Key, v)
		case error:
			event = event.AnErr(f.Key, v)
		case time.Duration:
			event = event.Dur(f.Key, v)
		case time.Time:
			event = event.Time(f.Key, v)
		default:
			event = event.Interface(f.Key, v)
		}
	}
	return event
}

func addFieldToContext(ctx zerolog.Context, f Field) zerolog.Context {
	switch v := f.Value.(type) {
	case string:
		return ctx.Str(f.Key, v)
	case int:
		return ctx.Int(f.Key, v)
	case int64:
		return ctx.Int64(f.Key, v)
	case float64:
		return ctx.Float64(f.Key, v)
	case bool:
		return ctx.Bool(f.Key, v)
	case error:
		return ctx.AnErr(f.Key, v)
	case time.Duration:
		return ctx.Dur(f.Key, v)
	case time.Time:
		return ctx.Time(f.Key, v)
	default:
		return ctx.Interface(f.Key, v)
	}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string, fields ...Field)      {}
func (n *nopLogger) Info(msg string, fields ...Field)       {}
func (n *nopLogger) Warn(msg string, fields ...Field)       {}
func (n *nopLogger) Error(msg string, fields ...Field)      {}
func (n *nopLogger) With(fields ...Field) Logger            { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger { return n }
func (n *nopLogger) Zerolog() zerolog.Logger                { return zerolog.Nop() }

// NewNopLogger returns a logger that discards all output.
func NewNopLogger() Logger {
	return &nopLogger{}
}
