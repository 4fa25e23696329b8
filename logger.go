package stablestate

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/stablestate/migration"
	"github.com/hupe1980/stablestate/schema"
)

// Logger wraps slog.Logger with engine-specific event helpers so that
// every event uses the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithSchema adds the schema field to the logger.
func (l *Logger) WithSchema(label schema.Label) *Logger {
	return &Logger{
		Logger: l.Logger.With("schema", label.String()),
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// LogUpgrade logs the outcome of a code-replacement event.
func (l *Logger) LogUpgrade(ctx context.Context, from, to schema.Label, d migration.Decision, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upgrade failed, previous state restored",
			"from", from.String(),
			"decision", d.String(),
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "upgrade completed",
		"from", from.String(),
		"to", to.String(),
		"decision", d.String(),
		"duration", duration,
	)
}

// LogTick logs a migration tick.
func (l *Logger) LogTick(ctx context.Context, res migration.TickResult, err error) {
	if err != nil {
		l.ErrorContext(ctx, "migration tick failed",
			"copied", res.Copied,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "migration tick",
		"copied", res.Copied,
		"remaining", res.Remaining,
		"completed", res.Completed,
	)
}

// LogCheckpoint logs a state checkpoint.
func (l *Logger) LogCheckpoint(ctx context.Context, label schema.Label, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"schema", label.String(),
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "checkpoint written", "schema", label.String())
}

// LogArchive logs an archive of raw memory.
func (l *Logger) LogArchive(ctx context.Context, id uint64, storedBytes uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "archive failed", "error", err)
		return
	}
	l.InfoContext(ctx, "memory archived",
		"archive_id", id,
		"stored_bytes", storedBytes,
	)
}
