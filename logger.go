package replaybuf

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with replay-specific context.
// This provides structured logging with consistent field names.
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
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{Logger: slog.New(handler)}
}

// WithTable adds a table field to the logger.
func (l *Logger) WithTable(name string) *Logger {
	return &Logger{Logger: l.Logger.With("table", name)}
}

// LogInsert logs an item insert.
func (l *Logger) LogInsert(ctx context.Context, tableName string, key uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"table", tableName,
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"table", tableName,
			"key", key,
		)
	}
}

// LogSample logs a sample batch.
func (l *Logger) LogSample(ctx context.Context, tableName string, requested, returned int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "sample failed",
			"table", tableName,
			"requested", requested,
			"returned", returned,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "sample completed",
			"table", tableName,
			"count", returned,
		)
	}
}

// LogMutate logs a priority mutation batch.
func (l *Logger) LogMutate(ctx context.Context, tableName string, updates, deletes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "priority mutation failed",
			"table", tableName,
			"updates", updates,
			"deletes", deletes,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "priority mutation completed",
			"table", tableName,
			"updates", updates,
			"deletes", deletes,
		)
	}
}

// LogReset logs a table reset.
func (l *Logger) LogReset(ctx context.Context, tableName string) {
	l.InfoContext(ctx, "table reset", "table", tableName)
}

// LogCheckpoint logs a checkpoint save.
func (l *Logger) LogCheckpoint(ctx context.Context, id string, tables, chunks int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint saved",
			"id", id,
			"tables", tables,
			"chunks", chunks,
		)
	}
}

// LogRestore logs a checkpoint restore.
func (l *Logger) LogRestore(ctx context.Context, tables, items int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restore failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "restore completed",
			"tables", tables,
			"items", items,
		)
	}
}
