package shmmap

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with shmmap-specific context.
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
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithOffset adds the arena offset of a map or pmap to the logger.
func (l *Logger) WithOffset(off uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("offset", off),
	}
}

// LogMapCreate logs the creation of a standalone map.
func (l *Logger) LogMapCreate(ctx context.Context, maxEntries, nodeSize int, wrap bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "map create failed",
			"max_entries", maxEntries,
			"node_size", nodeSize,
			"wrap", wrap,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "map created",
			"max_entries", maxEntries,
			"node_size", nodeSize,
			"wrap", wrap,
		)
	}
}

// LogPMapCreate logs the creation of a per-context map set.
func (l *Logger) LogPMapCreate(ctx context.Context, maxEntries, nodeSize, numContexts int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "pmap create failed",
			"max_entries", maxEntries,
			"node_size", nodeSize,
			"contexts", numContexts,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "pmap created",
			"max_entries", maxEntries,
			"node_size", nodeSize,
			"contexts", numContexts,
		)
	}
}

// LogDelete logs the release of a map or pmap.
func (l *Logger) LogDelete(ctx context.Context, kind string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"kind", kind,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"kind", kind,
		)
	}
}

// LogSnapshot logs a snapshot write.
func (l *Logger) LogSnapshot(ctx context.Context, name string, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"name", name,
			"bytes", size,
		)
	}
}

// LogRestore logs a snapshot load.
func (l *Logger) LogRestore(ctx context.Context, name string, entries int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot load failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot loaded",
			"name", name,
			"entries", entries,
		)
	}
}
