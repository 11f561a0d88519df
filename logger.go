package sealdex

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with sealdex-specific context.
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithIndex adds the public index id to the logger.
func (l *Logger) WithIndex(publicID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", publicID),
	}
}

// WithBackend adds a backend name field to the logger.
func (l *Logger) WithBackend(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("backend", name),
	}
}

// LogFetch logs a batched point lookup.
func (l *Logger) LogFetch(ctx context.Context, table string, requested, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "fetch failed",
			"table", table,
			"requested", requested,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "fetch completed",
			"table", table,
			"requested", requested,
			"found", found,
		)
	}
}

// LogUpsert logs a CAS upsert round against the entries table.
func (l *Logger) LogUpsert(ctx context.Context, total, rejected int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upsert failed",
			"total", total,
			"error", err,
		)
	} else if rejected > 0 {
		l.DebugContext(ctx, "upsert completed with rejections",
			"total", total,
			"rejected", rejected,
		)
	} else {
		l.DebugContext(ctx, "upsert completed",
			"total", total,
		)
	}
}

// LogInsert logs a chains insert.
func (l *Logger) LogInsert(ctx context.Context, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "chains insert failed",
			"count", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "chains insert completed",
			"count", count,
		)
	}
}
