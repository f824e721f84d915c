package runner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with runner-specific helpers.
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

// NewJSONLogger creates a Logger that writes JSON-formatted logs to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that writes human-readable text logs to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// ParseLevel maps debug, info, warn and error to slog levels.
// Unknown names map to info.
func ParseLevel(name string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// WithWorker adds role and id fields to the logger.
func (l *Logger) WithWorker(role string, id int) *Logger {
	return &Logger{
		Logger: l.Logger.With("role", role, "id", id),
	}
}

// WithScenario adds a scenario field to the logger.
func (l *Logger) WithScenario(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("scenario", name),
	}
}

// LogItem logs an item moving through a channel or queue.
func (l *Logger) LogItem(ctx context.Context, op string, item any, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"item", item,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, op,
			"item", item,
		)
	}
}

// LogCycle logs a completed arbiter cycle.
func (l *Logger) LogCycle(ctx context.Context, cycle int) {
	l.DebugContext(ctx, "active",
		"cycle", cycle,
	)
}

// LogWorkerDone logs a worker leaving its loop.
func (l *Logger) LogWorkerDone(ctx context.Context, handled int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "worker stopped",
			"handled", handled,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "worker finished",
			"handled", handled,
		)
	}
}

// LogRun logs the end of a run.
func (l *Logger) LogRun(ctx context.Context, r Report, err error) {
	if err != nil {
		l.ErrorContext(ctx, "run failed",
			"produced", r.Produced,
			"consumed", r.Consumed,
			"cycles", r.Cycles,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "run completed",
			"produced", r.Produced,
			"consumed", r.Consumed,
			"cycles", r.Cycles,
			"duration", r.Duration.Round(time.Millisecond),
		)
	}
}
