package reid

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hupe1980/reid/config"
	"github.com/hupe1980/reid/dataset"
)

// Logger wraps slog.Logger with reid-specific context.
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
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// LoggerFromConfig builds the Logger described by cfg, writing to w.
func LoggerFromConfig(cfg config.Log, w io.Writer) *Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return NewLogger(slog.NewJSONHandler(w, opts))
	}
	return NewLogger(slog.NewTextHandler(w, opts))
}

// WithRun adds a run field to the logger.
func (l *Logger) WithRun(run string) *Logger {
	return &Logger{
		Logger: l.Logger.With("run", run),
	}
}

// WithEpoch adds an epoch field to the logger.
func (l *Logger) WithEpoch(epoch int) *Logger {
	return &Logger{
		Logger: l.Logger.With("epoch", epoch),
	}
}

// LogDataset logs the composition of an index.
func (l *Logger) LogDataset(ctx context.Context, split string, s dataset.Stats) {
	if len(s.Singletons) > 0 {
		l.WarnContext(ctx, "dataset has single-sample identities",
			"split", split,
			"samples", s.Samples,
			"identities", s.Identities,
			"singletons", len(s.Singletons),
		)
	} else {
		l.InfoContext(ctx, "dataset indexed",
			"split", split,
			"samples", s.Samples,
			"identities", s.Identities,
		)
	}
}

// LogCheckpoint logs a checkpoint load or save.
func (l *Logger) LogCheckpoint(ctx context.Context, name string, epoch int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint loaded",
			"name", name,
			"epoch", epoch,
		)
	}
}
