// Package telemetry sets up structured logging and derivation metrics.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	EnvLogLevel  = "DYNBRANCH_LOG_LEVEL"
	EnvLogFormat = "DYNBRANCH_LOG_FORMAT"
)

// Options configures SetupLogger. Empty fields take defaults: level info,
// JSON format and stderr.
type Options struct {
	Level  string
	Format string
	Writer io.Writer
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR (any case) to a slog level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromEnv overlays the DYNBRANCH_LOG_* variables onto o.
func (o Options) FromEnv() Options {
	if v := os.Getenv(EnvLogLevel); v != "" {
		o.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		o.Format = v
	}
	return o
}

// SetupLogger builds the process logger and installs it as the default.
func SetupLogger(o Options) *slog.Logger {
	w := o.Writer
	if w == nil {
		w = os.Stderr
	}
	level := ParseLevel(o.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(o.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

type ctxKey string

const ctxLogger ctxKey = "logger"

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLogger, logger)
}

// FromContext returns the logger carried by ctx, or fallback when ctx
// carries none.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
		return logger
	}
	return fallback
}

func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// Discard is a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
