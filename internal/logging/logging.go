// Package logging configures the [log/slog] logger shared by the CLI and
// the HTTP server. [New] reads the YKSAI_LOG_* environment variables once
// at startup; the resulting logger travels through the call tree as a
// context value via [WithLogger] and [FromContext].
//
// Environment variables:
//
//	YKSAI_LOG_LEVEL  = debug | info | warn | error  (default: info)
//	YKSAI_LOG_FORMAT = json | text                  (default: json)
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// loggerKey is the unexported context key carrying the logger.
type loggerKey struct{}

// New builds a [*slog.Logger] writing to stderr. The JSON handler is the
// default so server logs stay machine-parseable; YKSAI_LOG_FORMAT=text
// switches to the human-readable handler for local development.
func New() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("YKSAI_LOG_LEVEL")),
	}

	var handler slog.Handler
	switch strings.ToLower(os.Getenv("YKSAI_LOG_FORMAT")) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the [*slog.Logger] stored in ctx, or [slog.Default]
// when none is present so call sites never need a nil check.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// parseLevel maps a YKSAI_LOG_LEVEL value onto a [slog.Level].
// Unknown or empty values fall back to Info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
