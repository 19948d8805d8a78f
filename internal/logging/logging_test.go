package logging

import (
	"context"
	"log/slog"
	"testing"
)

func Test_New_HonorsEnvLevel(t *testing.T) {
	t.Setenv("YKSAI_LOG_LEVEL", "debug")
	t.Setenv("YKSAI_LOG_FORMAT", "json")

	log := New()
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("YKSAI_LOG_LEVEL=debug not honored, debug records disabled")
	}
}

func Test_New_DefaultsToInfo(t *testing.T) {
	t.Setenv("YKSAI_LOG_LEVEL", "")
	t.Setenv("YKSAI_LOG_FORMAT", "")

	log := New()
	if log.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("unset YKSAI_LOG_LEVEL should suppress debug records")
	}
	if !log.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("unset YKSAI_LOG_LEVEL should allow info records")
	}
}

func Test_ParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		" warn ":  slog.LevelWarn,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func Test_FromContext_FallsBackToDefault(t *testing.T) {
	t.Parallel()
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext returned nil for empty context")
	}

	logger := slog.New(slog.DiscardHandler)
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("FromContext did not return the stored logger")
	}
}
