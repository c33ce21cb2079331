package slogger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
	}{
		{"debug level", "debug", LevelDebug},
		{"info level", "info", LevelInfo},
		{"warn level", "warn", LevelWarn},
		{"error level", "error", LevelError},
		{"uppercase", "DEBUG", LevelDebug},
		{"mixed case", "WaRn", LevelWarn},
		{"invalid level", "invalid", DefaultLogLevel},
		{"empty string", "", DefaultLogLevel},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			level := LevelFromString(tc.input)
			require.Equal(t, tc.expected, level)
		})
	}
}

func TestDevNullLogger(t *testing.T) {
	logger := NewDevNullLogger()

	// These calls should not panic
	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")

	withLogger := logger.With("context", "value")
	require.NotNil(t, withLogger)
	require.IsType(t, &DevNullLogger{}, withLogger)
}

func TestSlogger(t *testing.T) {
	logger := New(LevelDebug)
	require.NotNil(t, logger)
	require.IsType(t, &Slogger{}, logger)

	// These calls should not panic
	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")

	withLogger := logger.With("context", "value")
	require.NotNil(t, withLogger)
	require.IsType(t, &Slogger{}, withLogger)
}

func TestSloggerWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, LevelDebug)

	logger.Info("applied event", "workflow_id", "wf-1", "sequence", 3)

	out := buf.String()
	require.Contains(t, out, "applied event")
	require.Contains(t, out, "workflow_id")
	require.Contains(t, out, "wf-1")
}

func TestSloggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, LevelWarn)

	logger.Debug("dropped")
	logger.Info("also dropped")
	logger.Warn("kept")

	out := buf.String()
	require.NotContains(t, out, "dropped")
	require.Contains(t, out, "kept")
}

//nolint:staticcheck // SA1012: Intentionally passing nil context for testing
func TestContextFunctions(t *testing.T) {
	logger := NewDevNullLogger()

	ctx := WithLogger(nil, logger)
	require.NotNil(t, ctx)

	retrievedLogger := Ctx(ctx)
	require.NotNil(t, retrievedLogger)
	require.Equal(t, logger, retrievedLogger)

	existingCtx := context.Background()
	newCtx := WithLogger(existingCtx, logger)
	require.NotNil(t, newCtx)
	retrievedLogger = Ctx(newCtx)
	require.Equal(t, logger, retrievedLogger)

	// Absent or nil contexts fall back to a real logger
	require.IsType(t, &Slogger{}, Ctx(nil))
	require.IsType(t, &Slogger{}, Ctx(context.Background()))
}

func TestDefaultLogger(t *testing.T) {
	require.NotNil(t, DefaultLogger)
	require.IsType(t, &DevNullLogger{}, DefaultLogger)
}
