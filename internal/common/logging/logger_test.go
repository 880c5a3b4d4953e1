package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level LogLevel) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: level, Output: &buf})
	require.NoError(t, err)
	return logger, &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestZapAdapter_FiltersBelowLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, WarnLevel)

	logger.Debug("debug entry")
	logger.Info("info entry")
	logger.Warn("warn entry")

	out := buf.String()
	assert.NotContains(t, out, "debug entry")
	assert.NotContains(t, out, "info entry")
	assert.Contains(t, out, "warn entry")
	assert.Contains(t, out, "WARN")
}

func TestZapAdapter_ErrorIncludesCause(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	logger.Error("append failed", errors.New("quota exceeded"), String("sheet", "members"))

	out := buf.String()
	assert.Contains(t, out, "append failed")
	assert.Contains(t, out, "quota exceeded")
	assert.Contains(t, out, "members")
}

func TestZapAdapter_WithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	logger.WithFields(Field{"component", "emailer"}).Info("sent")

	assert.Contains(t, buf.String(), "emailer")
	assert.Same(t, logger, logger.WithFields())
}

func TestZapAdapter_WithContext(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithUser(ctx, "admin@example.com")
	logger.WithContext(ctx).Info("handled")

	out := buf.String()
	assert.Contains(t, out, "req-123")
	assert.Contains(t, out, "admin@example.com")
	assert.Equal(t, "admin@example.com", UserFromContext(ctx))
	assert.Same(t, logger, logger.WithContext(context.Background()))
}

func TestGlobalLogger(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)
	previous := GetGlobalLogger()
	SetGlobalLogger(logger)
	defer SetGlobalLogger(previous)

	Info("global entry", Int("count", 3))
	assert.Contains(t, buf.String(), "global entry")
}

func TestZapAdapter_JSONEncoding(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf, JSON: true})
	require.NoError(t, err)

	logger.Info("member joined", String("invoice", "ck123"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "member joined", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "ck123", entry["invoice"])
}

func TestDefaultLogConfig_ReadsFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("LOG_LEVEL", "warn")

	cfg := DefaultLogConfig()
	assert.True(t, cfg.JSON)
	assert.Equal(t, WarnLevel, cfg.Level)
}
