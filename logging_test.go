package dispatcher

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriterLogger_RespectsMinimumLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(LevelWarn, &buf)

	assert.False(t, logger.IsEnabled(LevelDebug))
	assert.False(t, logger.IsEnabled(LevelInfo))
	assert.True(t, logger.IsEnabled(LevelWarn))
	assert.True(t, logger.IsEnabled(LevelError))

	logger.Log(LogEntry{Level: LevelInfo, Message: "filtered out"})
	assert.Empty(t, buf.String())

	logger.Log(LogEntry{Level: LevelWarn, Message: "shows up"})
	assert.Contains(t, buf.String(), "shows up")
}

func TestWriterLogger_IncludesErrorInOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(LevelDebug, &buf)
	logger.Log(LogEntry{Level: LevelError, Message: "boom", Err: errors.New("cause")})
	assert.Contains(t, buf.String(), "cause")
}

func TestWriterLogger_SetLevelUpdatesFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(LevelError, &buf)
	assert.False(t, logger.IsEnabled(LevelInfo))
	logger.SetLevel(LevelInfo)
	assert.True(t, logger.IsEnabled(LevelInfo))
}

func TestNoOpLogger_NeverEnabled(t *testing.T) {
	logger := NewNoOpLogger()
	for _, level := range []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		assert.False(t, logger.IsEnabled(level))
	}
	// Log must not panic even though nothing is configured to receive it.
	logger.Log(LogEntry{Level: LevelError, Message: "discarded"})
}

func TestGetGlobalLogger_DefaultsToNoOp(t *testing.T) {
	SetStructuredLogger(nil)
	logger := getGlobalLogger()
	_, ok := logger.(*NoOpLogger)
	assert.True(t, ok)
}

func TestSetStructuredLogger_OverridesGlobalDefault(t *testing.T) {
	defer SetStructuredLogger(nil)
	custom := NewNoOpLogger()
	SetStructuredLogger(custom)
	assert.Same(t, custom, getGlobalLogger())
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Contains(t, LogLevel(42).String(), "UNKNOWN")
}
