package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(DefaultLogConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Info("test message", String("key", "value"), Int("count", 1))
	_ = logger.Sync()
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)

	logger.Debug("debug message")
	child := logger.With(String("component", "test"))
	child.Warn("warn message")
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "verbose"})
	assert.Error(t, err)
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Info("discarded")
	assert.Equal(t, logger, logger.With(String("k", "v")))
	assert.NoError(t, logger.Sync())
}

func TestGlobalLogger(t *testing.T) {
	// Unset global defaults to nop
	SetGlobalLogger(nil)
	assert.NotNil(t, GetGlobalLogger())

	logger := NopLogger()
	SetGlobalLogger(logger)
	assert.Equal(t, logger, GetGlobalLogger())
}
