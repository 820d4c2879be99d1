package logger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("unknown"))
}

func TestSetupAndGet(t *testing.T) {
	Setup(Config{Environment: "development", Level: "debug"})

	l := Get()
	assert.NotNil(t, l)

	Info("test info", "key", "val")
	Warn("test warn")
	Error("test error")
	Debug("test debug")
}
