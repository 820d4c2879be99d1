// Package logger sets up the process-wide slog.Logger: JSON in production,
// text in development, always mirrored to stdout plus an optional rotated
// file for the gateway's per-call timing log.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Config controls the global logger's output shape and rotation policy.
type Config struct {
	Environment string
	Level       string
	LogPath     string
	MaxSize     int // Megabytes
	MaxBackups  int
	MaxAge      int // Days
	Compress    bool
}

// Setup initializes the global logger. Safe to call multiple times; only
// the first call takes effect.
func Setup(cfg Config) {
	once.Do(func() {
		var writers []io.Writer
		writers = append(writers, os.Stdout)

		if cfg.LogPath != "" {
			dir := filepath.Dir(cfg.LogPath)
			if err := os.MkdirAll(dir, 0o700); err != nil {
				slog.Error("failed to create log directory", "path", dir, "error", err)
			} else {
				writers = append(writers, &lumberjack.Logger{
					Filename:   cfg.LogPath,
					MaxSize:    cfg.MaxSize,
					MaxBackups: cfg.MaxBackups,
					MaxAge:     cfg.MaxAge,
					Compress:   cfg.Compress,
				})
			}
		}

		multiWriter := io.MultiWriter(writers...)
		opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

		var handler slog.Handler
		if strings.ToLower(cfg.Environment) == "production" {
			handler = slog.NewJSONHandler(multiWriter, opts)
		} else {
			handler = slog.NewTextHandler(multiWriter, opts)
		}

		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the global logger, falling back to slog.Default before Setup
// has run (e.g. in tests).
func Get() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }
