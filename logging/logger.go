package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var logger *slog.Logger

func init() {
	// Default to INFO level
	InitLogger("info")
}

// InitLogger initializes the global text logger with the specified level
func InitLogger(level string) {
	InitLoggerWithFormat(level, "text")
}

// InitLoggerWithFormat initializes the global logger writing to stderr.
// format is either "text" or "json", anything else falls back to text.
func InitLoggerWithFormat(level, format string) {
	logger = newLogger(os.Stderr, level, format)
	slog.SetDefault(logger)
}

// ParseLevel maps a config level name onto a slog.Level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// GetLogger returns the global logger instance
func GetLogger() *slog.Logger {
	return logger
}
