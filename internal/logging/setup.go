// Package logging configures structured logging using log/slog.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Level allows runtime log level changes.
var Level slog.LevelVar

// Setup initialises the default slog logger from LOG_LEVEL (debug, info,
// warn, error; default info) and LOG_FORMAT (json, text; default json).
// The stdlib "log" package is bridged into slog.
func Setup() *slog.Logger {
	return SetupWithConfig(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stdout)
}

// SetupWithConfig configures slog with explicit parameters.
func SetupWithConfig(levelStr, formatStr string, w io.Writer) *slog.Logger {
	Level.Set(ParseLevel(levelStr))

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: &Level}

	switch strings.ToLower(strings.TrimSpace(formatStr)) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	log.SetOutput(&slogWriter{logger: logger})
	log.SetFlags(0)
	return logger
}

// ParseLevel converts a string to slog.Level. Defaults to INFO.
func ParseLevel(s string) slog.Level {
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

type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"), "source", "stdlib")
	return len(p), nil
}
