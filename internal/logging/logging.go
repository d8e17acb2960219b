// Package logging builds the process logger from a configured level name.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Level is one of the accepted level names.
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// ParseLevel converts a level name, case-insensitively. "warning" is
// accepted as an alias of "warn".
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

// SlogLevel maps l to the slog level, defaulting to info.
func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Setup creates a text logger writing to w at the given level.
func Setup(w io.Writer, level Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level.SlogLevel(),
	})
	return slog.New(handler)
}
