package slogutil

import (
	"io"
	"log/slog"
	"strings"
)

// LevelSilent is above every standard level.
const LevelSilent = slog.Level(100)

// SubsystemKey is the attribute the line handler renders as a tag in front
// of the message instead of as a key=value pair.
const SubsystemKey = "subsystem"

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// NewLogger returns a logger writing chainwatch log lines to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewLineHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewDiscardLogger returns a logger that drops everything.
func NewDiscardLogger() *slog.Logger {
	return NewLogger(io.Discard, LevelSilent)
}

// ForSubsystem tags every line of logger with subsystem.
func ForSubsystem(logger *slog.Logger, subsystem string) *slog.Logger {
	return logger.With(SubsystemKey, subsystem)
}

// LevelFromString maps a configured level name (logging.level and the
// per-subsystem overrides) to a slog level. Unknown names mean info.
func LevelFromString(s string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// LevelFromVerbosity maps -q/-v/-vv to a level: quiet suppresses
// everything, no flag is warn, -v is info, -vv and above is debug.
func LevelFromVerbosity(verbosity int, quiet bool) slog.Level {
	switch {
	case quiet:
		return LevelSilent
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
