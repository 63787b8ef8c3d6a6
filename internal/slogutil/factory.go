package slogutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"sync"
)

// Subsystems that get their own log file.
const (
	SubsystemDaemon = "daemon"
	SubsystemSweep  = "sweep"
	SubsystemMCP    = "mcp"
)

// Subsystems lists every subsystem with a log file, in display order.
var Subsystems = []string{SubsystemDaemon, SubsystemSweep, SubsystemMCP}

// FactoryOptions mirrors the logging section of the configuration.
// Levels maps a subsystem to its level name and overrides Level.
type FactoryOptions struct {
	Dir        string
	Level      string
	Levels     map[string]string
	MaxSize    string
	MaxBackups int
}

// LoggerFactory hands out one file logger per subsystem. Asking twice for
// the same subsystem returns the same logger, so a log file only ever has
// one writer rolling it over.
// Precedence: CLI flags > subsystem level > global level.
type LoggerFactory struct {
	opts     FactoryOptions
	cliLevel slog.Level // 0 means not set

	mu      sync.Mutex
	loggers map[string]*slog.Logger
	files   []io.Closer
}

// NewLoggerFactory creates a factory. cliLevel should be 0 if no CLI
// override was given.
func NewLoggerFactory(opts FactoryOptions, cliLevel slog.Level) *LoggerFactory {
	return &LoggerFactory{opts: opts, cliLevel: cliLevel, loggers: make(map[string]*slog.Logger)}
}

// Logger returns the logger writing <dir>/<subsystem>.log. Without a
// directory, or when the file cannot be opened, it returns a discard
// logger; logging must never stop a sweep.
func (f *LoggerFactory) Logger(subsystem string) *slog.Logger {
	f.mu.Lock()
	defer f.mu.Unlock()

	if logger, ok := f.loggers[subsystem]; ok {
		return logger
	}
	logger := NewDiscardLogger()
	if f.opts.Dir != "" {
		if file, err := f.open(subsystem); err == nil {
			f.files = append(f.files, file)
			logger = NewLogger(file, f.EffectiveLevel(subsystem))
		}
	}
	f.loggers[subsystem] = logger
	return logger
}

func (f *LoggerFactory) open(subsystem string) (*logFile, error) {
	maxSize, err := ParseSize(f.opts.MaxSize)
	if err != nil {
		maxSize = 0
	}
	return openLogFile(filepath.Join(f.opts.Dir, subsystem+".log"), maxSize, f.opts.MaxBackups)
}

// EffectiveLevel returns the level a subsystem logs at.
func (f *LoggerFactory) EffectiveLevel(subsystem string) slog.Level {
	if f.cliLevel != 0 {
		return f.cliLevel
	}
	if lvl := f.opts.Levels[subsystem]; lvl != "" {
		return LevelFromString(lvl)
	}
	if f.opts.Level != "" {
		return LevelFromString(f.opts.Level)
	}
	return slog.LevelInfo
}

// Close closes every log file opened so far. Loggers handed out before
// Close stop writing.
func (f *LoggerFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for _, c := range f.files {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.files = nil
	f.loggers = make(map[string]*slog.Logger)
	return firstErr
}
