// Package paths resolves where chainwatch keeps its state on disk.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// HomeEnvVar overrides the default data directory.
	HomeEnvVar = "CHAINWATCH_HOME"
	// DefaultHome is the data directory name under the user's home.
	DefaultHome = ".chainwatch"

	databaseFile = "chainwatch.db"
	pidFile      = "daemon.pid"
)

// Layout is the set of files under one data directory.
type Layout struct {
	Root string
}

// Resolve picks the data directory: an explicit override, then
// $CHAINWATCH_HOME, then ~/.chainwatch.
func Resolve(override string) (Layout, error) {
	if override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return Layout{}, err
		}
		return Layout{Root: abs}, nil
	}
	if env := os.Getenv(HomeEnvVar); env != "" {
		return Layout{Root: env}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return Layout{}, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return Layout{Root: filepath.Join(home, DefaultHome)}, nil
}

// Database returns the sqlite database path.
func (l Layout) Database() string { return filepath.Join(l.Root, databaseFile) }

// PIDFile returns the daemon PID file path.
func (l Layout) PIDFile() string { return filepath.Join(l.Root, pidFile) }

// LogsDir returns the directory holding log files.
func (l Layout) LogsDir() string { return filepath.Join(l.Root, "logs") }

// LogFile returns the log file for a subsystem, e.g. "daemon".
func (l Layout) LogFile(subsystem string) string {
	return filepath.Join(l.LogsDir(), subsystem+".log")
}

// BackupsDir returns the directory holding snapshots.
func (l Layout) BackupsDir() string { return filepath.Join(l.Root, "backups") }

// ConfigFile returns the default configuration file path.
func (l Layout) ConfigFile() string { return filepath.Join(l.Root, "chainwatch.toml") }

// Ensure creates the data directory tree.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Root, l.LogsDir(), l.BackupsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
