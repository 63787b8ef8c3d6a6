package slogutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// sizeUnits is ordered so that longer suffixes are tried first.
var sizeUnits = []struct {
	suffix string
	bytes  float64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseSize parses logging.maxSize values such as "10MB", "512KB" or
// "1.5GB" into bytes. A bare number is bytes. An empty string is 0, which
// disables rotation.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	multiplier := 1.0
	for _, u := range sizeUnits {
		if num, ok := strings.CutSuffix(s, u.suffix); ok {
			s, multiplier = strings.TrimSpace(num), u.bytes
			break
		}
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid size %q (want e.g. 10MB)", s)
	}
	return int64(value * multiplier), nil
}

// logFile is an append-only subsystem log that rolls over to name.1,
// name.2 ... once it would grow past maxSize. At most keep rolled files
// are retained; with keep 0 the log simply starts over.
type logFile struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	keep    int
	f       *os.File
	size    int64
}

func openLogFile(path string, maxSize int64, keep int) (*logFile, error) {
	l := &logFile{path: path, maxSize: maxSize, keep: keep}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *logFile) open() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f, l.size = f, info.Size()
	return nil
}

// Write appends p, rolling the file first when p would not fit. A line is
// never split across files.
func (l *logFile) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return 0, os.ErrClosed
	}
	if l.maxSize > 0 && l.size > 0 && l.size+int64(len(p)) > l.maxSize {
		// If rolling fails the line still goes to the current file.
		_ = l.roll()
	}
	n, err := l.f.Write(p)
	l.size += int64(n)
	return n, err
}

func (l *logFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// roll shifts name.N-1 to name.N down to name to name.1, dropping
// whatever falls off the end.
func (l *logFile) roll() error {
	if err := l.f.Close(); err != nil {
		return err
	}
	l.f = nil

	if l.keep == 0 {
		_ = os.Remove(l.path)
	} else {
		_ = os.Remove(rolledName(l.path, l.keep))
		for n := l.keep - 1; n >= 1; n-- {
			_ = os.Rename(rolledName(l.path, n), rolledName(l.path, n+1))
		}
		_ = os.Rename(l.path, rolledName(l.path, 1))
	}
	return l.open()
}

func rolledName(path string, n int) string {
	return path + "." + strconv.Itoa(n)
}
