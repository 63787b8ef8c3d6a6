package slogutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"512", 512, false},
		{"100b", 100, false},
		{"64KB", 64 << 10, false},
		{"10MB", 10 << 20, false},
		{" 10 mb ", 10 << 20, false},
		{"1.5MB", 3 << 19, false},
		{"1GB", 1 << 30, false},
		{"ten megs", 0, true},
		{"MB", 0, true},
		{"-1KB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", filepath.Base(path), err)
	}
	return string(data)
}

func TestLogFile_RollsWholeLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sweep.log")
	lf, err := openLogFile(path, 40, 2)
	if err != nil {
		t.Fatalf("openLogFile: %v", err)
	}

	lines := []string{
		"sweep 1 finished valid=3\n", // 25 bytes
		"sweep 2 finished valid=4\n",
		"sweep 3 finished valid=4\n",
		"sweep 4 finished valid=5\n",
	}
	for _, l := range lines {
		if _, err := lf.Write([]byte(l)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := lf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Each line overflows 40 bytes together with its predecessor, so every
	// write after the first rolls; only two rolled files survive.
	if got := readFile(t, path); got != lines[3] {
		t.Errorf("sweep.log = %q", got)
	}
	if got := readFile(t, path+".1"); got != lines[2] {
		t.Errorf("sweep.log.1 = %q", got)
	}
	if got := readFile(t, path+".2"); got != lines[1] {
		t.Errorf("sweep.log.2 = %q", got)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Errorf("sweep.log.3 should not exist, stat err = %v", err)
	}
}

func TestLogFile_KeepZeroStartsOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	lf, err := openLogFile(path, 10, 0)
	if err != nil {
		t.Fatalf("openLogFile: %v", err)
	}
	defer func() { _ = lf.Close() }()

	for _, l := range []string{"Daemon started\n", "Daemon stopped\n"} {
		if _, err := lf.Write([]byte(l)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if got := readFile(t, path); got != "Daemon stopped\n" {
		t.Errorf("daemon.log = %q", got)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no rolled file expected with keep 0")
	}
}

func TestLogFile_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.log")
	if err := os.WriteFile(path, []byte("earlier run\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	lf, err := openLogFile(path, 0, 3)
	if err != nil {
		t.Fatalf("openLogFile: %v", err)
	}
	if _, err := lf.Write([]byte(strings.Repeat("x", 100) + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = lf.Close()

	if got := readFile(t, path); !strings.HasPrefix(got, "earlier run\n") {
		t.Errorf("existing content lost: %q", got)
	}
	if _, err := lf.Write([]byte("late\n")); err == nil {
		t.Error("write after Close should fail")
	}
}
