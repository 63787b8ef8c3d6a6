package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestPIDFile_IsRunning(t *testing.T) {
	tests := []struct {
		name        string
		content     *string
		wantRunning bool
		wantPID     int
	}{
		{"no file", nil, false, 0},
		{"invalid content", ptr("not-a-number"), false, 0},
		{"stale pid", ptr("999999999\n"), false, 999999999},
		{"current process", ptr(strconv.Itoa(os.Getpid()) + "\n"), true, os.Getpid()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "daemon.pid")
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0644); err != nil {
					t.Fatal(err)
				}
			}

			running, pid, err := NewPIDFile(path).IsRunning()
			if err != nil {
				t.Fatalf("IsRunning() error = %v", err)
			}
			if running != tt.wantRunning {
				t.Errorf("running = %v, want %v", running, tt.wantRunning)
			}
			if pid != tt.wantPID {
				t.Errorf("pid = %d, want %d", pid, tt.wantPID)
			}
		})
	}
}

func ptr(s string) *string { return &s }

func TestPIDFile_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "daemon.pid")
	p := NewPIDFile(path)

	if err := p.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pid, err := p.Read()
	if err != nil || pid != os.Getpid() {
		t.Errorf("Read() = %d, %v; want %d", pid, err, os.Getpid())
	}

	// The current process is alive, so a second acquire must fail.
	if err := NewPIDFile(path).Acquire(); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Errorf("second Acquire() error = %v, want already running", err)
	}

	if err := p.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("PID file should be removed")
	}
	if err := p.Release(); err != nil {
		t.Errorf("Release() on missing file error = %v", err)
	}
}

func TestPIDFile_AcquireReplacesStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	if err := os.WriteFile(path, []byte("999999999\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := NewPIDFile(path).Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Errorf("PID file = %q, want current pid", data)
	}
}

func TestProcessExists(t *testing.T) {
	if !processExists(os.Getpid()) {
		t.Error("current process should exist")
	}
	if processExists(999999999) {
		t.Error("pid 999999999 should not exist")
	}
}

func TestGenerateToken(t *testing.T) {
	token, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}
	if !CheckToken(hash, token) {
		t.Error("token should match its hash")
	}
	if CheckToken(hash, token+"x") {
		t.Error("altered token should not match")
	}

	other, _, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	if other == token {
		t.Error("tokens should be unique")
	}
}

func TestCheckToken_Empty(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if CheckToken("", "secret") {
		t.Error("empty hash must not match")
	}
	if CheckToken(string(hash), "") {
		t.Error("empty token must not match")
	}
	if !CheckToken(string(hash), "secret") {
		t.Error("token should match")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"zero", 0, "0s"},
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 3*time.Minute + 15*time.Second, "3m15s"},
		{"hours minutes seconds", 2*time.Hour + 30*time.Minute + 45*time.Second, "2h30m45s"},
		{"hours only", 5 * time.Hour, "5h0m0s"},
		{"rounds milliseconds", 5*time.Second + 500*time.Millisecond, "6s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatDuration(tt.duration); got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}
