package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Run("explicit override wins", func(t *testing.T) {
		t.Setenv(HomeEnvVar, "/from/env")
		dir := t.TempDir()

		l, err := Resolve(dir)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if l.Root != dir {
			t.Errorf("Root = %s, want %s", l.Root, dir)
		}
	})

	t.Run("environment variable", func(t *testing.T) {
		t.Setenv(HomeEnvVar, "/from/env")

		l, err := Resolve("")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if l.Root != "/from/env" {
			t.Errorf("Root = %s, want /from/env", l.Root)
		}
	})

	t.Run("home default", func(t *testing.T) {
		t.Setenv(HomeEnvVar, "")

		l, err := Resolve("")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !strings.HasSuffix(l.Root, DefaultHome) {
			t.Errorf("Root = %s, want suffix %s", l.Root, DefaultHome)
		}
	})
}

func TestLayoutFiles(t *testing.T) {
	l := Layout{Root: "/data"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"database", l.Database(), filepath.Join("/data", "chainwatch.db")},
		{"pid", l.PIDFile(), filepath.Join("/data", "daemon.pid")},
		{"log", l.LogFile("daemon"), filepath.Join("/data", "logs", "daemon.log")},
		{"backups", l.BackupsDir(), filepath.Join("/data", "backups")},
		{"config", l.ConfigFile(), filepath.Join("/data", "chainwatch.toml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestEnsure(t *testing.T) {
	l := Layout{Root: filepath.Join(t.TempDir(), "nested", "home")}
	if err := l.Ensure(); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	for _, dir := range []string{l.Root, l.LogsDir(), l.BackupsDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", dir)
		}
	}
}
