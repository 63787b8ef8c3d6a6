// Package backup writes and restores zstd-compressed JSON snapshots of the
// chain state.
package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"chainwatch/internal/links"
	"chainwatch/internal/registry"
	"chainwatch/internal/storage"
)

// FormatVersion is bumped when the snapshot layout changes.
const FormatVersion = 1

const (
	filePrefix  = "chainwatch-"
	fileSuffix  = ".json.zst"
	stampLayout = "20060102T150405Z"
)

// Snapshot is the serialized form of a state.
type Snapshot struct {
	Version      int                    `json:"version"`
	CreatedAt    time.Time              `json:"createdAt"`
	Participants []registry.Participant `json:"participants"`
	Links        []links.IncomingList   `json:"links"`
	LastChain    string                 `json:"lastChain,omitempty"`
	NameChanges  []registry.NameChange  `json:"nameChanges,omitempty"`
}

// FromState captures st.
func FromState(st *storage.State, now time.Time) *Snapshot {
	return &Snapshot{
		Version:      FormatVersion,
		CreatedAt:    now.UTC(),
		Participants: st.Registry.List(),
		Links:        links.Encode(st.Matrix),
		LastChain:    st.LastChain,
		NameChanges:  slices.Clone(st.NameChanges),
	}
}

// State rebuilds the state the snapshot describes.
func (s *Snapshot) State() (*storage.State, error) {
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	st := storage.NewState()
	for _, p := range s.Participants {
		if err := st.Registry.Put(p); err != nil {
			return nil, err
		}
	}
	m, err := links.Decode(s.Links)
	if err != nil {
		return nil, fmt.Errorf("failed to decode links: %w", err)
	}
	st.Matrix = m
	st.LastChain = s.LastChain
	st.NameChanges = slices.Clone(s.NameChanges)
	return st, nil
}

// Write encodes st to w.
func Write(w io.Writer, st *storage.State, now time.Time) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if err := json.NewEncoder(enc).Encode(FromState(st, now)); err != nil {
		enc.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return enc.Close()
}

// Read decodes a snapshot from r.
func Read(r io.Reader) (*Snapshot, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var snap Snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// Manager keeps rotating snapshot files in one directory.
type Manager struct {
	dir    string
	keep   int
	logger *slog.Logger
}

// NewManager creates a manager that keeps the newest keep files.
func NewManager(dir string, keep int, logger *slog.Logger) *Manager {
	if keep < 1 {
		keep = 1
	}
	return &Manager{dir: dir, keep: keep, logger: logger}
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Create writes a new snapshot of st and removes the oldest files beyond
// the retention limit. It returns the new file's path.
func (m *Manager) Create(st *storage.State, now time.Time) (string, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	name := filePrefix + now.UTC().Format(stampLayout) + fileSuffix
	path := filepath.Join(m.dir, name)

	tmp, err := os.CreateTemp(m.dir, ".snapshot-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, st, now); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	m.logger.Info("Backup written", "path", path, "participants", st.Registry.Len())

	if removed, err := m.rotate(); err != nil {
		m.logger.Warn("Failed to rotate backups", "error", err.Error())
	} else if removed > 0 {
		m.logger.Debug("Rotated backups", "removed", removed)
	}
	return path, nil
}

// List returns snapshot paths, oldest first.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		out = append(out, filepath.Join(m.dir, name))
	}
	// The timestamp layout sorts lexically.
	slices.Sort(out)
	return out, nil
}

// Latest returns the newest snapshot path.
func (m *Manager) Latest() (string, error) {
	files, err := m.List()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no backups in %s", m.dir)
	}
	return files[len(files)-1], nil
}

// Load reads the snapshot at path and rebuilds its state.
func Load(path string) (*storage.State, *Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	snap, err := Read(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	st, err := snap.State()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return st, snap, nil
}

func (m *Manager) rotate() (int, error) {
	files, err := m.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for len(files)-removed > m.keep {
		if err := os.Remove(files[removed]); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
