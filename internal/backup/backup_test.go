package backup

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainwatch/internal/links"
	"chainwatch/internal/registry"
	"chainwatch/internal/slogutil"
	"chainwatch/internal/storage"
)

func sampleState(t *testing.T) *storage.State {
	t.Helper()
	st := storage.NewState()
	joined := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, st.Registry.Put(registry.Participant{ID: "1", Username: "alice", JoinedAt: joined}))
	require.NoError(t, st.Registry.Put(registry.Participant{ID: "2", Username: "bob", Mentions: []string{"alice"}}))
	require.NoError(t, st.Registry.Put(registry.Participant{ID: "3", Disabled: true}))
	st.Matrix.Set("2", "1", links.Real)
	st.Matrix.Set("3", "2", links.Stale)
	st.LastChain = "Chain length: 2\n\n@bob → @alice"
	st.NameChanges = []registry.NameChange{{ID: "3", Previous: "carol"}}
	return st
}

func TestWriteRead(t *testing.T) {
	st := sampleState(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, st, now))

	snap, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, snap.Version)
	assert.True(t, snap.CreatedAt.Equal(now))

	restored, err := snap.State()
	require.NoError(t, err)
	assert.Equal(t, st.Registry.List(), restored.Registry.List())
	assert.Equal(t, links.Encode(st.Matrix), links.Encode(restored.Matrix))
	assert.Equal(t, st.LastChain, restored.LastChain)
	assert.Equal(t, st.NameChanges, restored.NameChanges)
}

func TestRead_RejectsGarbage(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("not zstd at all")))
	assert.Error(t, err)
}

func TestSnapshot_UnsupportedVersion(t *testing.T) {
	_, err := (&Snapshot{Version: 99}).State()
	assert.ErrorContains(t, err, "unsupported snapshot version")
}

func TestManager_CreateAndRotate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	m := NewManager(dir, 2, slogutil.NewDiscardLogger())
	st := sampleState(t)
	start := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)

	var paths []string
	for i := range 3 {
		path, err := m.Create(st, start.Add(time.Duration(i)*24*time.Hour))
		require.NoError(t, err)
		paths = append(paths, path)
	}

	files, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, paths[1:], files)
	_, err = os.Stat(paths[0])
	assert.True(t, os.IsNotExist(err))

	latest, err := m.Latest()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chainwatch-20240303T030000Z.json.zst"), latest)

	restored, _, err := Load(latest)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Registry.Len())
	assert.Equal(t, links.Stale, restored.Matrix.Get("3", "2"))
}

func TestManager_Empty(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "missing"), 3, slogutil.NewDiscardLogger())

	files, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = m.Latest()
	assert.Error(t, err)
}
