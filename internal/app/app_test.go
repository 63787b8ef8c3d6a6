package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainwatch/internal/config"
	"chainwatch/internal/paths"
	"chainwatch/internal/registry"
	"chainwatch/internal/slogutil"
)

type staticFetcher map[string][]string

func (f staticFetcher) Mentions(_ context.Context, username string) ([]string, error) {
	return f[username], nil
}

func openTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Anchor = "1"
	layout := paths.Layout{Root: t.TempDir()}

	a, err := Open(cfg, layout, Options{
		Logger:  slogutil.NewDiscardLogger(),
		Fetcher: staticFetcher{"bob": {"alice"}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestOpen_SweepPersists(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()

	_, err := a.Engine.ImportSeed(ctx, &registry.Seed{Participants: []registry.Participant{
		{ID: "1", Username: "alice"},
		{ID: "2", Username: "bob"},
	}})
	require.NoError(t, err)

	report, err := a.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, []string(report.View.Best))

	history, err := a.Sweeps.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, report.ID, history[0].ID)

	st, err := a.State.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Registry.Len())
}

func TestBackupRestore(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Engine.AddParticipant(ctx, "1", "alice"))
	path, err := a.Backup(ctx)
	require.NoError(t, err)
	assert.FileExists(t, path)

	require.NoError(t, a.Engine.AddParticipant(ctx, "2", "bob"))
	snap, err := a.Restore(ctx, "")
	require.NoError(t, err)
	assert.Len(t, snap.Participants, 1)

	participants, err := a.Engine.Participants(ctx)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, "alice", participants[0].Username)
}

func TestEngineOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Anchor = "42"

	opts := EngineOptions(cfg)

	assert.Equal(t, "42", opts.Anchor)
	assert.Equal(t, 2990, opts.WarnLength)
	assert.Equal(t, 4096, opts.MaxMessageLength)
	assert.Equal(t, 1000000, opts.Budget.MaxExpansions)
}
