package sweep

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainwatch/internal/chain"
	cwerrors "chainwatch/internal/errors"
	"chainwatch/internal/links"
	"chainwatch/internal/registry"
	"chainwatch/internal/slogutil"
	"chainwatch/internal/storage"
)

type memStore struct {
	st    *storage.State
	saves int
}

func (s *memStore) Load(context.Context) (*storage.State, error) {
	if s.st == nil {
		return storage.NewState(), nil
	}
	return s.st.Clone(), nil
}

func (s *memStore) Save(_ context.Context, st *storage.State) error {
	s.st = st.Clone()
	s.saves++
	return nil
}

type memHistory struct {
	records []storage.SweepRecord
}

func (h *memHistory) Record(_ context.Context, rec *storage.SweepRecord) error {
	h.records = append(h.records, *rec)
	return nil
}

// fakeFetcher serves profiles keyed by lower-cased username.
type fakeFetcher struct {
	mu       sync.Mutex
	profiles map[string][]string
	failing  map[string]bool
	calls    []string
}

func (f *fakeFetcher) Mentions(_ context.Context, username string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(username)
	f.calls = append(f.calls, key)
	if f.failing[key] {
		return nil, errors.New("HTTP 502")
	}
	return f.profiles[key], nil
}

func (f *fakeFetcher) set(username string, mentions ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[username] = mentions
}

func (f *fakeFetcher) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

type fakePublisher struct {
	chains        []string
	optimal       []bool
	announcements []string
	err           error
}

func (p *fakePublisher) PublishChain(_ context.Context, text string, optimal bool) error {
	if p.err != nil {
		return p.err
	}
	p.chains = append(p.chains, text)
	p.optimal = append(p.optimal, optimal)
	return nil
}

func (p *fakePublisher) Announce(_ context.Context, text string) error {
	if p.err != nil {
		return p.err
	}
	p.announcements = append(p.announcements, text)
	return nil
}

type harness struct {
	engine  *Engine
	store   *memStore
	history *memHistory
	fetcher *fakeFetcher
	pub     *fakePublisher
	clock   time.Time
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func (h *harness) sweep(t *testing.T) *Report {
	t.Helper()
	report, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	return report
}

// newHarness seeds alice (anchor), bob -> alice and carol -> bob.
func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	st := storage.NewState()
	for _, p := range []registry.Participant{
		{ID: "1", Username: "alice"},
		{ID: "2", Username: "bob"},
		{ID: "3", Username: "carol"},
	} {
		require.NoError(t, st.Registry.Put(p))
	}

	h := &harness{
		store:   &memStore{st: st},
		history: &memHistory{},
		fetcher: &fakeFetcher{
			profiles: map[string][]string{
				"bob":   {"alice"},
				"carol": {"Bob"},
			},
			failing: map[string]bool{},
		},
		pub:   &fakePublisher{},
		clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	opts := Options{
		Anchor:           "1",
		RescanAfter:      time.Minute,
		Concurrency:      2,
		MaxMessageLength: 4096,
		WarnLength:       2990,
		PruneDisabled:    true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.engine = New(opts, Deps{
		Store:     h.store,
		History:   h.history,
		Fetcher:   h.fetcher,
		Publisher: h.pub,
		Logger:    slogutil.NewDiscardLogger(),
	})
	h.engine.now = func() time.Time { return h.clock }
	return h
}

func TestSweep_PublishesNewChain(t *testing.T) {
	h := newHarness(t, nil)

	report := h.sweep(t)

	assert.Equal(t, 3, report.Scanned)
	assert.True(t, report.Changed)
	assert.True(t, report.Published)
	require.NotNil(t, report.View)
	assert.Equal(t, chain.Chain{"1", "2", "3"}, report.View.Best)
	assert.True(t, report.View.BestValid)
	assert.Equal(t, []string{"Chain length: 3\n\n@carol → @bob → @alice"}, h.pub.chains)
	assert.Equal(t, []bool{true}, h.pub.optimal)
	assert.Empty(t, h.pub.announcements)

	saved := h.store.st
	assert.Equal(t, "Chain length: 3\n\n@carol → @bob → @alice", saved.LastChain)
	assert.Equal(t, links.Real, saved.Matrix.Get("3", "2"))
	joined, ok := saved.Registry.JoinedAt("3")
	assert.True(t, ok)
	assert.Equal(t, h.clock, joined)

	require.Len(t, h.history.records, 1)
	rec := h.history.records[0]
	assert.Equal(t, report.ID, rec.ID)
	assert.Equal(t, 3, rec.ChainLength)
	assert.Equal(t, 2, rec.UnbrokenLength)
	assert.True(t, rec.Published)
}

func TestSweep_UnchangedChainIsNotRepublished(t *testing.T) {
	h := newHarness(t, nil)
	h.sweep(t)

	h.fetcher.reset()
	h.advance(10 * time.Second)
	report := h.sweep(t)

	assert.Zero(t, report.Scanned, "nobody is due before the rescan interval")
	assert.Empty(t, h.fetcher.calls)
	assert.False(t, report.Changed)
	assert.Len(t, h.pub.chains, 1)

	h.advance(time.Minute)
	report = h.sweep(t)
	assert.Equal(t, 3, report.Scanned)
	assert.False(t, report.Changed)
	assert.Len(t, h.pub.chains, 1)
}

func TestSweep_DecayBreaksLink(t *testing.T) {
	h := newHarness(t, nil)
	h.sweep(t)

	h.fetcher.set("carol")
	h.advance(2 * time.Minute)
	report := h.sweep(t)

	assert.Equal(t, 2, report.Downgraded, "bob and carol are rescanned")
	assert.Equal(t, links.Stale, h.store.st.Matrix.Get("3", "2"))
	assert.Equal(t, chain.Chain{"1", "2", "3"}, report.View.Best)
	assert.False(t, report.View.BestValid)
	assert.Zero(t, report.Purged, "purge waits for a fully valid chain")

	require.Len(t, h.pub.chains, 2)
	assert.Equal(t, "Chain length: 3\nLength without breaks: 1\n\n@carol ❌ @bob → @alice", h.pub.chains[1])
	assert.Equal(t, []string{"∙ @carol has no valid link (should point to @bob)"}, h.pub.announcements)
}

func TestSweep_FailedFetchKeepsLinks(t *testing.T) {
	h := newHarness(t, nil)
	h.sweep(t)

	h.fetcher.set("bob")
	h.fetcher.failing["bob"] = true
	h.advance(2 * time.Minute)
	report := h.sweep(t)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, links.Real, h.store.st.Matrix.Get("2", "1"))
	assert.True(t, report.View.BestValid)

	// bob was not touched, so he is due again right away.
	h.fetcher.reset()
	h.advance(time.Second)
	h.sweep(t)
	assert.Equal(t, []string{"bob"}, h.fetcher.calls)
}

func TestSweep_PurgesStaleLinksWhenValid(t *testing.T) {
	h := newHarness(t, nil)
	h.sweep(t)

	// carol moves her link from bob to alice: the chain shortens but stays
	// valid, and the old link is purged.
	h.fetcher.set("carol", "alice")
	h.advance(2 * time.Minute)
	report := h.sweep(t)

	assert.True(t, report.View.BestValid)
	assert.Equal(t, 1, report.Purged)
	assert.Equal(t, links.Absent, h.store.st.Matrix.Get("3", "2"))
	assert.Equal(t, links.Real, h.store.st.Matrix.Get("3", "1"))
}

func TestSweep_PrunesDisabledUnreachable(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.st.Registry.Put(registry.Participant{ID: "9", Username: "ghost", Disabled: true}))
	require.NoError(t, h.store.st.Registry.Put(registry.Participant{ID: "8", Username: "dora", Disabled: true}))
	// dora is disabled but still reachable from the anchor.
	h.store.st.Matrix.Set("8", "1", links.Real)

	report := h.sweep(t)

	assert.Equal(t, []string{"9"}, report.Pruned)
	_, ok := h.store.st.Registry.Get("9")
	assert.False(t, ok)
	_, ok = h.store.st.Registry.Get("8")
	assert.True(t, ok)
}

func TestSweep_RenameAnnouncement(t *testing.T) {
	h := newHarness(t, nil)
	h.sweep(t)

	change, err := h.engine.Rename(context.Background(), "@bob", "bobby")
	require.NoError(t, err)
	assert.Equal(t, registry.NameChange{ID: "2", Previous: "bob", Current: "bobby"}, change)
	assert.Len(t, h.store.st.NameChanges, 1)

	// carol still links to @bob, which no longer resolves.
	h.fetcher.set("bobby", "alice")
	h.advance(2 * time.Minute)
	report := h.sweep(t)

	assert.Equal(t, links.Stale, h.store.st.Matrix.Get("3", "2"))
	require.NotEmpty(t, h.pub.announcements)
	assert.Equal(t,
		"∙ @bob has changed their username to @bobby\n    ∘ @carol should update their bio because of this",
		h.pub.announcements[0])
	assert.Empty(t, h.store.st.NameChanges, "announced renames are cleared")
	assert.Contains(t, chain.Texts(report.Notices), "@carol might want to remove their unnecessary link to @Bob")
}

func TestSweep_DryRun(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.DryRun = true })

	report := h.sweep(t)

	assert.True(t, report.Changed)
	assert.False(t, report.Published)
	assert.Empty(t, h.pub.chains)
	assert.Empty(t, h.store.st.LastChain, "a dry run leaves the chain unpublished")
}

func TestSweep_PublishFailureRetriesNextTime(t *testing.T) {
	h := newHarness(t, nil)
	h.pub.err = errors.New("store closed")

	report := h.sweep(t)
	assert.False(t, report.Published)
	assert.Equal(t, "store closed", report.PublishErr)
	assert.Empty(t, h.store.st.LastChain)
	assert.Equal(t, "publish: store closed", h.history.records[0].Error)

	h.pub.err = nil
	report = h.sweep(t)
	assert.True(t, report.Published)
}

func TestSweep_LengthWarning(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.WarnLength = 10
		o.MaxMessageLength = 100
	})

	h.sweep(t)

	require.NotEmpty(t, h.pub.announcements)
	assert.Contains(t, h.pub.announcements[0], "approaching the message length limit")
	assert.Len(t, h.pub.chains, 1)
}

func TestSweep_BudgetExceeded(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Budget = chain.Budget{MaxExpansions: 1} })

	_, err := h.engine.Sweep(context.Background())

	require.Error(t, err)
	assert.True(t, cwerrors.HasCode(err, cwerrors.BudgetExceeded))
	require.Len(t, h.history.records, 1)
	assert.NotEmpty(t, h.history.records[0].Error)
	// Scanned links are kept even though the search failed.
	assert.Equal(t, links.Real, h.store.st.Matrix.Get("2", "1"))
}

func TestView_CachedUntilMutation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.sweep(t)

	v1, err := h.engine.View(ctx)
	require.NoError(t, err)
	v2, err := h.engine.View(ctx)
	require.NoError(t, err)
	assert.Same(t, v1, v2)

	require.NoError(t, h.engine.SetLink(ctx, "carol", "alice", links.Real))
	v3, err := h.engine.View(ctx)
	require.NoError(t, err)
	assert.NotSame(t, v1, v3)
	assert.Contains(t, chain.Texts(v3.Notices), "@carol should remove their unnecessary link to @alice")
	assert.Equal(t, []Link{
		{ID: "1", Name: "@alice", Valid: true},
		{ID: "2", Name: "@bob", Valid: true},
		{ID: "3", Name: "@carol", Valid: true},
	}, v3.Links)
}

func TestAdmin_Participants(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.AddParticipant(ctx, "4", "@dave"))
	assert.Error(t, h.engine.AddParticipant(ctx, "4", "dave2"), "duplicate id")
	assert.Error(t, h.engine.AddParticipant(ctx, "5", "DAVE"), "duplicate username")

	p, err := h.engine.Lookup(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, "4", p.ID)

	_, err = h.engine.Lookup(ctx, "nobody")
	assert.True(t, cwerrors.HasCode(err, cwerrors.ParticipantNotFound))

	p, err = h.engine.SetDisabled(ctx, "4", true)
	require.NoError(t, err)
	assert.True(t, p.Disabled)

	removed, err := h.engine.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, removed)

	all, err := h.engine.Participants(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAdmin_RenameRejectsTakenUsername(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.Rename(ctx, "2", "ALICE")
	assert.Error(t, err)

	p, err := h.engine.Lookup(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "bob", p.Username)

	st, err := h.engine.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", st.Registry.TranslationTable()["alice"])
	assert.Empty(t, st.NameChanges)

	change, err := h.engine.Rename(ctx, "@bob", "Bob")
	require.NoError(t, err, "changing the case of one's own name")
	assert.Equal(t, "bob", change.Previous)
}

func TestAdmin_ImportSeedAndLinks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	added, err := h.engine.ImportSeed(ctx, &registry.Seed{Participants: []registry.Participant{
		{ID: "3", Username: "carol"},
		{ID: "6", Username: "erin"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	require.NoError(t, h.engine.SetLink(ctx, "erin", "carol", links.Stale))
	assert.Error(t, h.engine.SetLink(ctx, "erin", "erin", links.Real))
	assert.Error(t, h.engine.SetLink(ctx, "erin", "zed", links.Real))

	lists, err := h.engine.Links(ctx)
	require.NoError(t, err)
	assert.Equal(t, []links.IncomingList{{Participant: "3", Links: []string{"~6"}}}, lists)
}

func TestApplyMentions(t *testing.T) {
	m := links.NewMatrix()
	table := map[string]string{"alice": "1", "bob": "2"}

	resolved, unresolved := ApplyMentions(m, "2", []string{"Alice", "bob", "stranger"}, table)

	assert.Equal(t, []string{"1"}, resolved)
	assert.Equal(t, []string{"stranger"}, unresolved)
	assert.Equal(t, links.Real, m.Get("2", "1"))
	assert.Equal(t, links.Absent, m.Get("2", "2"), "self mentions are ignored")
}

func TestGroupNotices(t *testing.T) {
	groups := groupNotices([]chain.Notice{
		{Text: "a"},
		{Text: "a1", Nested: true},
		{Text: "b"},
		{Text: "orphan", Nested: true},
	})
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 2)
}
