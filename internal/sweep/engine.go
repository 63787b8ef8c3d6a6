// Package sweep runs one polling cycle over the chain: rescan expired
// profiles, update links, search for the best chain, publish it when it
// changed, and tidy up links and participants that no longer matter.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"chainwatch/internal/chain"
	cwerrors "chainwatch/internal/errors"
	"chainwatch/internal/links"
	"chainwatch/internal/scrape"
	"chainwatch/internal/storage"
)

// Store loads and saves the persistent state.
type Store interface {
	Load(ctx context.Context) (*storage.State, error)
	Save(ctx context.Context, st *storage.State) error
}

// History records finished sweeps. It may be nil.
type History interface {
	Record(ctx context.Context, rec *storage.SweepRecord) error
}

// Publisher delivers the chain and announcements. It may be nil, which
// behaves like a dry run.
type Publisher interface {
	PublishChain(ctx context.Context, text string, optimal bool) error
	Announce(ctx context.Context, text string) error
}

// Observer is told about every sweep. It may be nil.
type Observer interface {
	ObserveSweep(report *Report, err error)
}

// Options configure the engine.
type Options struct {
	Anchor           string
	RescanAfter      time.Duration
	Concurrency      int
	Budget           chain.Budget
	DryRun           bool
	MaxMessageLength int
	WarnLength       int
	PruneDisabled    bool
}

// Report describes one sweep.
type Report struct {
	ID         string         `json:"id" yaml:"id"`
	StartedAt  time.Time      `json:"startedAt" yaml:"startedAt"`
	EndedAt    time.Time      `json:"endedAt" yaml:"endedAt"`
	Scanned    int            `json:"scanned" yaml:"scanned"`
	Failed     int            `json:"failed" yaml:"failed"`
	Downgraded int            `json:"downgraded" yaml:"downgraded"`
	Changed    bool           `json:"changed" yaml:"changed"`
	Published  bool           `json:"published" yaml:"published"`
	Purged     int            `json:"purged" yaml:"purged"`
	Pruned     []string       `json:"pruned,omitempty" yaml:"pruned,omitempty"`
	Notices    []chain.Notice `json:"notices,omitempty" yaml:"notices,omitempty"`
	View       *View          `json:"view,omitempty" yaml:"view,omitempty"`
	PublishErr string         `json:"publishError,omitempty" yaml:"publishError,omitempty"`
}

// Engine owns the participant registry and link matrix. Sweeps and
// mutations are serialized; readers work on snapshots.
type Engine struct {
	opts      Options
	store     Store
	history   History
	fetcher   scrape.Fetcher
	publisher Publisher
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	state *storage.State
	view  *View
	gen   uint64 // bumped whenever state changes
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Store     Store
	History   History
	Fetcher   scrape.Fetcher
	Publisher Publisher
	Observer  Observer
	Logger    *slog.Logger
}

// New creates an engine. State is loaded lazily on first use.
func New(opts Options, deps Deps) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Engine{
		opts:      opts,
		store:     deps.Store,
		history:   deps.History,
		fetcher:   deps.Fetcher,
		publisher: deps.Publisher,
		observer:  deps.Observer,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// ensureLoaded loads state if needed. The caller holds the write lock.
func (e *Engine) ensureLoaded(ctx context.Context) error {
	if e.state != nil {
		return nil
	}
	st, err := e.store.Load(ctx)
	if err != nil {
		return cwerrors.NewError(cwerrors.StorageFailure, "failed to load state", err, nil)
	}
	e.state = st
	return nil
}

// invalidate drops the cached view. The caller holds the lock.
func (e *Engine) invalidate() {
	e.view = nil
	e.gen++
}

func (e *Engine) save(ctx context.Context) error {
	if err := e.store.Save(ctx, e.state); err != nil {
		return cwerrors.NewError(cwerrors.StorageFailure, "failed to save state", err, nil)
	}
	return nil
}

// Sweep runs one cycle.
func (e *Engine) Sweep(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := &Report{ID: uuid.NewString(), StartedAt: e.now()}
	err := e.sweep(ctx, report)
	report.EndedAt = e.now()

	if err != nil {
		e.logger.Error("Sweep failed", "sweepId", report.ID, "error", err.Error())
	} else {
		e.logger.Info("Sweep finished",
			"sweepId", report.ID,
			"scanned", report.Scanned,
			"failed", report.Failed,
			"length", len(report.View.Best),
			"valid", report.View.BestValid,
			"changed", report.Changed,
			"purged", report.Purged,
			"duration", report.EndedAt.Sub(report.StartedAt).String(),
		)
	}
	e.record(ctx, report, err)
	if e.observer != nil {
		e.observer.ObserveSweep(report, err)
	}
	return report, err
}

func (e *Engine) sweep(ctx context.Context, report *Report) error {
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}
	st := e.state
	now := report.StartedAt

	e.invalidate()
	if err := e.rescan(ctx, now, report); err != nil {
		return err
	}

	res, err := chain.Search(ctx, st.Matrix, st.Registry, e.opts.Anchor, e.opts.Budget)
	if err != nil {
		// Links learned by the rescan are still worth keeping.
		if saveErr := e.save(ctx); saveErr != nil {
			e.logger.Warn("Failed to save state after search error", "error", saveErr.Error())
		}
		return err
	}
	for _, id := range res.Best {
		st.Registry.MarkJoined(id, now)
	}

	view := buildView(res, st, e.opts.Anchor, now)
	report.View = view
	report.Notices = view.Notices

	renames := NameChangeNotices(st.NameChanges, res.Best, st.Matrix, st.Registry)
	if len(renames) > 0 {
		if e.announce(ctx, renames, report) {
			st.NameChanges = nil
		}
	}

	if view.Text != st.LastChain {
		report.Changed = true
		if e.publish(ctx, view, report) {
			st.LastChain = view.Text
		}
	}

	if res.BestValid {
		report.Purged = st.Matrix.ReplaceAll(links.Stale, links.Absent)
		if report.Purged > 0 {
			e.logger.Info("Purged stale links", "count", report.Purged)
		}
		if e.opts.PruneDisabled {
			report.Pruned = prune(st, e.opts.Anchor, res.Best)
			if len(report.Pruned) > 0 {
				e.logger.Info("Pruned participants", "ids", report.Pruned)
			}
		}
	}

	if err := e.save(ctx); err != nil {
		return err
	}
	e.view = view
	return nil
}

// rescan fetches every due profile and replaces its outgoing links. A
// source whose fetch failed keeps its links untouched.
func (e *Engine) rescan(ctx context.Context, now time.Time, report *Report) error {
	st := e.state
	due := st.Registry.Due(now)
	if len(due) == 0 || e.fetcher == nil {
		return nil
	}

	usernames := make(map[string]string, len(due))
	for _, p := range due {
		usernames[p.ID] = p.Username
	}
	results, err := scrape.FetchAll(ctx, e.fetcher, usernames, e.opts.Concurrency)
	if err != nil {
		return err
	}

	table := st.Registry.TranslationTable()
	for _, p := range due {
		if fetchErr, failed := results.Failures[p.ID]; failed {
			report.Failed++
			e.logger.Warn("Profile fetch failed", "participant", p.ID, "username", p.Username, "error", fetchErr.Error())
			continue
		}
		mentions := results.Mentions[p.ID]
		report.Scanned++
		report.Downgraded += st.Matrix.Downgrade(p.ID)
		resolved, unresolved := ApplyMentions(st.Matrix, p.ID, mentions, table)
		st.Registry.SetMentions(p.ID, mentions)
		st.Registry.Touch(p.ID, now, e.opts.RescanAfter)
		e.logger.Debug("Profile scanned",
			"participant", p.ID,
			"links", len(resolved),
			"unresolved", len(unresolved),
		)
	}
	return nil
}

// publish sends the chain and its notices. It reports whether the chain
// went out, so an unpublished text is retried next sweep.
func (e *Engine) publish(ctx context.Context, view *View, report *Report) bool {
	if e.opts.DryRun || e.publisher == nil {
		e.logger.Info("Chain changed (dry run)", "length", len(view.Best), "summary", view.Summary)
		return false
	}

	var warning []chain.Notice
	length := utf8.RuneCountInString(view.Text)
	if e.opts.WarnLength > 0 && length >= e.opts.WarnLength {
		pct := 100 * float64(length) / float64(max(e.opts.MaxMessageLength, 1))
		warning = append(warning, chain.Notice{
			Kind: chain.NoticeLength,
			Text: fmt.Sprintf("Warning: The chain is approaching the message length limit (%.1f%%)", pct),
		})
	}
	if len(warning) > 0 && !e.announce(ctx, warning, report) {
		return false
	}

	if err := e.publisher.PublishChain(ctx, view.Text, view.BestValid); err != nil {
		report.PublishErr = err.Error()
		e.logger.Error("Failed to publish chain", "error", err.Error())
		return false
	}
	report.Published = true
	e.logger.Info("Chain has been updated", "optimal", view.BestValid, "summary", view.Summary)

	e.announce(ctx, view.Notices, report)
	return true
}

// announce sends each notice group as one message.
func (e *Engine) announce(ctx context.Context, notices []chain.Notice, report *Report) bool {
	if e.opts.DryRun || e.publisher == nil {
		for _, n := range notices {
			e.logger.Info("Announcement (dry run)", "text", n.Text)
		}
		return false
	}
	for _, group := range groupNotices(notices) {
		if err := e.publisher.Announce(ctx, chain.FormatNotices(group)); err != nil {
			report.PublishErr = err.Error()
			e.logger.Error("Failed to announce", "error", err.Error())
			return false
		}
	}
	return true
}

// prune removes disabled participants that are neither in best nor
// reachable from the anchor, and forgets their links.
func prune(st *storage.State, anchor string, best chain.Chain) []string {
	reachable := chain.Reachable(st.Matrix, anchor)
	var removed []string
	for _, p := range st.Registry.List() {
		if !p.Disabled || best.Contains(p.ID) {
			continue
		}
		if _, ok := reachable[p.ID]; ok {
			continue
		}
		st.Registry.Remove(p.ID)
		st.Matrix.ForgetParticipant(p.ID)
		removed = append(removed, p.ID)
	}
	return removed
}

func (e *Engine) record(ctx context.Context, report *Report, err error) {
	if e.history == nil {
		return
	}
	rec := &storage.SweepRecord{
		ID:        report.ID,
		StartedAt: report.StartedAt,
		EndedAt:   report.EndedAt,
		Scanned:   report.Scanned,
		Failed:    report.Failed,
		Purged:    report.Purged,
		Pruned:    len(report.Pruned),
		Published: report.Published,
	}
	if report.View != nil {
		rec.ChainLength = len(report.View.Best)
		rec.UnbrokenLength = report.View.Unbroken
		rec.BestValid = report.View.BestValid
	}
	if err != nil {
		rec.Error = err.Error()
	} else if report.PublishErr != "" {
		rec.Error = "publish: " + report.PublishErr
	}
	if recErr := e.history.Record(context.WithoutCancel(ctx), rec); recErr != nil {
		e.logger.Warn("Failed to record sweep", "sweepId", report.ID, "error", recErr.Error())
	}
}
