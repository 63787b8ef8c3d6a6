package sweep

import (
	"context"
	"slices"
	"time"

	"chainwatch/internal/chain"
	"chainwatch/internal/links"
	"chainwatch/internal/storage"
)

// Link is one step of the displayed chain.
type Link struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	// Valid reports whether this participant's link toward the anchor is
	// Real. It is always true for the anchor.
	Valid bool `json:"valid" yaml:"valid"`
}

// View is the published picture of the chain at one point in time.
type View struct {
	Anchor     string         `json:"anchor" yaml:"anchor"`
	Best       chain.Chain    `json:"best" yaml:"best"`
	Links      []Link         `json:"links" yaml:"links"`
	Valid      int            `json:"valid" yaml:"valid"`
	Broken     int            `json:"broken" yaml:"broken"`
	Unbroken   int            `json:"unbroken" yaml:"unbroken"`
	BestValid  bool           `json:"bestValid" yaml:"bestValid"`
	Branches   int            `json:"branches" yaml:"branches"`
	Text       string         `json:"text" yaml:"text"`
	Summary    string         `json:"summary" yaml:"summary"`
	Notices    []chain.Notice `json:"notices,omitempty" yaml:"notices,omitempty"`
	Stats      chain.Stats    `json:"stats" yaml:"stats"`
	ComputedAt time.Time      `json:"computedAt" yaml:"computedAt"`
}

func buildView(res *chain.Result, st *storage.State, anchor string, now time.Time) *View {
	m, reg := st.Matrix, st.Registry
	v := &View{
		Anchor:     anchor,
		Best:       slices.Clone(res.Best),
		Valid:      res.Valid,
		Broken:     res.Broken,
		Unbroken:   chain.UnbrokenLength(res.Best, m),
		BestValid:  res.BestValid,
		Branches:   len(res.Branches),
		Text:       chain.Stringify(res.Best, m, reg, true),
		Summary:    chain.Summary(res.Best, m, reg),
		Stats:      res.Stats,
		ComputedAt: now,
	}
	v.Links = make([]Link, len(res.Best))
	for i, id := range res.Best {
		valid := i == 0 || m.Get(id, res.Best[i-1]) == links.Real
		v.Links[i] = Link{ID: id, Name: reg.DisplayName(id), Valid: valid}
	}
	v.Notices = append(chain.Diagnose(res, m, reg), UnresolvedMentions(res.Best, reg)...)
	return v
}

// View returns the current chain. The result of the last sweep is reused
// until something changes; otherwise the chain is searched on a snapshot.
func (e *Engine) View(ctx context.Context) (*View, error) {
	e.mu.Lock()
	if err := e.ensureLoaded(ctx); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if e.view != nil {
		v := e.view
		e.mu.Unlock()
		return v, nil
	}
	snap := e.state.Clone()
	gen := e.gen
	e.mu.Unlock()

	now := e.now()
	res, err := chain.Search(ctx, snap.Matrix, snap.Registry, e.opts.Anchor, e.opts.Budget)
	if err != nil {
		return nil, err
	}
	v := buildView(res, snap, e.opts.Anchor, now)

	e.mu.Lock()
	if e.gen == gen {
		e.view = v
	}
	e.mu.Unlock()
	return v, nil
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot(ctx context.Context) (*storage.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return e.state.Clone(), nil
}
