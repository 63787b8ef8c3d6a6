package sweep

import (
	"context"
	"fmt"
	"strings"

	"chainwatch/internal/chain"
	cwerrors "chainwatch/internal/errors"
	"chainwatch/internal/links"
	"chainwatch/internal/registry"
	"chainwatch/internal/storage"
)

// mutate applies fn to the loaded state and saves it.
func (e *Engine) mutate(ctx context.Context, fn func(st *storage.State) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := fn(e.state); err != nil {
		return err
	}
	e.invalidate()
	return e.save(ctx)
}

func notFound(ref string) error {
	return cwerrors.NewError(cwerrors.ParticipantNotFound,
		fmt.Sprintf("no participant with id or username %q", ref), nil, map[string]string{"ref": ref})
}

// Participants lists every participant.
func (e *Engine) Participants(ctx context.Context) ([]registry.Participant, error) {
	st, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return st.Registry.List(), nil
}

// Lookup resolves an id or username.
func (e *Engine) Lookup(ctx context.Context, ref string) (registry.Participant, error) {
	st, err := e.Snapshot(ctx)
	if err != nil {
		return registry.Participant{}, err
	}
	p, ok := st.Registry.Lookup(ref)
	if !ok {
		return registry.Participant{}, notFound(ref)
	}
	return p, nil
}

// AddParticipant registers a new participant. Its profile is scanned on
// the next sweep.
func (e *Engine) AddParticipant(ctx context.Context, id, username string) error {
	username = strings.TrimPrefix(username, "@")
	return e.mutate(ctx, func(st *storage.State) error {
		if _, exists := st.Registry.Get(id); exists {
			return fmt.Errorf("participant %s already exists", id)
		}
		if username != "" {
			if other, taken := st.Registry.FindByUsername(username); taken {
				return fmt.Errorf("username @%s already belongs to %s", username, other.ID)
			}
		}
		return st.Registry.Put(registry.Participant{ID: id, Username: username})
	})
}

// Rename changes a participant's username and queues the announcement for
// the next sweep. An empty username records its removal.
func (e *Engine) Rename(ctx context.Context, ref, username string) (registry.NameChange, error) {
	username = strings.TrimPrefix(username, "@")
	var change registry.NameChange
	err := e.mutate(ctx, func(st *storage.State) error {
		p, ok := st.Registry.Lookup(ref)
		if !ok {
			return notFound(ref)
		}
		if username != "" {
			if other, taken := st.Registry.FindByUsername(username); taken && other.ID != p.ID {
				return fmt.Errorf("username @%s already belongs to %s", username, other.ID)
			}
		}
		previous, changed, err := st.Registry.Rename(p.ID, username)
		if err != nil {
			return err
		}
		change = registry.NameChange{ID: p.ID, Previous: previous, Current: username}
		if changed {
			st.NameChanges = append(st.NameChanges, change)
			// Force a rescan so links to the new name are picked up.
			st.Registry.Touch(p.ID, e.now(), 0)
		}
		return nil
	})
	return change, err
}

// SetDisabled enables or disables a participant.
func (e *Engine) SetDisabled(ctx context.Context, ref string, disabled bool) (registry.Participant, error) {
	var out registry.Participant
	err := e.mutate(ctx, func(st *storage.State) error {
		p, ok := st.Registry.Lookup(ref)
		if !ok {
			return notFound(ref)
		}
		if err := st.Registry.SetDisabled(p.ID, disabled); err != nil {
			return err
		}
		out, _ = st.Registry.Get(p.ID)
		return nil
	})
	return out, err
}

// Prune removes disabled participants that are neither in the best chain
// nor reachable from the anchor, regardless of chain validity.
func (e *Engine) Prune(ctx context.Context) ([]string, error) {
	var removed []string
	err := e.mutate(ctx, func(st *storage.State) error {
		res, err := chain.Search(ctx, st.Matrix, st.Registry, e.opts.Anchor, e.opts.Budget)
		if err != nil {
			return err
		}
		removed = prune(st, e.opts.Anchor, res.Best)
		return nil
	})
	return removed, err
}

// ImportSeed merges a roster into the registry and returns how many
// participants were added.
func (e *Engine) ImportSeed(ctx context.Context, seed *registry.Seed) (int, error) {
	var added int
	err := e.mutate(ctx, func(st *storage.State) error {
		var err error
		added, err = seed.Apply(st.Registry)
		return err
	})
	return added, err
}

// SetLink overrides one link. Both ends must be known participants.
func (e *Engine) SetLink(ctx context.Context, sourceRef, targetRef string, s links.State) error {
	return e.mutate(ctx, func(st *storage.State) error {
		source, ok := st.Registry.Lookup(sourceRef)
		if !ok {
			return notFound(sourceRef)
		}
		target, ok := st.Registry.Lookup(targetRef)
		if !ok {
			return notFound(targetRef)
		}
		if source.ID == target.ID {
			return fmt.Errorf("a participant cannot link to itself")
		}
		st.Matrix.Set(source.ID, target.ID, s)
		return nil
	})
}

// Links returns the persisted form of every incoming link list.
func (e *Engine) Links(ctx context.Context) ([]links.IncomingList, error) {
	st, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return links.Encode(st.Matrix), nil
}

// Restore replaces the whole state, for example from a backup.
func (e *Engine) Restore(ctx context.Context, st *storage.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = st.Clone()
	e.invalidate()
	return e.save(ctx)
}
