// Package registry keeps the participants of the chain game: their current
// usernames, when they joined the best chain, and whether they take part.
package registry

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Participant is one player. ID is stable; Username may change or vanish.
type Participant struct {
	ID        string    `json:"id" yaml:"id" toml:"id"`
	Username  string    `json:"username,omitempty" yaml:"username,omitempty" toml:"username"`
	Disabled  bool      `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled"`
	JoinedAt  time.Time `json:"joinedAt,omitzero" yaml:"joinedAt,omitempty" toml:"joined"`
	ExpiresAt time.Time `json:"expiresAt,omitzero" yaml:"expiresAt,omitempty" toml:"-"`
	Mentions  []string  `json:"mentions,omitempty" yaml:"mentions,omitempty" toml:"-"`
}

// DisplayName renders the participant for announcements.
func (p Participant) DisplayName() string {
	if p.Username == "" {
		return fmt.Sprintf("[no username: %s]", p.ID)
	}
	return "@" + p.Username
}

// Joined reports whether the participant has ever been in the best chain.
func (p Participant) Joined() bool {
	return !p.JoinedAt.IsZero()
}

// Registry holds participants in insertion order. It is not safe for
// concurrent use.
type Registry struct {
	byID  map[string]*Participant
	order []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*Participant)}
}

// Put inserts or replaces a participant.
func (r *Registry) Put(p Participant) error {
	if p.ID == "" {
		return fmt.Errorf("participant without id")
	}
	if _, ok := r.byID[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	cp := p
	cp.Mentions = slices.Clone(p.Mentions)
	r.byID[p.ID] = &cp
	return nil
}

// Get returns a copy of the participant.
func (r *Registry) Get(id string) (Participant, bool) {
	p, ok := r.byID[id]
	if !ok {
		return Participant{}, false
	}
	cp := *p
	cp.Mentions = slices.Clone(p.Mentions)
	return cp, true
}

// Len returns the number of participants.
func (r *Registry) Len() int {
	return len(r.order)
}

// List returns copies of all participants in insertion order.
func (r *Registry) List() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		p, _ := r.Get(id)
		out = append(out, p)
	}
	return out
}

// Remove deletes a participant and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	return true
}

// Rename sets a new username and returns the previous one. changed is false
// when the name is the same, ignoring case.
func (r *Registry) Rename(id, username string) (previous string, changed bool, err error) {
	p, ok := r.byID[id]
	if !ok {
		return "", false, fmt.Errorf("unknown participant %s", id)
	}
	previous = p.Username
	if strings.EqualFold(previous, username) {
		p.Username = username
		return previous, false, nil
	}
	p.Username = username
	return previous, true, nil
}

// SetDisabled enables or disables a participant.
func (r *Registry) SetDisabled(id string, disabled bool) error {
	p, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("unknown participant %s", id)
	}
	p.Disabled = disabled
	return nil
}

// MarkJoined records the join time once. It reports whether it was set.
func (r *Registry) MarkJoined(id string, at time.Time) bool {
	p, ok := r.byID[id]
	if !ok || p.Joined() {
		return false
	}
	p.JoinedAt = at
	return true
}

// SetMentions stores the raw mentions last scraped from the profile and
// returns the previous ones.
func (r *Registry) SetMentions(id string, mentions []string) []string {
	p, ok := r.byID[id]
	if !ok {
		return nil
	}
	previous := p.Mentions
	p.Mentions = slices.Clone(mentions)
	return previous
}

// Touch pushes the participant's next rescan to now+ttl.
func (r *Registry) Touch(id string, now time.Time, ttl time.Duration) {
	if p, ok := r.byID[id]; ok {
		p.ExpiresAt = now.Add(ttl)
	}
}

// Due returns enabled participants with a username whose rescan time has
// passed.
func (r *Registry) Due(now time.Time) []Participant {
	var out []Participant
	for _, id := range r.order {
		p := r.byID[id]
		if p.Disabled || p.Username == "" || p.ExpiresAt.After(now) {
			continue
		}
		cp, _ := r.Get(id)
		out = append(out, cp)
	}
	return out
}

// TranslationTable maps lower-cased usernames of enabled participants to
// their ids.
func (r *Registry) TranslationTable() map[string]string {
	table := make(map[string]string, len(r.order))
	for _, id := range r.order {
		p := r.byID[id]
		if p.Disabled || p.Username == "" {
			continue
		}
		table[strings.ToLower(p.Username)] = id
	}
	return table
}

// FindByUsername looks up a participant by username, ignoring case and a
// leading @.
func (r *Registry) FindByUsername(username string) (Participant, bool) {
	name := strings.TrimPrefix(username, "@")
	for _, id := range r.order {
		if strings.EqualFold(r.byID[id].Username, name) {
			return r.Get(id)
		}
	}
	return Participant{}, false
}

// Lookup resolves an id or username.
func (r *Registry) Lookup(ref string) (Participant, bool) {
	if p, ok := r.Get(ref); ok {
		return p, true
	}
	return r.FindByUsername(ref)
}

// Active reports whether id is known and enabled.
func (r *Registry) Active(id string) bool {
	p, ok := r.byID[id]
	return ok && !p.Disabled
}

// JoinedAt returns the join time if set.
func (r *Registry) JoinedAt(id string) (time.Time, bool) {
	p, ok := r.byID[id]
	if !ok || !p.Joined() {
		return time.Time{}, false
	}
	return p.JoinedAt, true
}

// DisplayName renders id, falling back to the bare id for unknown
// participants.
func (r *Registry) DisplayName(id string) string {
	p, ok := r.byID[id]
	if !ok {
		return fmt.Sprintf("[no username: %s]", id)
	}
	return p.DisplayName()
}

// Clone returns an independent copy.
func (r *Registry) Clone() *Registry {
	c := New()
	for _, id := range r.order {
		p, _ := r.Get(id)
		_ = c.Put(p)
	}
	return c
}

// NameChange is a rename waiting to be announced.
type NameChange struct {
	ID       string `json:"id" yaml:"id"`
	Previous string `json:"previous,omitempty" yaml:"previous,omitempty"`
	Current  string `json:"current,omitempty" yaml:"current,omitempty"`
}
