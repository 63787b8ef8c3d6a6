package registry

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Seed is the on-disk roster format used to bootstrap a registry:
//
//	[[participant]]
//	id = "51863899"
//	username = "anchor_user"
//	joined = 2019-03-01T12:00:00Z
type Seed struct {
	Participants []Participant `toml:"participant"`
}

// LoadSeed reads a roster file.
func LoadSeed(path string) (*Seed, error) {
	var seed Seed
	meta, err := toml.DecodeFile(path, &seed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse roster %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("roster %s has unknown keys: %v", path, undecoded)
	}
	return &seed, nil
}

// Apply merges the seed into the registry. Existing participants keep their
// join time and scan state unless the seed sets a join time. It returns the
// number of participants added.
func (s *Seed) Apply(r *Registry) (int, error) {
	added := 0
	for _, p := range s.Participants {
		existing, ok := r.Get(p.ID)
		if ok {
			existing.Username = p.Username
			existing.Disabled = p.Disabled
			if !p.JoinedAt.IsZero() {
				existing.JoinedAt = p.JoinedAt
			}
			p = existing
		} else {
			added++
		}
		if err := r.Put(p); err != nil {
			return added, err
		}
	}
	return added, nil
}
