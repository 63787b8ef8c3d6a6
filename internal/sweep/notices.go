package sweep

import (
	"fmt"
	"strings"

	"chainwatch/internal/chain"
	"chainwatch/internal/links"
	"chainwatch/internal/registry"
)

// ApplyMentions records the mentions scraped from source's profile as Real
// links. table maps lower-cased usernames to ids. Mentions of source itself
// are ignored; mentions nobody answers to are returned as unresolved.
func ApplyMentions(m *links.Matrix, source string, mentions []string, table map[string]string) (resolved, unresolved []string) {
	for _, name := range mentions {
		target, ok := table[strings.ToLower(name)]
		if !ok {
			unresolved = append(unresolved, name)
			continue
		}
		if target == source {
			continue
		}
		m.Set(source, target, links.Real)
		resolved = append(resolved, target)
	}
	return resolved, unresolved
}

// UnresolvedMentions advises chain members to drop mentions of usernames
// that belong to no enabled participant.
func UnresolvedMentions(best chain.Chain, reg *registry.Registry) []chain.Notice {
	table := reg.TranslationTable()
	var out []chain.Notice
	for _, id := range best {
		p, ok := reg.Get(id)
		if !ok {
			continue
		}
		for _, name := range p.Mentions {
			if _, known := table[strings.ToLower(name)]; known {
				continue
			}
			out = append(out, chain.Notice{
				Kind:    chain.NoticeRedundantLink,
				Subject: id,
				Text:    fmt.Sprintf("%s might want to remove their unnecessary link to @%s", p.DisplayName(), name),
			})
		}
	}
	return out
}

// NameChangeNotices announces renames. When the renamed participant is in
// best and the participant linking to them no longer has a Real link, that
// participant is asked to update their profile.
func NameChangeNotices(changes []registry.NameChange, best chain.Chain, m *links.Matrix, reg *registry.Registry) []chain.Notice {
	var out []chain.Notice
	for _, c := range changes {
		switch {
		case c.Current == "" && c.Previous != "":
			out = append(out, chain.Notice{
				Kind:    chain.NoticeUsername,
				Subject: c.ID,
				Text:    fmt.Sprintf("@%s (%s) has removed their username", c.Previous, reg.DisplayName(c.ID)),
			})
		case c.Current != "" && c.Previous != "":
			out = append(out, chain.Notice{
				Kind:    chain.NoticeUsername,
				Subject: c.ID,
				Text:    fmt.Sprintf("@%s has changed their username to @%s", c.Previous, c.Current),
			})
		default:
			continue
		}

		for i := 0; i+1 < len(best); i++ {
			if best[i] != c.ID {
				continue
			}
			linker := best[i+1]
			if m.Get(linker, c.ID) != links.Real {
				out = append(out, chain.Notice{
					Kind:    chain.NoticeUsername,
					Subject: linker,
					Text:    fmt.Sprintf("%s should update their bio because of this", reg.DisplayName(linker)),
					Nested:  true,
				})
			}
			break
		}
	}
	return out
}

// groupNotices splits notices into announcements: each top-level notice
// together with the nested notices that follow it.
func groupNotices(notices []chain.Notice) [][]chain.Notice {
	var groups [][]chain.Notice
	for _, n := range notices {
		if n.Nested && len(groups) > 0 {
			last := len(groups) - 1
			groups[last] = append(groups[last], n)
			continue
		}
		groups = append(groups, []chain.Notice{n})
	}
	return groups
}
