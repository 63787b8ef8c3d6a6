package chain

import (
	"fmt"
	"strings"

	"chainwatch/internal/links"
)

// NoticeKind classifies an advisory line.
type NoticeKind string

const (
	NoticeBrokenLink    NoticeKind = "broken_link"
	NoticeRelink        NoticeKind = "relink"
	NoticeBranchMerge   NoticeKind = "branch_merge"
	NoticeRedundantLink NoticeKind = "redundant_link"
	NoticeUsername      NoticeKind = "username"
	NoticeLength        NoticeKind = "length"
)

// Notice is one advisory line addressed to a participant. Nested notices
// follow up on the notice before them.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Subject string     `json:"subject"`
	Text    string     `json:"text"`
	Nested  bool       `json:"nested,omitempty"`
}

const (
	bullet       = "∙ "
	nestedBullet = "    ∘ "
)

// FormatNotices renders notices one per line with bullets.
func FormatNotices(notices []Notice) string {
	lines := make([]string, len(notices))
	for i, n := range notices {
		if n.Nested {
			lines[i] = nestedBullet + n.Text
		} else {
			lines[i] = bullet + n.Text
		}
	}
	return strings.Join(lines, "\n")
}

// Texts returns the bare text of each notice.
func Texts(notices []Notice) []string {
	out := make([]string, len(notices))
	for i, n := range notices {
		out[i] = n.Text
	}
	return out
}

// BrokenLinks reports every link in best that is not Real. Participants
// with a Real link into the broken participant are told to skip over it.
func BrokenLinks(best Chain, m *links.Matrix, dir Directory) []Notice {
	var out []Notice
	for i := 1; i < len(best); i++ {
		target, source := best[i-1], best[i]
		if m.Get(source, target) == links.Real {
			continue
		}
		out = append(out, Notice{
			Kind:    NoticeBrokenLink,
			Subject: source,
			Text: fmt.Sprintf("%s has no valid link (should point to %s)",
				dir.DisplayName(source), dir.DisplayName(target)),
		})
		for other := range m.Incoming(source, links.Is(links.Real)) {
			if other == target || !dir.Active(other) {
				continue
			}
			out = append(out, Notice{
				Kind:    NoticeRelink,
				Subject: other,
				Text: fmt.Sprintf("%s might want to link to %s instead of %s",
					dir.DisplayName(other), dir.DisplayName(target), dir.DisplayName(source)),
				Nested: true,
			})
		}
	}
	return out
}

// BranchMerges suggests how branches can rejoin the end of the best chain.
// Each accepted suggestion moves the head to the end of that branch so the
// next branch is appended after it.
func BranchMerges(best Chain, branches []Chain, m *links.Matrix, dir Directory) []Notice {
	if len(best) == 0 {
		return nil
	}
	var out []Notice
	head := best.Last()
	for _, branch := range branches {
		_, merger, at := MergeHead(best, branch)
		if best.Contains(merger) || m.Get(merger, branch[at]) == links.Stale {
			continue
		}
		out = append(out, Notice{
			Kind:    NoticeBranchMerge,
			Subject: merger,
			Text: fmt.Sprintf("%s should link to %s (currently links to %s)",
				dir.DisplayName(merger), dir.DisplayName(head), dir.DisplayName(branch[at])),
		})
		head = branch.Last()
	}
	return out
}

// RedundantLinks reports Real links from chain members to anyone other than
// their successor toward the anchor. The anchor should link to nobody.
func RedundantLinks(best Chain, m *links.Matrix, dir Directory) []Notice {
	var out []Notice
	for i, id := range best {
		correct := ""
		if i > 0 {
			correct = best[i-1]
		}
		for target := range m.Outgoing(id, links.Is(links.Real)) {
			if target == correct || target == id {
				continue
			}
			out = append(out, Notice{
				Kind:    NoticeRedundantLink,
				Subject: id,
				Text: fmt.Sprintf("%s should remove their unnecessary link to %s",
					dir.DisplayName(id), dir.DisplayName(target)),
			})
		}
	}
	return out
}

// Diagnose collects every notice for a search result in publishing order.
func Diagnose(res *Result, m *links.Matrix, dir Directory) []Notice {
	var out []Notice
	out = append(out, BrokenLinks(res.Best, m, dir)...)
	out = append(out, RedundantLinks(res.Best, m, dir)...)
	out = append(out, BranchMerges(res.Best, res.Branches, m, dir)...)
	return out
}
