package chain

import (
	"fmt"
	"strings"

	"chainwatch/internal/links"
)

const (
	arrowReal   = " → "
	arrowBroken = " ❌ "
)

// UnbrokenLength counts Real links from the anchor outward until the first
// link that is not Real.
func UnbrokenLength(c Chain, m *links.Matrix) int {
	n := 0
	for i := 1; i < len(c); i++ {
		if m.Get(c[i], c[i-1]) != links.Real {
			break
		}
		n++
	}
	return n
}

// Stringify renders the chain furthest participant first, anchor last. With
// header set, the total length and, if different, the unbroken length are
// printed first.
func Stringify(c Chain, m *links.Matrix, dir Directory, header bool) string {
	var b strings.Builder
	if header {
		unbroken := UnbrokenLength(c, m)
		fmt.Fprintf(&b, "Chain length: %d\n", len(c))
		if unbroken != len(c)-1 {
			fmt.Fprintf(&b, "Length without breaks: %d\n\n", unbroken)
		} else {
			b.WriteString("\n")
		}
	}
	writeLinks(&b, c, m, dir.DisplayName)
	return b.String()
}

// Summary renders a compact form for logs: tallies, length and the shortest
// distinguishing prefix of each name.
func Summary(c Chain, m *links.Matrix, dir Directory) string {
	valid, broken := Tally(c, m)
	var b strings.Builder
	fmt.Fprintf(&b, "scr:(%d,%d) len:%d ", valid, broken, len(c))

	used := make(map[string]struct{})
	short := func(id string) string {
		name := dir.DisplayName(id)
		sigil := ""
		if strings.HasPrefix(name, "@") {
			sigil, name = "@", name[1:]
		}
		runes := []rune(name)
		end := min(3, len(runes))
		for end < len(runes) {
			if _, taken := used[string(runes[:end])]; !taken {
				break
			}
			end++
		}
		prefix := string(runes[:end])
		used[prefix] = struct{}{}
		return sigil + prefix
	}
	writeLinks(&b, c, m, short)
	return b.String()
}

func writeLinks(b *strings.Builder, c Chain, m *links.Matrix, name func(string) string) {
	if len(c) == 0 {
		return
	}
	for i := len(c) - 1; i > 0; i-- {
		b.WriteString(name(c[i]))
		if m.Get(c[i], c[i-1]) == links.Real {
			b.WriteString(arrowReal)
		} else {
			b.WriteString(arrowBroken)
		}
	}
	b.WriteString(name(c[0]))
}
