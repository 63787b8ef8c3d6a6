package chain

import "chainwatch/internal/links"

// Reachable returns every participant that can reach the anchor through
// Real links, the anchor included.
func Reachable(m *links.Matrix, anchor string) map[string]struct{} {
	seen := map[string]struct{}{anchor: {}}
	stack := []string{anchor}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for source := range m.Incoming(id, links.Is(links.Real)) {
			if _, ok := seen[source]; ok {
				continue
			}
			seen[source] = struct{}{}
			stack = append(stack, source)
		}
	}
	return seen
}
