package links

import "iter"

// row is one side of the adjacency: neighbor -> state, kept in first-seen
// order so that iteration is deterministic.
type row struct {
	order  []string
	states map[string]State
}

func newRow() *row {
	return &row{states: make(map[string]State)}
}

func (r *row) set(id string, s State) {
	if _, ok := r.states[id]; !ok {
		r.order = append(r.order, id)
	}
	r.states[id] = s
}

// Matrix stores directed edges between participants. An edge (source,
// target) means the source's profile mentions the target.
//
// The forward view is keyed by source and the reverse view by target.
// Set is the only writer, so forward[s][t] == reverse[t][s] always holds.
// Matrix is not safe for concurrent use; callers serialize access.
type Matrix struct {
	forward map[string]*row
	reverse map[string]*row
	sources []string
}

// NewMatrix returns an empty matrix.
func NewMatrix() *Matrix {
	return &Matrix{
		forward: make(map[string]*row),
		reverse: make(map[string]*row),
	}
}

// Set overwrites the state of the edge source -> target.
func (m *Matrix) Set(source, target string, s State) {
	fwd, ok := m.forward[source]
	if !ok {
		fwd = newRow()
		m.forward[source] = fwd
		m.sources = append(m.sources, source)
	}
	fwd.set(target, s)

	rev, ok := m.reverse[target]
	if !ok {
		rev = newRow()
		m.reverse[target] = rev
	}
	rev.set(source, s)
}

// Get returns the state of source -> target, Absent when never set.
// It never allocates rows for unknown participants.
func (m *Matrix) Get(source, target string) State {
	fwd, ok := m.forward[source]
	if !ok {
		return Absent
	}
	return fwd.states[target]
}

// Outgoing yields every target the source links to whose edge state passes
// keep. A nil filter means Present.
func (m *Matrix) Outgoing(source string, keep Filter) iter.Seq[string] {
	return iterate(m.forward[source], keep)
}

// Incoming yields every source linking to target whose edge state passes
// keep. A nil filter means Present.
func (m *Matrix) Incoming(target string, keep Filter) iter.Seq[string] {
	return iterate(m.reverse[target], keep)
}

func iterate(r *row, keep Filter) iter.Seq[string] {
	if keep == nil {
		keep = Present
	}
	return func(yield func(string) bool) {
		if r == nil {
			return
		}
		// Snapshot the length: entries appended during iteration are not
		// visited, and states are read live.
		n := len(r.order)
		for i := 0; i < n; i++ {
			id := r.order[i]
			if !keep(r.states[id]) {
				continue
			}
			if !yield(id) {
				return
			}
		}
	}
}

// ReplaceAll moves every edge in state from to state to and reports how many
// edges changed. Replacing a state with itself is a no-op.
func (m *Matrix) ReplaceAll(from, to State) int {
	if from == to {
		return 0
	}
	changed := 0
	for _, source := range m.sources {
		fwd := m.forward[source]
		for _, target := range fwd.order {
			if fwd.states[target] == from {
				m.Set(source, target, to)
				changed++
			}
		}
	}
	return changed
}

// Downgrade turns every Real edge leaving source into Stale and reports the
// count. It runs before a source is re-scanned.
func (m *Matrix) Downgrade(source string) int {
	fwd, ok := m.forward[source]
	if !ok {
		return 0
	}
	changed := 0
	for _, target := range fwd.order {
		if fwd.states[target] == Real {
			m.Set(source, target, Stale)
			changed++
		}
	}
	return changed
}

// HasOutgoing reports whether source has at least one edge in state s.
func (m *Matrix) HasOutgoing(source string, s State) bool {
	for range m.Outgoing(source, Is(s)) {
		return true
	}
	return false
}

// AllEqual reports whether every consecutive pair of an anchor-first chain
// is in state s. chain[i+1] links to chain[i].
func (m *Matrix) AllEqual(chain []string, s State) bool {
	for i := 1; i < len(chain); i++ {
		if m.Get(chain[i], chain[i-1]) != s {
			return false
		}
	}
	return true
}

// Sources returns every participant that has ever had an outgoing edge, in
// first-seen order.
func (m *Matrix) Sources() []string {
	out := make([]string, len(m.sources))
	copy(out, m.sources)
	return out
}

// Targets returns every participant that has ever had an incoming edge.
func (m *Matrix) Targets() []string {
	seen := make(map[string]struct{}, len(m.reverse))
	var out []string
	for _, source := range m.sources {
		for _, target := range m.forward[source].order {
			if _, ok := seen[target]; ok {
				continue
			}
			seen[target] = struct{}{}
			out = append(out, target)
		}
	}
	return out
}

// Count returns the number of edges in state s. Absent edges that were
// explicitly written count too.
func (m *Matrix) Count(s State) int {
	n := 0
	for _, source := range m.sources {
		for _, st := range m.forward[source].states {
			if st == s {
				n++
			}
		}
	}
	return n
}

// Clone returns an independent copy preserving iteration order.
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{
		forward: make(map[string]*row, len(m.forward)),
		reverse: make(map[string]*row, len(m.reverse)),
		sources: append([]string(nil), m.sources...),
	}
	for id, r := range m.forward {
		c.forward[id] = r.clone()
	}
	for id, r := range m.reverse {
		c.reverse[id] = r.clone()
	}
	return c
}

func (r *row) clone() *row {
	c := &row{
		order:  append([]string(nil), r.order...),
		states: make(map[string]State, len(r.states)),
	}
	for id, s := range r.states {
		c.states[id] = s
	}
	return c
}

// ForgetParticipant sets every edge touching id to Absent, Real edges
// included. It is only for participants leaving the registry.
func (m *Matrix) ForgetParticipant(id string) int {
	changed := 0
	for target := range m.Outgoing(id, nil) {
		m.Set(id, target, Absent)
		changed++
	}
	for source := range m.Incoming(id, nil) {
		m.Set(source, id, Absent)
		changed++
	}
	return changed
}
