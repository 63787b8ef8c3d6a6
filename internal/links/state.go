// Package links holds the link graph between participants: who mentions whom,
// and whether that mention was confirmed by the latest scan.
package links

import "fmt"

// State is the status of a single directed edge.
type State uint8

const (
	// Absent means no link. It is the value of every unset pair.
	Absent State = iota
	// Stale means the link was seen earlier but has not been reconfirmed.
	Stale
	// Real means the latest scan confirmed the link.
	Real
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Stale:
		return "stale"
	case Real:
		return "real"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Filter selects edges by state during iteration.
type Filter func(State) bool

// Present keeps every edge that is not Absent.
func Present(s State) bool { return s != Absent }

// Is returns a filter matching exactly one state.
func Is(want State) Filter {
	return func(s State) bool { return s == want }
}

// ParseState reads the names produced by State.String.
func ParseState(name string) (State, error) {
	switch name {
	case "absent":
		return Absent, nil
	case "stale":
		return Stale, nil
	case "real":
		return Real, nil
	default:
		return Absent, fmt.Errorf("unknown link state %q (want real, stale or absent)", name)
	}
}
