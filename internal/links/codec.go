package links

import (
	"fmt"
	"strings"
)

const (
	// StaleMarker prefixes a persisted incoming link that has not been
	// reconfirmed.
	StaleMarker = "~"
	// RealMarker prefixes a Real link whose id would otherwise read as
	// marked.
	RealMarker = "="
)

// IncomingList is the persisted form of a participant's incoming links.
// Real links are bare ids, Stale links carry StaleMarker. Absent links are
// not written. After a marker the rest of the entry is the id verbatim.
type IncomingList struct {
	Participant string   `json:"participant" yaml:"participant"`
	Links       []string `json:"links" yaml:"links"`
}

// EncodeEntry renders one incoming link.
func EncodeEntry(source string, s State) string {
	if s == Stale {
		return StaleMarker + source
	}
	if strings.HasPrefix(source, StaleMarker) || strings.HasPrefix(source, RealMarker) {
		return RealMarker + source
	}
	return source
}

// DecodeEntry parses one incoming link.
func DecodeEntry(entry string) (string, State, error) {
	state := Real
	id := entry
	switch {
	case strings.HasPrefix(entry, StaleMarker):
		state = Stale
		id = entry[len(StaleMarker):]
	case strings.HasPrefix(entry, RealMarker):
		id = entry[len(RealMarker):]
	}
	if id == "" {
		return "", Absent, fmt.Errorf("empty link entry %q", entry)
	}
	return id, state, nil
}

// Encode converts the matrix to per-participant incoming lists, in the order
// participants first received a link. Participants with no present incoming
// links are omitted.
func Encode(m *Matrix) []IncomingList {
	var out []IncomingList
	for _, target := range m.Targets() {
		rev := m.reverse[target]
		var entries []string
		for _, source := range rev.order {
			s := rev.states[source]
			if s == Absent {
				continue
			}
			entries = append(entries, EncodeEntry(source, s))
		}
		if len(entries) > 0 {
			out = append(out, IncomingList{Participant: target, Links: entries})
		}
	}
	return out
}

// Decode rebuilds a matrix from incoming lists.
func Decode(lists []IncomingList) (*Matrix, error) {
	m := NewMatrix()
	for _, l := range lists {
		if l.Participant == "" {
			return nil, fmt.Errorf("incoming list without participant")
		}
		for _, entry := range l.Links {
			source, s, err := DecodeEntry(entry)
			if err != nil {
				return nil, fmt.Errorf("participant %s: %w", l.Participant, err)
			}
			m.Set(source, l.Participant, s)
		}
	}
	return m, nil
}
