package domain

import (
	"fmt"
	"strings"
)

// StationSet is the ordered list of station identifiers fetched from one server.
// Order is the configured order; duplicates are rejected.
type StationSet struct {
	ids []string
}

// NewStationSet builds a StationSet, trimming whitespace and rejecting
// empty or duplicate identifiers (case-insensitive, like the matcher).
func NewStationSet(ids []string) (StationSet, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			return StationSet{}, fmt.Errorf("%w: empty station id", ErrInvalidInput)
		}
		key := strings.ToLower(id)
		if seen[key] {
			return StationSet{}, fmt.Errorf("%w: duplicate station id %q", ErrInvalidInput, id)
		}
		seen[key] = true
		out = append(out, id)
	}
	return StationSet{ids: out}, nil
}

// IDs returns a copy of the station ids in configured order
func (s StationSet) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the number of stations
func (s StationSet) Len() int {
	return len(s.ids)
}

// IsEmpty reports whether the set has no stations
func (s StationSet) IsEmpty() bool {
	return len(s.ids) == 0
}
