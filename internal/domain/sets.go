package domain

import (
	"encoding/json"
	"strings"
)

// StringSet is an insertion-ordered set of strings. It never holds duplicates
// or blank values; order only matters for display and for First.
type StringSet []string

// NewStringSet builds a set from values, dropping blanks and duplicates.
func NewStringSet(values ...string) StringSet {
	var s StringSet
	for _, v := range values {
		s = s.add(v)
	}
	return s
}

func (s StringSet) add(v string) StringSet {
	v = strings.TrimSpace(v)
	if v == "" || s.Contains(v) {
		return s
	}
	return append(s, v)
}

// Contains reports whether v is a member.
func (s StringSet) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// First returns the first member or "".
func (s StringSet) First() string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Union returns a new set with s's members followed by the members of other
// that s lacks.
func (s StringSet) Union(other StringSet) StringSet {
	out := make(StringSet, 0, len(s)+len(other))
	for _, v := range s {
		out = out.add(v)
	}
	for _, v := range other {
		out = out.add(v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Equal reports whether both sets hold the same members, ignoring order.
func (s StringSet) Equal(other StringSet) bool {
	if len(s) != len(other) {
		return false
	}
	for _, v := range s {
		if !other.Contains(v) {
			return false
		}
	}
	return true
}

// UnmarshalJSON restores the set invariant for decoded data.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewStringSet(values...)
	return nil
}

// Series is one series membership of a work.
type Series struct {
	Name     string `json:"name"`
	Position string `json:"position,omitempty"`
}

// SeriesSet is a set of series keyed by name.
type SeriesSet []Series

// Union keeps the first position seen for each series name.
func (s SeriesSet) Union(other SeriesSet) SeriesSet {
	out := make(SeriesSet, 0, len(s)+len(other))
	seen := make(map[string]struct{}, len(s)+len(other))
	for _, list := range []SeriesSet{s, other} {
		for _, item := range list {
			name := strings.TrimSpace(item.Name)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			item.Name = name
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
