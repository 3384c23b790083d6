package permission

import (
	"maps"
	"slices"
)

// Set is an allow set. Evaluation is a pure union: there is no deny entry,
// only presence or absence of a key.
type Set map[string]struct{}

// NewSet builds a set from already normalized keys.
func NewSet(keys ...string) Set {
	s := make(Set, len(keys))
	s.Add(keys...)
	return s
}

// Add inserts keys as given; callers normalize them first.
func (s Set) Add(keys ...string) {
	for _, k := range keys {
		s[k] = struct{}{}
	}
}

// Union adds every key of other to s.
func (s Set) Union(other Set) {
	for k := range other {
		s[k] = struct{}{}
	}
}

// HasWildcard reports whether the set grants everything.
func (s Set) HasWildcard() bool {
	_, ok := s[Wildcard]
	return ok
}

// Allows reports whether resource.action is granted, directly or by "*".
func (s Set) Allows(resource, action string) bool {
	if s.HasWildcard() {
		return true
	}
	_, ok := s[Key(resource, action)]
	return ok
}

// Contains reports whether the exact key is in the set.
func (s Set) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the set as a sorted slice.
func (s Set) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}
