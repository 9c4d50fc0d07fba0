package channelset

import (
	"net/url"
	"strings"
)

// Separator joins channel names in a multi-channel URL segment.
const Separator = ","

// Set is an ordered collection of unique channel names.
// The zero value is an empty set ready to use.
type Set struct {
	names []string
	index map[string]struct{}
}

// New creates a set holding names, duplicates dropped.
func New(names ...string) *Set {
	s := &Set{}
	s.Add(names...)
	return s
}

// Add inserts every name not already present and returns how many were added.
// Duplicates inside names are skipped, first occurrence wins.
func (s *Set) Add(names ...string) int {
	if s.index == nil {
		s.index = make(map[string]struct{}, len(names))
	}

	added := 0
	for _, name := range names {
		if _, ok := s.index[name]; ok {
			continue
		}
		s.index[name] = struct{}{}
		s.names = append(s.names, name)
		added++
	}
	return added
}

// Union adds every name of other to s. s.Union(s) always returns 0.
func (s *Set) Union(other *Set) int {
	if other == nil {
		return 0
	}
	return s.Add(other.Names()...)
}

// Remove deletes every present name and returns how many were removed.
// Unknown names are ignored.
func (s *Set) Remove(names ...string) int {
	if len(s.index) == 0 {
		return 0
	}

	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := s.index[name]; ok {
			drop[name] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}

	kept := s.names[:0]
	for _, name := range s.names {
		if _, ok := drop[name]; ok {
			delete(s.index, name)
			continue
		}
		kept = append(kept, name)
	}
	// Clear the tail so dropped strings can be collected.
	for i := len(kept); i < len(s.names); i++ {
		s.names[i] = ""
	}
	s.names = kept
	return len(drop)
}

// Subtract removes every name of other from s.
func (s *Set) Subtract(other *Set) int {
	if other == nil {
		return 0
	}
	return s.Remove(other.Names()...)
}

// Reset releases the storage. The set is empty and reusable afterwards.
func (s *Set) Reset() {
	s.names = nil
	s.index = nil
}

// Len returns the number of names in the set.
func (s *Set) Len() int {
	return len(s.names)
}

// Contains reports whether name is in the set.
func (s *Set) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Names returns a copy of the names in insertion order.
func (s *Set) Names() []string {
	if len(s.names) == 0 {
		return nil
	}
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Equal reports whether s and other hold the same names in the same order.
func (s *Set) Equal(other *Set) bool {
	if other == nil {
		return s.Len() == 0
	}
	if len(s.names) != len(other.names) {
		return false
	}
	for i := range s.names {
		if s.names[i] != other.names[i] {
			return false
		}
	}
	return true
}

// String joins the names with Separator without escaping.
func (s *Set) String() string {
	return strings.Join(s.names, Separator)
}

// Encoded joins the names with Separator and percent-encodes the result for
// use as a single URL path segment. An empty set yields "".
func (s *Set) Encoded() string {
	if len(s.names) == 0 {
		return ""
	}
	return Escape(s.String())
}

// Escape percent-encodes value so that only RFC 3986 unreserved characters
// (ALPHA, DIGIT, '-', '.', '_', '~') are left as-is. Space becomes %20.
func Escape(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}
