// Package region keeps the registered monitoring regions, keyed by identifier
// and ordered by first registration.
package region

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/beaconmon/internal/beacon"
)

// Set is an insertion-ordered set of regions keyed by Region.Identifier.
// It is not safe for concurrent use; the monitor serializes access.
type Set struct {
	regions *orderedmap.OrderedMap[string, beacon.Region]
}

// NewSet creates an empty region set
func NewSet() *Set {
	return &Set{regions: orderedmap.New[string, beacon.Region]()}
}

// Add inserts r. A region with the same identifier is replaced in place and
// the previous value is returned with replaced set.
func (s *Set) Add(r beacon.Region) (old beacon.Region, replaced bool) {
	return s.regions.Set(r.Identifier, r)
}

// Remove deletes the region with r's identifier; sub-fields are ignored.
func (s *Set) Remove(r beacon.Region) (beacon.Region, bool) {
	return s.regions.Delete(r.Identifier)
}

// Get looks a region up by identifier
func (s *Set) Get(identifier string) (beacon.Region, bool) {
	return s.regions.Get(identifier)
}

// Contains reports whether identifier is registered
func (s *Set) Contains(identifier string) bool {
	_, ok := s.regions.Get(identifier)
	return ok
}

// Len returns the number of registered regions
func (s *Set) Len() int {
	return s.regions.Len()
}

// Regions returns a snapshot in registration order
func (s *Set) Regions() []beacon.Region {
	out := make([]beacon.Region, 0, s.regions.Len())
	for pair := s.regions.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Clear empties the set and returns what was removed, in registration order
func (s *Set) Clear() []beacon.Region {
	removed := s.Regions()
	s.regions = orderedmap.New[string, beacon.Region]()
	return removed
}
