// Package endpointset provides an ordered set of endpoints.
//
// Sets returned by the package level operations are new values and never
// share mutations with their inputs, so a caller can compute a whole delta
// before deciding whether to keep it.
package endpointset

import (
	"github.com/google/btree"

	"github.com/cenkalti/rainpex/internal/endpoint"
)

const degree = 8

// Set is an ordered set of endpoints sorted by endpoint.Less.
// The zero value is not usable, use New.
type Set struct {
	tree *btree.BTreeG[endpoint.Endpoint]
}

// New returns a set containing the given endpoints.
func New(endpoints ...endpoint.Endpoint) *Set {
	s := &Set{tree: btree.NewG[endpoint.Endpoint](degree, endpoint.Less)}
	for _, e := range endpoints {
		s.tree.ReplaceOrInsert(e)
	}
	return s
}

// Add inserts e into the set. It returns false if e was already present.
func (s *Set) Add(e endpoint.Endpoint) bool {
	_, found := s.tree.ReplaceOrInsert(e)
	return !found
}

// Remove deletes e from the set. It returns false if e was not present.
func (s *Set) Remove(e endpoint.Endpoint) bool {
	_, found := s.tree.Delete(e)
	return found
}

// Has returns true if the set contains e.
func (s *Set) Has(e endpoint.Endpoint) bool {
	return s.tree.Has(e)
}

// Len returns the number of items in the set.
func (s *Set) Len() int {
	return s.tree.Len()
}

// Ascend calls fn for each endpoint in ascending order until fn returns false.
func (s *Set) Ascend(fn func(e endpoint.Endpoint) bool) {
	s.tree.Ascend(fn)
}

// Slice returns the endpoints in ascending order.
func (s *Set) Slice() []endpoint.Endpoint {
	l := make([]endpoint.Endpoint, 0, s.tree.Len())
	s.tree.Ascend(func(e endpoint.Endpoint) bool {
		l = append(l, e)
		return true
	})
	return l
}

// Head returns a new set with the first n endpoints of s.
// If n is negative or not less than s.Len(), it returns a clone of s.
func (s *Set) Head(n int) *Set {
	if n < 0 || n >= s.tree.Len() {
		return s.Clone()
	}
	h := New()
	s.tree.Ascend(func(e endpoint.Endpoint) bool {
		if h.tree.Len() == n {
			return false
		}
		h.tree.ReplaceOrInsert(e)
		return true
	})
	return h
}

// Clone returns a copy of s. Later changes to either set are not visible to the other.
func (s *Set) Clone() *Set {
	return &Set{tree: s.tree.Clone()}
}

// Equal reports whether both sets contain the same endpoints.
func (s *Set) Equal(o *Set) bool {
	if s.Len() != o.Len() {
		return false
	}
	equal := true
	s.tree.Ascend(func(e endpoint.Endpoint) bool {
		equal = o.tree.Has(e)
		return equal
	})
	return equal
}

// Difference returns a new set with endpoints in a but not in b.
func Difference(a, b *Set) *Set {
	d := New()
	a.tree.Ascend(func(e endpoint.Endpoint) bool {
		if !b.tree.Has(e) {
			d.tree.ReplaceOrInsert(e)
		}
		return true
	})
	return d
}

// Intersection returns a new set with endpoints present in both a and b.
func Intersection(a, b *Set) *Set {
	if b.Len() < a.Len() {
		a, b = b, a
	}
	d := New()
	a.tree.Ascend(func(e endpoint.Endpoint) bool {
		if b.tree.Has(e) {
			d.tree.ReplaceOrInsert(e)
		}
		return true
	})
	return d
}

// Union returns a new set with endpoints present in a or b.
func Union(a, b *Set) *Set {
	u := a.Clone()
	b.tree.Ascend(func(e endpoint.Endpoint) bool {
		u.tree.ReplaceOrInsert(e)
		return true
	})
	return u
}
