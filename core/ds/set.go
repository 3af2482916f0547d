// Package ds holds small generic containers used by wallet state.
package ds

import (
	"encoding/json"
	"fmt"
)

// Set is an ordered set: O(1) membership plus stable insertion order, so
// account snapshots serialize deterministically. The zero value is empty and
// ready to use.
type Set[T comparable] struct {
	items map[T]struct{}
	order []T
}

func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items)), order: make([]T, 0, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

func (s *Set[T]) String() string { return fmt.Sprintf("%v", s.order) }

// Add reports whether v was new.
func (s *Set[T]) Add(v T) bool {
	if s.Contains(v) {
		return false
	}
	if s.items == nil {
		s.items = make(map[T]struct{})
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

// Extend adds vs and returns the ones that were not present before, in
// argument order.
func (s *Set[T]) Extend(vs ...T) []T {
	var added []T
	for _, v := range vs {
		if s.Add(v) {
			added = append(added, v)
		}
	}
	return added
}

func (s *Set[T]) Contains(v T) bool {
	_, ok := s.items[v]
	return ok
}

func (s *Set[T]) Len() int { return len(s.order) }

func (s *Set[T]) IsEmpty() bool { return len(s.order) == 0 }

// Remove deletes vs. It is O(n) in the size of the set.
func (s *Set[T]) Remove(vs ...T) {
	removed := 0
	for _, v := range vs {
		if s.Contains(v) {
			delete(s.items, v)
			removed++
		}
	}
	if removed == 0 {
		return
	}
	kept := make([]T, 0, len(s.order)-removed)
	for _, v := range s.order {
		if s.Contains(v) {
			kept = append(kept, v)
		}
	}
	s.order = kept
}

// Additions returns the elements of other missing from s, in other's order.
func (s *Set[T]) Additions(other *Set[T]) *Set[T] {
	add := NewSet[T]()
	for _, v := range other.order {
		if !s.Contains(v) {
			add.Add(v)
		}
	}
	return add
}

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T {
	out := make([]T, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Set[T]) Copy() *Set[T] { return NewSet(s.order...) }

func (s *Set[T]) Clear() {
	s.items = make(map[T]struct{})
	s.order = nil
}

// MarshalJSON writes the set as an ordered array.
func (s Set[T]) MarshalJSON() ([]byte, error) {
	if s.order == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.order)
}

func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var vs []T
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	s.Clear()
	s.Extend(vs...)
	return nil
}
