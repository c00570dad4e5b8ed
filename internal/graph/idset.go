package graph

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// IDSet is a set of function ids backed by a 64-bit roaring bitmap.
// Iteration is in ascending id order for non-negative ids.
type IDSet struct {
	rb *roaring64.Bitmap
}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...FunctionID) *IDSet {
	s := &IDSet{rb: roaring64.New()}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *IDSet) Add(id FunctionID) {
	s.rb.Add(uint64(id))
}

func (s *IDSet) Remove(id FunctionID) {
	s.rb.Remove(uint64(id))
}

// Contains reports whether id is in the set. A nil set contains nothing.
func (s *IDSet) Contains(id FunctionID) bool {
	if s == nil {
		return false
	}
	return s.rb.Contains(uint64(id))
}

func (s *IDSet) Len() int {
	if s == nil {
		return 0
	}
	return int(s.rb.GetCardinality())
}

func (s *IDSet) IsEmpty() bool {
	return s == nil || s.rb.IsEmpty()
}

// Union returns a new set with the elements of s and other.
func (s *IDSet) Union(other *IDSet) *IDSet {
	out := s.Clone()
	if other != nil {
		out.rb.Or(other.rb)
	}
	return out
}

// Intersect returns a new set with the elements present in both s and other.
func (s *IDSet) Intersect(other *IDSet) *IDSet {
	out := s.Clone()
	if other == nil {
		out.rb.Clear()
		return out
	}
	out.rb.And(other.rb)
	return out
}

// Clone returns a deep copy. Cloning a nil set yields an empty set.
func (s *IDSet) Clone() *IDSet {
	if s == nil {
		return NewIDSet()
	}
	return &IDSet{rb: s.rb.Clone()}
}

// All iterates the set in ascending order.
func (s *IDSet) All() iter.Seq[FunctionID] {
	return func(yield func(FunctionID) bool) {
		if s == nil {
			return
		}
		it := s.rb.Iterator()
		for it.HasNext() {
			if !yield(FunctionID(it.Next())) {
				return
			}
		}
	}
}

// Slice returns the elements in ascending order.
func (s *IDSet) Slice() []FunctionID {
	out := make([]FunctionID, 0, s.Len())
	for id := range s.All() {
		out = append(out, id)
	}
	return out
}
