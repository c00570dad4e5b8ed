package firmup

import (
	"slices"

	"funcmatch/internal/graph"
)

// Entry is a function awaiting resolution, tagged with its binary.
type Entry struct {
	Side graph.BinarySide
	ID   graph.FunctionID
}

// WorkStack is an insertion-ordered, duplicate-free stack of entries.
type WorkStack struct {
	items   []Entry
	members map[Entry]struct{}
}

// NewWorkStack returns a stack holding entries, the last one on top.
func NewWorkStack(entries ...Entry) *WorkStack {
	s := &WorkStack{members: make(map[Entry]struct{}, len(entries))}
	for _, e := range entries {
		s.PushIfAbsent(e)
	}
	return s
}

// PushIfAbsent pushes e unless it is already on the stack.
func (s *WorkStack) PushIfAbsent(e Entry) bool {
	if _, ok := s.members[e]; ok {
		return false
	}
	s.members[e] = struct{}{}
	s.items = append(s.items, e)
	return true
}

// RemoveIfPresent removes e wherever it sits in the stack.
func (s *WorkStack) RemoveIfPresent(e Entry) bool {
	if _, ok := s.members[e]; !ok {
		return false
	}
	delete(s.members, e)
	// Entries are usually near the top.
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i] == e {
			s.items = slices.Delete(s.items, i, i+1)
			break
		}
	}
	return true
}

// Peek returns the top entry without removing it.
func (s *WorkStack) Peek() (Entry, bool) {
	if len(s.items) == 0 {
		return Entry{}, false
	}
	return s.items[len(s.items)-1], true
}

func (s *WorkStack) Contains(e Entry) bool {
	_, ok := s.members[e]
	return ok
}

func (s *WorkStack) Len() int { return len(s.items) }

// Entries returns the stack bottom to top.
func (s *WorkStack) Entries() []Entry { return slices.Clone(s.items) }
