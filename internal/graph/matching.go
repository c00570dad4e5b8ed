package graph

import (
	"errors"
	"fmt"
	"slices"
)

// ErrAlreadyMatched is returned when a function would appear in two pairs.
var ErrAlreadyMatched = errors.New("function already matched")

// Pair is one matched function pair. A is the function whose search
// produced the pair; the order carries no other meaning.
type Pair struct {
	A      FunctionID `json:"a"`
	B      FunctionID `json:"b"`
	Weight float64    `json:"weight"`
}

// Matching is a one-to-one correspondence between functions: no id appears
// in more than one pair.
type Matching struct {
	pairs   []Pair
	partner map[FunctionID]FunctionID
	ids     *IDSet
}

// NewMatching creates an empty matching.
func NewMatching() *Matching {
	return &Matching{
		partner: make(map[FunctionID]FunctionID),
		ids:     NewIDSet(),
	}
}

// Add pairs a with b.
func (m *Matching) Add(a, b FunctionID, weight float64) error {
	if a == b {
		return fmt.Errorf("%w: %d paired with itself", ErrAlreadyMatched, a)
	}
	for _, id := range []FunctionID{a, b} {
		if m.Contains(id) {
			return fmt.Errorf("%w: %d", ErrAlreadyMatched, id)
		}
	}
	m.pairs = append(m.pairs, Pair{A: a, B: b, Weight: weight})
	m.partner[a] = b
	m.partner[b] = a
	m.ids.Add(a)
	m.ids.Add(b)
	return nil
}

func (m *Matching) Contains(id FunctionID) bool {
	_, ok := m.partner[id]
	return ok
}

// Partner returns the function paired with id.
func (m *Matching) Partner(id FunctionID) (FunctionID, bool) {
	p, ok := m.partner[id]
	return p, ok
}

// Len returns the number of pairs.
func (m *Matching) Len() int { return len(m.pairs) }

// Pairs returns the pairs in insertion order.
func (m *Matching) Pairs() []Pair { return slices.Clone(m.pairs) }

// IDs returns a snapshot of every matched id.
func (m *Matching) IDs() *IDSet { return m.ids.Clone() }

// TotalWeight sums the pair weights.
func (m *Matching) TotalWeight() float64 {
	var sum float64
	for _, p := range m.pairs {
		sum += p.Weight
	}
	return sum
}
