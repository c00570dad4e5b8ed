package graph

import (
	"fmt"
	"math"
	"slices"
)

// WeightedGraph is the read-only similarity view the matchers work on.
// Higher weight means more similar.
type WeightedGraph interface {
	Contains(id FunctionID) bool
	Neighbors(id FunctionID) []FunctionID
	Weight(a, b FunctionID) (float64, error)
	BestNeighbor(id FunctionID, excluding *IDSet) (FunctionID, bool)
	Restrict(to *IDSet) *View
	Without(ids *IDSet) *View
}

var (
	_ WeightedGraph = (*SimilarityGraph)(nil)
	_ WeightedGraph = (*View)(nil)
)

// SimilarityGraph is an undirected weighted graph between the functions of a
// query binary and a target binary. It is built once by a provider and must
// not be modified while a matcher runs on it.
type SimilarityGraph struct {
	adj   map[FunctionID]map[FunctionID]float64
	sides map[FunctionID]BinarySide
	edges int
}

// NewSimilarityGraph creates an empty similarity graph.
func NewSimilarityGraph() *SimilarityGraph {
	return &SimilarityGraph{
		adj:   make(map[FunctionID]map[FunctionID]float64),
		sides: make(map[FunctionID]BinarySide),
	}
}

// AddEdge records the similarity between a query-binary function and a
// target-binary function. Re-adding a pair overwrites its weight.
func (g *SimilarityGraph) AddEdge(query, target FunctionID, weight float64) error {
	if query == target {
		return fmt.Errorf("%w: %d", ErrSelfEdge, query)
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("%w: %v for (%d, %d)", ErrInvalidWeight, weight, query, target)
	}
	if err := g.setSide(query, SideQuery); err != nil {
		return err
	}
	if err := g.setSide(target, SideTarget); err != nil {
		return err
	}

	if _, ok := g.adj[query][target]; !ok {
		g.edges++
	}
	g.link(query, target, weight)
	g.link(target, query, weight)
	return nil
}

func (g *SimilarityGraph) setSide(id FunctionID, side BinarySide) error {
	if prev, ok := g.sides[id]; ok && prev != side {
		return fmt.Errorf("function %d already belongs to the %s binary", id, prev)
	}
	g.sides[id] = side
	return nil
}

func (g *SimilarityGraph) link(a, b FunctionID, w float64) {
	m, ok := g.adj[a]
	if !ok {
		m = make(map[FunctionID]float64)
		g.adj[a] = m
	}
	m[b] = w
}

// Side returns the binary a function was registered under.
func (g *SimilarityGraph) Side(id FunctionID) (BinarySide, bool) {
	s, ok := g.sides[id]
	return s, ok
}

// Functions returns the functions of one side in ascending order.
func (g *SimilarityGraph) Functions(side BinarySide) []FunctionID {
	var out []FunctionID
	for id, s := range g.sides {
		if s == side {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Len returns the number of nodes.
func (g *SimilarityGraph) Len() int { return len(g.sides) }

// EdgeCount returns the number of undirected edges.
func (g *SimilarityGraph) EdgeCount() int { return g.edges }

func (g *SimilarityGraph) Contains(id FunctionID) bool {
	_, ok := g.sides[id]
	return ok
}

// Neighbors returns the neighbors of id in ascending order.
func (g *SimilarityGraph) Neighbors(id FunctionID) []FunctionID {
	return g.neighbors(id, nil)
}

// Weight returns the similarity of a and b, or a *MissingEdgeError.
func (g *SimilarityGraph) Weight(a, b FunctionID) (float64, error) {
	if w, ok := g.adj[a][b]; ok {
		return w, nil
	}
	return 0, &MissingEdgeError{A: a, B: b}
}

// BestNeighbor returns the neighbor of id with the highest weight, skipping
// the ids in excluding. Equal weights resolve to the smallest id.
func (g *SimilarityGraph) BestNeighbor(id FunctionID, excluding *IDSet) (FunctionID, bool) {
	return g.bestNeighbor(id, nil, excluding)
}

// Restrict returns a view holding only the nodes in to.
func (g *SimilarityGraph) Restrict(to *IDSet) *View {
	return &View{g: g, include: to.Clone()}
}

// Without returns a view holding every node except those in ids.
func (g *SimilarityGraph) Without(ids *IDSet) *View {
	return &View{g: g, exclude: ids.Clone()}
}

// CheckComplete verifies that every pair of queryIDs x targetIDs has an edge.
// The first missing pair in ascending order is returned as *MissingEdgeError.
func (g *SimilarityGraph) CheckComplete(queryIDs, targetIDs []FunctionID) error {
	qs := slices.Sorted(slices.Values(queryIDs))
	ts := slices.Sorted(slices.Values(targetIDs))
	for _, q := range qs {
		for _, t := range ts {
			if _, err := g.Weight(q, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *SimilarityGraph) neighbors(id FunctionID, keep func(FunctionID) bool) []FunctionID {
	adj := g.adj[id]
	out := make([]FunctionID, 0, len(adj))
	for n := range adj {
		if keep != nil && !keep(n) {
			continue
		}
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (g *SimilarityGraph) bestNeighbor(id FunctionID, keep func(FunctionID) bool, excluding *IDSet) (FunctionID, bool) {
	var (
		best   FunctionID
		bestW  float64
		picked bool
	)
	for n, w := range g.adj[id] {
		if keep != nil && !keep(n) {
			continue
		}
		if excluding.Contains(n) {
			continue
		}
		if !picked || w > bestW || (w == bestW && n < best) {
			best, bestW, picked = n, w, true
		}
	}
	return best, picked
}

// View is a logical subgraph of a SimilarityGraph. It copies no edges.
type View struct {
	g       *SimilarityGraph
	include *IDSet // nil: every node
	exclude *IDSet // nil: no node
}

func (v *View) Contains(id FunctionID) bool {
	if !v.g.Contains(id) {
		return false
	}
	if v.include != nil && !v.include.Contains(id) {
		return false
	}
	return !v.exclude.Contains(id)
}

func (v *View) Neighbors(id FunctionID) []FunctionID {
	if !v.Contains(id) {
		return nil
	}
	return v.g.neighbors(id, v.Contains)
}

func (v *View) Weight(a, b FunctionID) (float64, error) {
	if !v.Contains(a) || !v.Contains(b) {
		return 0, &MissingEdgeError{A: a, B: b}
	}
	return v.g.Weight(a, b)
}

func (v *View) BestNeighbor(id FunctionID, excluding *IDSet) (FunctionID, bool) {
	if !v.Contains(id) {
		return 0, false
	}
	return v.g.bestNeighbor(id, v.Contains, excluding)
}

func (v *View) Restrict(to *IDSet) *View {
	include := to.Clone()
	if v.include != nil {
		include = v.include.Intersect(to)
	}
	return &View{g: v.g, include: include, exclude: v.exclude}
}

func (v *View) Without(ids *IDSet) *View {
	exclude := ids.Clone()
	if v.exclude != nil {
		exclude = v.exclude.Union(ids)
	}
	return &View{g: v.g, include: v.include, exclude: exclude}
}
