package graph

import (
	"fmt"
	"slices"
)

// Direction selects which adjacency a call graph traversal follows.
type Direction string

const (
	// DirectionCallers walks caller edges (predecessors).
	DirectionCallers Direction = "callers"
	// DirectionCallees walks callee edges (successors).
	DirectionCallees Direction = "callees"
)

// Edge is a caller -> callee relationship.
type Edge struct {
	From FunctionID `json:"from"`
	To   FunctionID `json:"to"`
}

// CallGraph is the directed call graph of a single binary.
type CallGraph struct {
	BinaryID int64

	Nodes map[FunctionID]*Function

	callees map[FunctionID][]FunctionID
	callers map[FunctionID][]FunctionID
	edges   int
}

// NewCallGraph creates an empty call graph for a binary.
func NewCallGraph(binaryID int64) *CallGraph {
	return &CallGraph{
		BinaryID: binaryID,
		Nodes:    make(map[FunctionID]*Function),
		callees:  make(map[FunctionID][]FunctionID),
		callers:  make(map[FunctionID][]FunctionID),
	}
}

// AddFunction registers a node. Re-adding an id replaces its payload.
func (g *CallGraph) AddFunction(fn Function) {
	f := fn
	g.Nodes[fn.ID] = &f
}

// AddCall records src -> dst. Edges touching unregistered functions and
// duplicate edges are dropped; the return value reports whether the edge
// was added.
func (g *CallGraph) AddCall(src, dst FunctionID) bool {
	if _, ok := g.Nodes[src]; !ok {
		return false
	}
	if _, ok := g.Nodes[dst]; !ok {
		return false
	}
	if slices.Contains(g.callees[src], dst) {
		return false
	}
	g.callees[src] = insertSorted(g.callees[src], dst)
	g.callers[dst] = insertSorted(g.callers[dst], src)
	g.edges++
	return true
}

func insertSorted(ids []FunctionID, id FunctionID) []FunctionID {
	i, _ := slices.BinarySearch(ids, id)
	return slices.Insert(ids, i, id)
}

func (g *CallGraph) Contains(id FunctionID) bool {
	_, ok := g.Nodes[id]
	return ok
}

// Len returns the number of functions.
func (g *CallGraph) Len() int { return len(g.Nodes) }

// EdgeCount returns the number of call edges.
func (g *CallGraph) EdgeCount() int { return g.edges }

// FunctionIDs returns all node ids in ascending order.
func (g *CallGraph) FunctionIDs() []FunctionID {
	ids := make([]FunctionID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Edges returns every call edge ordered by caller, then callee.
func (g *CallGraph) Edges() []Edge {
	out := make([]Edge, 0, g.edges)
	for _, src := range g.FunctionIDs() {
		for _, dst := range g.callees[src] {
			out = append(out, Edge{From: src, To: dst})
		}
	}
	return out
}

// Callers returns the direct callers of id in ascending order.
func (g *CallGraph) Callers(id FunctionID) ([]FunctionID, error) {
	if !g.Contains(id) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFunction, id)
	}
	return slices.Clone(g.callers[id]), nil
}

// Callees returns the direct callees of id in ascending order.
func (g *CallGraph) Callees(id FunctionID) ([]FunctionID, error) {
	if !g.Contains(id) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFunction, id)
	}
	return slices.Clone(g.callees[id]), nil
}

// Reachable returns the functions reachable from id within maxDepth hops in
// the given direction, in depth-first preorder. The start node is only
// included when a cycle leads back to it. maxDepth 1 yields the direct
// callers or callees.
func (g *CallGraph) Reachable(id FunctionID, dir Direction, maxDepth int) ([]FunctionID, error) {
	if !g.Contains(id) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFunction, id)
	}
	if maxDepth < 1 {
		return nil, nil
	}

	adj := g.callees
	if dir == DirectionCallers {
		adj = g.callers
	}

	var (
		out      []FunctionID
		selfSeen bool
	)
	visited := map[FunctionID]bool{id: true}

	var visit func(cur FunctionID, depth int)
	visit = func(cur FunctionID, depth int) {
		if depth >= maxDepth {
			return
		}
		for _, next := range adj[cur] {
			if next == id {
				if !selfSeen {
					selfSeen = true
					out = append(out, id)
				}
				continue
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			visit(next, depth+1)
		}
	}
	visit(id, 0)

	return out, nil
}

// Stats summarizes the size and degree distribution of a call graph.
type Stats struct {
	Functions int `json:"functions"`
	Edges     int `json:"edges"`
	Isolated  int `json:"isolated"`
	MaxFanIn  int `json:"max_fan_in"`
	MaxFanOut int `json:"max_fan_out"`
	Recursive int `json:"recursive"`
}

// Stats computes summary counters for logging.
func (g *CallGraph) Stats() Stats {
	s := Stats{Functions: len(g.Nodes), Edges: g.edges}
	for id := range g.Nodes {
		in, out := len(g.callers[id]), len(g.callees[id])
		if in == 0 && out == 0 {
			s.Isolated++
		}
		s.MaxFanIn = max(s.MaxFanIn, in)
		s.MaxFanOut = max(s.MaxFanOut, out)
		if slices.Contains(g.callees[id], id) {
			s.Recursive++
		}
	}
	return s
}
