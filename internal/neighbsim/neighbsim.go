// Package neighbsim refines the similarity of one candidate function pair
// with the similarity of their call graph neighborhoods.
//
// The callers of both functions are paired by an optimal assignment, and so
// are the callees. The score averages the direct similarity and every
// assigned neighbor similarity over all involved functions:
//
//	score = 2 * (direct + callers + callees) / (2 + |qcallers| + |tcallers| + |qcallees| + |tcallees|)
//
// Identical neighborhoods with similarity 1 everywhere score 1. Functions
// without callers and callees score their direct similarity.
package neighbsim

import (
	"errors"
	"fmt"
	"slices"

	"funcmatch/internal/assignment"
	"funcmatch/internal/graph"
)

var (
	// ErrIncompleteSimilarityGraph is returned when a similarity needed for
	// the score is missing. It wraps the underlying *graph.MissingEdgeError.
	ErrIncompleteSimilarityGraph = errors.New("incomplete similarity graph")

	// ErrInvalidNeighborhood is returned for a depth below one.
	ErrInvalidNeighborhood = errors.New("neighborhood depth must be at least 1")
)

// Neighborhood selects how many call graph hops a neighborhood spans.
type Neighborhood struct {
	Depth int
}

// Direct is the one-hop neighborhood: direct callers and callees.
var Direct = Neighborhood{Depth: 1}

// Bounded returns a neighborhood reaching depth hops.
func Bounded(depth int) Neighborhood { return Neighborhood{Depth: depth} }

// Result is a NeighBSim score together with the matchings behind it.
type Result struct {
	Query  graph.FunctionID `json:"query"`
	Target graph.FunctionID `json:"target"`
	Score  float64          `json:"score"`
	Direct float64          `json:"direct"`

	QueryCallers  []graph.FunctionID `json:"query_callers"`
	TargetCallers []graph.FunctionID `json:"target_callers"`
	QueryCallees  []graph.FunctionID `json:"query_callees"`
	TargetCallees []graph.FunctionID `json:"target_callees"`

	// CallerMatching and CalleeMatching pair query-side neighbors (A) with
	// target-side neighbors (B), weighted by similarity.
	CallerMatching *graph.Matching `json:"-"`
	CalleeMatching *graph.Matching `json:"-"`
}

// Scorer computes NeighBSim scores between functions of two binaries. All
// inputs are read-only, so a Scorer is safe for concurrent use.
type Scorer struct {
	qcg *graph.CallGraph
	tcg *graph.CallGraph
	sg  graph.WeightedGraph
	nb  Neighborhood
}

// NewScorer creates a scorer over the query and target call graphs and a
// similarity graph covering every function of the neighborhoods scored.
func NewScorer(qcg, tcg *graph.CallGraph, sg graph.WeightedGraph, nb Neighborhood) *Scorer {
	return &Scorer{qcg: qcg, tcg: tcg, sg: sg, nb: nb}
}

// Score computes the NeighBSim score of (query, target).
func (s *Scorer) Score(query, target graph.FunctionID) (*Result, error) {
	if s.nb.Depth < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidNeighborhood, s.nb.Depth)
	}

	res := &Result{Query: query, Target: target}
	var err error
	if res.QueryCallers, err = s.neighborhood(s.qcg, query, graph.DirectionCallers); err != nil {
		return nil, err
	}
	if res.TargetCallers, err = s.neighborhood(s.tcg, target, graph.DirectionCallers); err != nil {
		return nil, err
	}
	if res.QueryCallees, err = s.neighborhood(s.qcg, query, graph.DirectionCallees); err != nil {
		return nil, err
	}
	if res.TargetCallees, err = s.neighborhood(s.tcg, target, graph.DirectionCallees); err != nil {
		return nil, err
	}

	if res.CallerMatching, err = s.assign(res.QueryCallers, res.TargetCallers); err != nil {
		return nil, err
	}
	if res.CalleeMatching, err = s.assign(res.QueryCallees, res.TargetCallees); err != nil {
		return nil, err
	}

	res.Direct, err = s.sg.Weight(query, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompleteSimilarityGraph, err)
	}

	raw := res.Direct + res.CallerMatching.TotalWeight() + res.CalleeMatching.TotalWeight()
	n := len(res.QueryCallers) + len(res.TargetCallers) + len(res.QueryCallees) + len(res.TargetCallees)
	res.Score = 2 * raw / float64(2+n)

	return res, nil
}

// neighborhood returns the sorted neighborhood of id without id itself, so
// that recursion does not let a function match itself.
func (s *Scorer) neighborhood(cg *graph.CallGraph, id graph.FunctionID, dir graph.Direction) ([]graph.FunctionID, error) {
	ids, err := cg.Reachable(id, dir, s.nb.Depth)
	if err != nil {
		return nil, fmt.Errorf("%s of %d: %w", dir, id, err)
	}
	ids = slices.DeleteFunc(ids, func(n graph.FunctionID) bool { return n == id })
	slices.Sort(ids)
	return ids, nil
}

func (s *Scorer) assign(qids, tids []graph.FunctionID) (*graph.Matching, error) {
	sub := s.sg.Restrict(graph.NewIDSet(qids...).Union(graph.NewIDSet(tids...)))

	a, err := assignment.Solve(qids, tids, func(q, t graph.FunctionID) (float64, error) {
		w, err := sub.Weight(q, t)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrIncompleteSimilarityGraph, err)
		}
		return -w, nil
	})
	if err != nil {
		return nil, err
	}

	m := graph.NewMatching()
	for _, p := range a.Pairs {
		if err := m.Add(p.Left, p.Right, -p.Cost); err != nil {
			return nil, err
		}
	}
	return m, nil
}
