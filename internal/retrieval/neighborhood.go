package retrieval

import (
	"fmt"
	"slices"

	"funcmatch/internal/graph"
)

// Config controls how far neighborhoods are extracted.
type Config struct {
	MaxHops int
}

func DefaultConfig() Config {
	return Config{MaxHops: 1}
}

// Neighborhood is a function together with the callers and callees within
// MaxHops, the set a similarity provider must cover for that function.
type Neighborhood struct {
	Seed    graph.FunctionID
	MaxHops int
	Callers []graph.FunctionID
	Callees []graph.FunctionID
}

// IDs returns the seed, callers and callees, sorted and deduplicated.
func (n *Neighborhood) IDs() []graph.FunctionID {
	ids := make([]graph.FunctionID, 0, 1+len(n.Callers)+len(n.Callees))
	ids = append(ids, n.Seed)
	ids = append(ids, n.Callers...)
	ids = append(ids, n.Callees...)
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Extract collects the neighborhood of seed in cg.
func Extract(cg *graph.CallGraph, seed graph.FunctionID, cfg Config) (*Neighborhood, error) {
	if cg == nil {
		return nil, fmt.Errorf("nil call graph")
	}
	if cfg.MaxHops < 1 {
		cfg.MaxHops = 1
	}

	callers, err := cg.Reachable(seed, graph.DirectionCallers, cfg.MaxHops)
	if err != nil {
		return nil, err
	}
	callees, err := cg.Reachable(seed, graph.DirectionCallees, cfg.MaxHops)
	if err != nil {
		return nil, err
	}

	return &Neighborhood{
		Seed:    seed,
		MaxHops: cfg.MaxHops,
		Callers: sortedUnique(callers),
		Callees: sortedUnique(callees),
	}, nil
}

// PairScope lists the query-side and target-side functions whose pairwise
// similarities are needed to score a set of candidate pairs.
type PairScope struct {
	QueryIDs  []graph.FunctionID
	TargetIDs []graph.FunctionID
}

// Pairs reports how many similarities the scope requires.
func (s *PairScope) Pairs() int {
	return len(s.QueryIDs) * len(s.TargetIDs)
}

// ExtractScope merges the neighborhood of query in qcg with the
// neighborhoods of every target in tcg.
func ExtractScope(qcg, tcg *graph.CallGraph, query graph.FunctionID, targets []graph.FunctionID, cfg Config) (*PairScope, error) {
	qn, err := Extract(qcg, query, cfg)
	if err != nil {
		return nil, fmt.Errorf("query neighborhood: %w", err)
	}

	var tids []graph.FunctionID
	for _, target := range targets {
		tn, err := Extract(tcg, target, cfg)
		if err != nil {
			return nil, fmt.Errorf("target neighborhood: %w", err)
		}
		tids = append(tids, tn.IDs()...)
	}

	return &PairScope{
		QueryIDs:  qn.IDs(),
		TargetIDs: sortedUnique(tids),
	}, nil
}

// ExtractPair is ExtractScope for a single candidate pair.
func ExtractPair(qcg, tcg *graph.CallGraph, query, target graph.FunctionID, cfg Config) (*PairScope, error) {
	return ExtractScope(qcg, tcg, query, []graph.FunctionID{target}, cfg)
}

func sortedUnique(ids []graph.FunctionID) []graph.FunctionID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
