package analysis

import (
	"cmp"
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"funcmatch/internal/graph"
	"funcmatch/internal/neighbsim"
)

// Candidate is one scored target of a ranking.
type Candidate struct {
	Target graph.FunctionID
	Score  float64
	Result *neighbsim.Result
}

// Ranking orders candidate targets of a query by NeighBSim score.
type Ranking struct {
	Query      graph.FunctionID
	Candidates []Candidate
}

// Top returns the best candidate, if any.
func (r *Ranking) Top() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

// Rank returns the 1-based position of target, or 0 when absent.
func (r *Ranking) Rank(target graph.FunctionID) int {
	for i, c := range r.Candidates {
		if c.Target == target {
			return i + 1
		}
	}
	return 0
}

// Analyzer re-ranks candidate matches with neighborhood similarity.
type Analyzer struct {
	scorer  *neighbsim.Scorer
	workers int
}

// NewAnalyzer creates a new analyzer over one query/target binary pair.
func NewAnalyzer(qcg, tcg *graph.CallGraph, sg graph.WeightedGraph, nb neighbsim.Neighborhood) *Analyzer {
	return &Analyzer{
		scorer:  neighbsim.NewScorer(qcg, tcg, sg, nb),
		workers: 4,
	}
}

// WithWorkers bounds the number of targets scored concurrently.
func (a *Analyzer) WithWorkers(n int) *Analyzer {
	if n > 0 {
		a.workers = n
	}
	return a
}

// RankCandidates scores query against every target and sorts the targets
// by score descending, then by id ascending. Duplicate targets are scored
// once. The first scoring error aborts the ranking.
func (a *Analyzer) RankCandidates(ctx context.Context, query graph.FunctionID, targets []graph.FunctionID) (*Ranking, error) {
	targets = slices.Clone(targets)
	slices.Sort(targets)
	targets = slices.Compact(targets)

	candidates := make([]Candidate, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, target := range targets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := a.scorer.Score(query, target)
			if err != nil {
				return err
			}
			candidates[i] = Candidate{Target: target, Score: res.Score, Result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(candidates, func(x, y Candidate) int {
		if c := cmp.Compare(y.Score, x.Score); c != 0 {
			return c
		}
		return cmp.Compare(x.Target, y.Target)
	})
	return &Ranking{Query: query, Candidates: candidates}, nil
}
