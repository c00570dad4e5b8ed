// Package firmup derives a one-to-one function correspondence between two
// binaries by propagating mutual best matches over a similarity graph.
//
// Starting from a query function, the matcher repeatedly looks at the
// function on top of a work stack, finds its best remaining counterpart in
// the other binary and that counterpart's best remaining match. When both
// agree the pair is committed and leaves the candidate pool; otherwise the
// two functions standing in the way are pushed and resolved first. The run
// ends when the query function is paired, when no candidates remain, or when
// no further progress is possible.
package firmup

import (
	"fmt"

	"funcmatch/internal/graph"
)

// Status is the outcome of a FirmUP run.
type Status string

const (
	// StatusMatched means the query function was paired.
	StatusMatched Status = "matched"
	// StatusUnmatched means the run concluded that no pairing converges.
	StatusUnmatched Status = "unmatched"
	// StatusStepLimitExceeded means the step budget ran out first. It is
	// not a verdict on the query function.
	StatusStepLimitExceeded Status = "step_limit_exceeded"
)

// UnmatchedReason explains a StatusUnmatched result.
type UnmatchedReason string

const (
	ReasonNoCandidate    UnmatchedReason = "no_candidate"
	ReasonStuck          UnmatchedReason = "stuck"
	ReasonStackExhausted UnmatchedReason = "stack_exhausted"
)

// Result is the tagged outcome of Matcher.Match.
type Result struct {
	Status Status
	// Reason is set for StatusUnmatched.
	Reason UnmatchedReason
	// Target is the function paired with the query when Status is StatusMatched.
	Target graph.FunctionID
	// Matching holds every pair committed during the run.
	Matching *graph.Matching
	// Steps is the number of iterations performed.
	Steps int
}

func (r *Result) Matched() bool { return r.Status == StatusMatched }

type options struct {
	maxSteps int
	bounded  bool
}

// Option configures a Matcher.
type Option func(*options)

// WithMaxSteps bounds the number of iterations. A run that needs more
// reports StatusStepLimitExceeded. Zero is a valid budget.
func WithMaxSteps(n int) Option {
	return func(o *options) {
		o.maxSteps = max(n, 0)
		o.bounded = true
	}
}

// Matcher runs FirmUP on one similarity graph. It never modifies the graph,
// so one Matcher may serve concurrent Match calls.
type Matcher struct {
	g    graph.WeightedGraph
	opts options
}

// NewMatcher creates a matcher for a complete similarity graph between the
// query and target binaries.
func NewMatcher(g graph.WeightedGraph, opts ...Option) *Matcher {
	m := &Matcher{g: g}
	for _, opt := range opts {
		opt(&m.opts)
	}
	return m
}

// Match searches the correspondence for a function of the query binary.
// An error is only returned when the graph violates its completeness
// precondition.
func (m *Matcher) Match(query graph.FunctionID) (*Result, error) {
	matching := graph.NewMatching()
	stack := NewWorkStack(Entry{Side: graph.SideQuery, ID: query})
	steps := 0

	unmatched := func(reason UnmatchedReason) *Result {
		return &Result{Status: StatusUnmatched, Reason: reason, Matching: matching, Steps: steps}
	}

	for {
		if target, ok := matching.Partner(query); ok {
			return &Result{Status: StatusMatched, Target: target, Matching: matching, Steps: steps}, nil
		}
		if m.opts.bounded && steps >= m.opts.maxSteps {
			return &Result{Status: StatusStepLimitExceeded, Matching: matching, Steps: steps}, nil
		}

		top, ok := stack.Peek()
		if !ok {
			return unmatched(ReasonStackExhausted), nil
		}
		other := top.Side.Other()

		pool := m.g.Without(matching.IDs())

		forward, ok := pool.BestNeighbor(top.ID, nil)
		if !ok {
			return unmatched(ReasonNoCandidate), nil
		}
		backward, ok := pool.BestNeighbor(forward, nil)
		if !ok {
			return unmatched(ReasonNoCandidate), nil
		}

		modified := false
		if backward == top.ID {
			w, err := pool.Weight(top.ID, forward)
			if err != nil {
				return nil, err
			}
			if err := matching.Add(top.ID, forward, w); err != nil {
				return nil, fmt.Errorf("commit (%d, %d): %w", top.ID, forward, err)
			}
			stack.RemoveIfPresent(top)
			stack.RemoveIfPresent(Entry{Side: other, ID: forward})
			modified = true
		} else {
			if stack.PushIfAbsent(Entry{Side: other, ID: forward}) {
				modified = true
			}
			if stack.PushIfAbsent(Entry{Side: top.Side, ID: backward}) {
				modified = true
			}
		}
		steps++

		if !modified {
			return unmatched(ReasonStuck), nil
		}
	}
}
