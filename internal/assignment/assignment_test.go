package assignment

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"funcmatch/internal/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matrixCost(l, r []graph.FunctionID, m [][]float64) CostFunc {
	li := make(map[graph.FunctionID]int)
	for i, id := range l {
		li[id] = i
	}
	ri := make(map[graph.FunctionID]int)
	for j, id := range r {
		ri[id] = j
	}
	return func(a, b graph.FunctionID) (float64, error) {
		return m[li[a]][ri[b]], nil
	}
}

// bruteForce enumerates every injective mapping of the smaller side.
func bruteForce(n, m int, cost func(i, j int) float64) float64 {
	if n > m {
		return bruteForce(m, n, func(i, j int) float64 { return cost(j, i) })
	}
	best := math.Inf(1)
	used := make([]bool, m)
	var rec func(i int, acc float64)
	rec = func(i int, acc float64) {
		if i == n {
			best = min(best, acc)
			return
		}
		for j := 0; j < m; j++ {
			if used[j] {
				continue
			}
			used[j] = true
			rec(i+1, acc+cost(i, j))
			used[j] = false
		}
	}
	rec(0, 0)
	return best
}

func TestSolve_Square(t *testing.T) {
	l := []graph.FunctionID{1, 2, 3}
	r := []graph.FunctionID{10, 20, 30}
	m := [][]float64{
		{4, 1, 3},
		{2, 0, 5},
		{3, 2, 2},
	}

	a, err := Solve(l, r, matrixCost(l, r, m))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, a.Cost, 1e-9)
	assert.Equal(t, []Pair{
		{Left: 1, Right: 20, Cost: 1},
		{Left: 2, Right: 10, Cost: 2},
		{Left: 3, Right: 30, Cost: 2},
	}, a.Pairs)
}

func TestSolve_Rectangular(t *testing.T) {
	t.Run("More columns than rows", func(t *testing.T) {
		l := []graph.FunctionID{1, 2}
		r := []graph.FunctionID{10, 20, 30}
		m := [][]float64{
			{-0.9, -0.1, -0.5},
			{-0.8, -0.2, -0.7},
		}
		a, err := Solve(l, r, matrixCost(l, r, m))
		require.NoError(t, err)
		require.Len(t, a.Pairs, 2)
		assert.InDelta(t, -1.6, a.Cost, 1e-9)
		assert.Equal(t, graph.FunctionID(10), a.Pairs[0].Right)
		assert.Equal(t, graph.FunctionID(30), a.Pairs[1].Right)
	})

	t.Run("More rows than columns", func(t *testing.T) {
		l := []graph.FunctionID{1, 2, 3}
		r := []graph.FunctionID{10}
		m := [][]float64{{-0.2}, {-0.9}, {-0.4}}
		a, err := Solve(l, r, matrixCost(l, r, m))
		require.NoError(t, err)
		assert.Equal(t, []Pair{{Left: 2, Right: 10, Cost: -0.9}}, a.Pairs)
	})
}

func TestSolve_EmptySide(t *testing.T) {
	called := false
	cost := func(a, b graph.FunctionID) (float64, error) {
		called = true
		return 0, nil
	}

	a, err := Solve(nil, []graph.FunctionID{1, 2}, cost)
	require.NoError(t, err)
	assert.Empty(t, a.Pairs)
	assert.Zero(t, a.Cost)

	a, err = Solve([]graph.FunctionID{1}, nil, cost)
	require.NoError(t, err)
	assert.Empty(t, a.Pairs)
	assert.False(t, called)
}

func TestSolve_Errors(t *testing.T) {
	boom := errors.New("boom")
	_, err := Solve([]graph.FunctionID{1}, []graph.FunctionID{2}, func(a, b graph.FunctionID) (float64, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = Solve([]graph.FunctionID{1}, []graph.FunctionID{2}, func(a, b graph.FunctionID) (float64, error) {
		return math.NaN(), nil
	})
	assert.ErrorIs(t, err, ErrInvalidCost)
}

func TestSolve_DuplicatesIgnored(t *testing.T) {
	l := []graph.FunctionID{2, 1, 2}
	r := []graph.FunctionID{10, 10}
	a, err := Solve(l, r, func(a, b graph.FunctionID) (float64, error) {
		return float64(a), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Pair{{Left: 1, Right: 10, Cost: 1}}, a.Pairs)
}

func TestSolve_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for trial := range 200 {
		n := 1 + rng.IntN(5)
		m := 1 + rng.IntN(5)

		l := make([]graph.FunctionID, n)
		for i := range l {
			l[i] = graph.FunctionID(i + 1)
		}
		r := make([]graph.FunctionID, m)
		for j := range r {
			r[j] = graph.FunctionID(100 + j)
		}
		mat := make([][]float64, n)
		for i := range mat {
			mat[i] = make([]float64, m)
			for j := range mat[i] {
				// Coarse values force plenty of ties.
				mat[i][j] = -float64(rng.IntN(5)) / 4
			}
		}

		a, err := Solve(l, r, matrixCost(l, r, mat))
		require.NoError(t, err)

		want := bruteForce(n, m, func(i, j int) float64 { return mat[i][j] })
		assert.InDelta(t, want, a.Cost, 1e-9, "trial %d (%dx%d)", trial, n, m)
		assert.Len(t, a.Pairs, min(n, m))

		seenL := make(map[graph.FunctionID]bool)
		seenR := make(map[graph.FunctionID]bool)
		for _, p := range a.Pairs {
			assert.False(t, seenL[p.Left])
			assert.False(t, seenR[p.Right])
			seenL[p.Left] = true
			seenR[p.Right] = true
		}
	}
}
