// Package assignment solves the rectangular assignment problem: pair every
// element of the smaller of two sets with a distinct element of the larger
// one so that the summed cost is minimal.
package assignment

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"funcmatch/internal/graph"
)

// ErrInvalidCost is returned when the cost function yields NaN or an infinity.
var ErrInvalidCost = errors.New("invalid assignment cost")

// CostFunc returns the cost of assigning l to r.
type CostFunc func(l, r graph.FunctionID) (float64, error)

// Pair is one assigned (left, right) element with its cost.
type Pair struct {
	Left  graph.FunctionID `json:"left"`
	Right graph.FunctionID `json:"right"`
	Cost  float64          `json:"cost"`
}

// Assignment is a minimum-cost one-to-one assignment.
type Assignment struct {
	Pairs []Pair  `json:"pairs"`
	Cost  float64 `json:"cost"`
}

// Solve computes a minimum-cost assignment between left and right. Every
// element of the smaller side is assigned. Duplicate ids are ignored. An
// empty side yields an empty assignment with zero cost. Pairs are ordered by
// left id.
func Solve(left, right []graph.FunctionID, cost CostFunc) (*Assignment, error) {
	ls := dedupSorted(left)
	rs := dedupSorted(right)
	if len(ls) == 0 || len(rs) == 0 {
		return &Assignment{}, nil
	}

	// Rows must not outnumber columns.
	transposed := len(ls) > len(rs)
	rows, cols := ls, rs
	if transposed {
		rows, cols = rs, ls
	}

	matrix := make([][]float64, len(rows))
	for i, rid := range rows {
		matrix[i] = make([]float64, len(cols))
		for j, cid := range cols {
			l, r := rid, cid
			if transposed {
				l, r = cid, rid
			}
			c, err := cost(l, r)
			if err != nil {
				return nil, err
			}
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return nil, fmt.Errorf("%w: %v for (%d, %d)", ErrInvalidCost, c, l, r)
			}
			matrix[i][j] = c
		}
	}

	colOf := hungarian(matrix)

	out := &Assignment{Pairs: make([]Pair, 0, len(rows))}
	for i, j := range colOf {
		p := Pair{Left: rows[i], Right: cols[j], Cost: matrix[i][j]}
		if transposed {
			p.Left, p.Right = cols[j], rows[i]
		}
		out.Pairs = append(out.Pairs, p)
		out.Cost += p.Cost
	}
	slices.SortFunc(out.Pairs, func(a, b Pair) int {
		return cmp.Compare(a.Left, b.Left)
	})
	return out, nil
}

func dedupSorted(ids []graph.FunctionID) []graph.FunctionID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// hungarian solves an n x m cost matrix with n <= m using the potentials
// formulation of the Hungarian method in O(n^2 m). It returns, for every row,
// the assigned column.
func hungarian(a [][]float64) []int {
	n := len(a)
	m := len(a[0])
	inf := math.Inf(1)

	// 1-based; index 0 is the virtual start column.
	u := make([]float64, n+1)
	v := make([]float64, m+1)
	p := make([]int, m+1)   // p[j]: row assigned to column j
	way := make([]int, m+1) // way[j]: previous column on the augmenting path

	minv := make([]float64, m+1)
	used := make([]bool, m+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := 0
			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				cur := a[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= m; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	colOf := make([]int, n)
	for j := 1; j <= m; j++ {
		if p[j] != 0 {
			colOf[p[j]-1] = j - 1
		}
	}
	return colOf
}
