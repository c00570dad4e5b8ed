package retrieval

import (
	"testing"

	"funcmatch/internal/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(binaryID int64, base graph.FunctionID) *graph.CallGraph {
	// base+3 -> base+2 -> base+1 -> base+4
	cg := graph.NewCallGraph(binaryID)
	for i := graph.FunctionID(1); i <= 4; i++ {
		cg.AddFunction(graph.Function{ID: base + i})
	}
	cg.AddCall(base+3, base+2)
	cg.AddCall(base+2, base+1)
	cg.AddCall(base+1, base+4)
	return cg
}

func TestExtract_HopLimit(t *testing.T) {
	cg := chain(1, 0)

	n, err := Extract(cg, 1, Config{MaxHops: 1})
	require.NoError(t, err)
	assert.Equal(t, []graph.FunctionID{2}, n.Callers)
	assert.Equal(t, []graph.FunctionID{4}, n.Callees)
	assert.Equal(t, []graph.FunctionID{1, 2, 4}, n.IDs())

	n, err = Extract(cg, 1, Config{MaxHops: 2})
	require.NoError(t, err)
	assert.Equal(t, []graph.FunctionID{2, 3}, n.Callers)
	assert.Equal(t, []graph.FunctionID{1, 2, 3, 4}, n.IDs())

	n, err = Extract(cg, 1, Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, n.MaxHops, "hops below one fall back to direct neighbors")
}

func TestExtract_UnknownSeed(t *testing.T) {
	_, err := Extract(chain(1, 0), 42, DefaultConfig())
	assert.ErrorIs(t, err, graph.ErrUnknownFunction)
}

func TestExtractScope(t *testing.T) {
	qcg := chain(1, 0)
	tcg := chain(2, 100)

	scope, err := ExtractScope(qcg, tcg, 1, []graph.FunctionID{101, 103}, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []graph.FunctionID{1, 2, 4}, scope.QueryIDs)
	assert.Equal(t, []graph.FunctionID{101, 102, 103, 104}, scope.TargetIDs)
	assert.Equal(t, 12, scope.Pairs())
}

func TestExtractPair(t *testing.T) {
	qcg := chain(1, 0)
	tcg := chain(2, 100)

	scope, err := ExtractPair(qcg, tcg, 2, 104, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []graph.FunctionID{1, 2, 3}, scope.QueryIDs)
	assert.Equal(t, []graph.FunctionID{101, 104}, scope.TargetIDs)
	assert.Equal(t, 6, scope.Pairs())
}
