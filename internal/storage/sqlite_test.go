package storage

import (
	"context"
	"path/filepath"
	"testing"

	"funcmatch/internal/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_AddBinary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.AddBinary(ctx, "busybox", "/fw/a/busybox", "amd64")
	require.NoError(t, err)
	id2, err := store.AddBinary(ctx, "busybox", "/fw/b/busybox", "arm64")
	require.NoError(t, err)
	again, err := store.AddBinary(ctx, "busybox-renamed", "/fw/a/busybox", "amd64")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, id1, again)

	b, err := store.GetBinary(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "busybox-renamed", b.Name)

	all, err := store.ListBinaries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = store.GetBinary(ctx, 999)
	assert.Error(t, err)
}

func TestSQLiteStore_SaveCallGraph_SnapshotSync(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bin, err := store.AddBinary(ctx, "a", "/a", "amd64")
	require.NoError(t, err)

	// Initial snapshot: 1 -> 2.
	require.NoError(t, store.SaveCallGraph(ctx, bin,
		[]Function{{ID: 1, Name: "f1", Section: ".text"}, {ID: 2, Name: "f2", Section: ".text"}},
		[]graph.Edge{{From: 1, To: 2}},
	))

	// New snapshot: remove 1, add 3 and replace the edge with 3 -> 2.
	require.NoError(t, store.SaveCallGraph(ctx, bin,
		[]Function{{ID: 2, Name: "f2", Section: ".text"}, {ID: 3, Name: "f3", Section: ".text", Address: 0x401000, Size: 32}},
		[]graph.Edge{{From: 3, To: 2}},
	))

	fns, err := store.Functions(ctx, bin)
	require.NoError(t, err)
	require.Len(t, fns, 2)
	assert.Equal(t, graph.FunctionID(3), fns[1].ID)
	assert.Equal(t, uint64(0x401000), fns[1].Address)
	assert.Equal(t, uint64(32), fns[1].Size)

	cg, err := store.CallGraph(ctx, bin)
	require.NoError(t, err)
	assert.Equal(t, 2, cg.Len())
	assert.Equal(t, []graph.Edge{{From: 3, To: 2}}, cg.Edges())
}

func TestSQLiteStore_CallGraphExcludesStubs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bin, err := store.AddBinary(ctx, "a", "/a", "amd64")
	require.NoError(t, err)
	require.NoError(t, store.SaveCallGraph(ctx, bin,
		[]Function{
			{ID: 1, Name: "main", Section: ".text"},
			{ID: 2, Name: "helper", Section: ".text"},
			{ID: 3, Name: "printf", Section: ".plt"},
			{ID: 4, Name: "malloc", Section: "extern"},
		},
		[]graph.Edge{{From: 1, To: 2}, {From: 1, To: 3}, {From: 2, To: 4}},
	))

	cg, err := store.CallGraph(ctx, bin)
	require.NoError(t, err)
	assert.Equal(t, []graph.FunctionID{1, 2}, cg.FunctionIDs())
	assert.Equal(t, []graph.Edge{{From: 1, To: 2}}, cg.Edges())

	store.SetExcludedSections(nil)
	cg, err = store.CallGraph(ctx, bin)
	require.NoError(t, err)
	assert.Equal(t, 4, cg.Len())
	assert.Equal(t, 3, cg.EdgeCount())
}

func seedSimilarities(t *testing.T, store *SQLiteStore) (int64, int64) {
	t.Helper()
	ctx := context.Background()

	qb, err := store.AddBinary(ctx, "q", "/q", "amd64")
	require.NoError(t, err)
	tb, err := store.AddBinary(ctx, "t", "/t", "amd64")
	require.NoError(t, err)
	other, err := store.AddBinary(ctx, "o", "/o", "amd64")
	require.NoError(t, err)

	require.NoError(t, store.SaveCallGraph(ctx, qb, []Function{{ID: 1}, {ID: 2}}, nil))
	require.NoError(t, store.SaveCallGraph(ctx, tb, []Function{{ID: 101}, {ID: 102}}, nil))
	require.NoError(t, store.SaveCallGraph(ctx, other, []Function{{ID: 201}}, nil))

	require.NoError(t, store.SaveSimilarities(ctx, []Similarity{
		{Query: 1, Target: 101, Similarity: 0.9},
		{Query: 1, Target: 102, Similarity: 0.2},
		{Query: 2, Target: 101, Similarity: 0.3},
		{Query: 2, Target: 102, Similarity: 0.1},
		{Query: 1, Target: 201, Similarity: 0.99},
	}))
	// Upsert overwrites.
	require.NoError(t, store.SaveSimilarities(ctx, []Similarity{{Query: 2, Target: 102, Similarity: 0.8}}))
	return qb, tb
}

func TestSQLiteStore_SimilarityGraph(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	qb, tb := seedSimilarities(t, store)

	g, err := store.SimilarityGraph(ctx, qb, tb)
	require.NoError(t, err)
	assert.Equal(t, 4, g.EdgeCount())
	assert.False(t, g.Contains(201))

	w, err := g.Weight(2, 102)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, w, 1e-12)

	side, ok := g.Side(101)
	require.True(t, ok)
	assert.Equal(t, graph.SideTarget, side)
	require.NoError(t, g.CheckComplete([]graph.FunctionID{1, 2}, []graph.FunctionID{101, 102}))

	_, err = store.SimilarityGraph(ctx, qb, qb)
	assert.ErrorIs(t, err, ErrSameBinary)
}

func TestSQLiteStore_NeighborhoodSimilarityGraph(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	qb, tb := seedSimilarities(t, store)

	g, err := store.NeighborhoodSimilarityGraph(ctx, qb, tb, []graph.FunctionID{1}, []graph.FunctionID{102})
	require.NoError(t, err)
	assert.Equal(t, 1, g.EdgeCount())
	w, err := g.Weight(1, 102)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, w, 1e-12)

	err = g.CheckComplete([]graph.FunctionID{1, 2}, []graph.FunctionID{102})
	var missing *graph.MissingEdgeError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, graph.FunctionID(2), missing.A)
}

func TestSQLiteStore_PairsAndResults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.AddPair(ctx, Pair{QueryBinary: 1, QueryFunction: 1, TargetBinary: 2, TargetFunction: 101, Label: true})
	require.NoError(t, err)
	id2, err := store.AddPair(ctx, Pair{QueryBinary: 1, QueryFunction: 2, TargetBinary: 2, TargetFunction: 101})
	require.NoError(t, err)
	again, err := store.AddPair(ctx, Pair{QueryBinary: 1, QueryFunction: 1, TargetBinary: 2, TargetFunction: 101, Label: true})
	require.NoError(t, err)
	assert.Equal(t, id1, again)

	pairs, err := store.Pairs(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.True(t, pairs[0].Label)
	assert.False(t, pairs[1].Label)
	assert.Equal(t, graph.FunctionID(101), pairs[1].TargetFunction)

	require.NoError(t, store.SaveResult(ctx, Result{PairID: id1, FirmUPStatus: "matched", FirmUPTarget: 101, FirmUPSteps: 1, NeighBSimScore: 0.75}))
	require.NoError(t, store.SaveResult(ctx, Result{PairID: id2, FirmUPStatus: "unmatched", FirmUPReason: "stuck", FirmUPSteps: 4}))
	require.NoError(t, store.SaveResult(ctx, Result{PairID: id1, FirmUPStatus: "matched", FirmUPTarget: 101, FirmUPSteps: 1, NeighBSimScore: 0.5}))

	results, err := store.Results(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, 0.5, results[0].NeighBSimScore, 1e-12)
	assert.Equal(t, "stuck", results[1].FirmUPReason)
	assert.Empty(t, results[1].Error)
}
