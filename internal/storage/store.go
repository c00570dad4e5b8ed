package storage

import (
	"context"

	"funcmatch/internal/graph"
)

// Store combines binary, similarity and evaluation storage.
type Store interface {
	BinaryStore
	SimilarityStore
	EvaluationStore
	Close() error
}

// CallGraphProvider supplies the call graph of one binary.
type CallGraphProvider interface {
	CallGraph(ctx context.Context, binaryID int64) (*graph.CallGraph, error)
}

// SimilarityProvider supplies similarity graphs between two binaries.
type SimilarityProvider interface {
	// SimilarityGraph loads every stored similarity between the binaries.
	SimilarityGraph(ctx context.Context, queryBinary, targetBinary int64) (*graph.SimilarityGraph, error)

	// NeighborhoodSimilarityGraph loads only the similarities among the
	// given query-side and target-side functions.
	NeighborhoodSimilarityGraph(ctx context.Context, queryBinary, targetBinary int64, queryIDs, targetIDs []graph.FunctionID) (*graph.SimilarityGraph, error)
}

// BinaryStore persists binaries and their call graphs.
type BinaryStore interface {
	CallGraphProvider

	// AddBinary registers a binary by path and returns its id. Re-adding a
	// path returns the existing id.
	AddBinary(ctx context.Context, name, path, arch string) (int64, error)

	GetBinary(ctx context.Context, id int64) (*Binary, error)
	ListBinaries(ctx context.Context) ([]Binary, error)

	// SaveCallGraph replaces the functions and call edges of a binary.
	SaveCallGraph(ctx context.Context, binaryID int64, functions []Function, edges []graph.Edge) error

	Functions(ctx context.Context, binaryID int64) ([]Function, error)
}

// SimilarityStore persists pairwise function similarities.
type SimilarityStore interface {
	SimilarityProvider

	// SaveSimilarities upserts similarity rows.
	SaveSimilarities(ctx context.Context, rows []Similarity) error
}

// EvaluationStore persists candidate pairs and their evaluation results.
type EvaluationStore interface {
	AddPair(ctx context.Context, p Pair) (int64, error)
	Pairs(ctx context.Context) ([]Pair, error)
	SaveResult(ctx context.Context, r Result) error
	Results(ctx context.Context) ([]Result, error)
}

// Binary is a registered binary.
type Binary struct {
	ID   int64
	Name string
	Path string
	Arch string
}

// Function is a stored function row.
type Function struct {
	ID       graph.FunctionID
	BinaryID int64
	Name     string
	Section  string
	Address  uint64
	Size     uint64
}

// Similarity is one query/target similarity row.
type Similarity struct {
	Query      graph.FunctionID
	Target     graph.FunctionID
	Similarity float64
}

// Pair is a candidate (query, target) pair to evaluate.
type Pair struct {
	ID             int64
	QueryBinary    int64
	QueryFunction  graph.FunctionID
	TargetBinary   int64
	TargetFunction graph.FunctionID
	// Label marks ground-truth matches.
	Label bool
}

// Result is the evaluation outcome of one pair.
type Result struct {
	PairID         int64
	FirmUPStatus   string
	FirmUPReason   string
	FirmUPTarget   graph.FunctionID
	FirmUPSteps    int
	NeighBSimScore float64
	Error          string
}
