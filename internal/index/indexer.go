package index

import (
	"context"
	"fmt"
	"path/filepath"

	"funcmatch/internal/crawler"
	"funcmatch/internal/extractor"
	"funcmatch/internal/graph"
	"funcmatch/internal/logging"
	"funcmatch/internal/storage"
)

// Store is the subset of storage the indexer writes to.
type Store interface {
	AddBinary(ctx context.Context, name, path, arch string) (int64, error)
	SaveCallGraph(ctx context.Context, binaryID int64, functions []storage.Function, edges []graph.Edge) error
}

// Summary reports one indexed binary.
type Summary struct {
	BinaryID  int64
	Path      string
	Functions int
	Edges     int
}

// Indexer orchestrates call graph extraction and persistence.
type Indexer struct {
	crawler   *crawler.Crawler
	extractor *extractor.Extractor
	store     Store
	logger    *logging.Logger
}

// NewIndexer creates a new indexer.
func NewIndexer(c *crawler.Crawler, ext *extractor.Extractor, store Store, logger *logging.Logger) *Indexer {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Indexer{
		crawler:   c,
		extractor: ext,
		store:     store,
		logger:    logger,
	}
}

// IndexFile extracts one binary and saves its call graph.
func (i *Indexer) IndexFile(ctx context.Context, path string) (*Summary, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	// Register first so the extractor can derive global function ids.
	id, err := i.store.AddBinary(ctx, filepath.Base(abs), abs, "")
	if err != nil {
		return nil, fmt.Errorf("register binary: %w", err)
	}

	bin, err := i.extractor.ExtractFromFile(abs, id)
	if err != nil {
		i.logger.LogIngest(ctx, abs, 0, 0, err)
		return nil, err
	}
	if _, err := i.store.AddBinary(ctx, bin.Name, abs, string(bin.Arch)); err != nil {
		return nil, fmt.Errorf("register binary: %w", err)
	}

	functions := make([]storage.Function, 0, len(bin.Symbols))
	for _, s := range bin.Symbols {
		functions = append(functions, storage.Function{
			ID:       s.ID,
			BinaryID: id,
			Name:     s.Name,
			Section:  s.Section,
			Address:  s.Address,
			Size:     s.Size,
		})
	}
	edges := bin.CallGraph.Edges()
	if err := i.store.SaveCallGraph(ctx, id, functions, edges); err != nil {
		return nil, fmt.Errorf("save call graph: %w", err)
	}

	i.logger.LogIngest(ctx, abs, len(functions), len(edges), nil)
	return &Summary{BinaryID: id, Path: abs, Functions: len(functions), Edges: len(edges)}, nil
}

// IndexTree indexes every ELF binary under root. Binaries that fail to
// extract are logged and skipped.
func (i *Indexer) IndexTree(ctx context.Context, root string) ([]Summary, error) {
	var out []Summary
	err := i.crawler.Scan(root, func(path string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := i.IndexFile(ctx, path)
		if err != nil {
			return nil
		}
		out = append(out, *s)
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("scan failed: %w", err)
	}
	return out, nil
}
