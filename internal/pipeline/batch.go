package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"funcmatch/internal/firmup"
	"funcmatch/internal/graph"
	"funcmatch/internal/logging"
	"funcmatch/internal/neighbsim"
	"funcmatch/internal/storage"
)

// Store is what a batch run reads pairs and graphs from and writes results to.
type Store interface {
	storage.CallGraphProvider
	storage.SimilarityProvider
	Pairs(ctx context.Context) ([]storage.Pair, error)
	SaveResult(ctx context.Context, r storage.Result) error
}

// Options configures a batch run.
type Options struct {
	Workers int
	// MaxSteps bounds each FirmUP run; <= 0 means unbounded.
	MaxSteps int
	Depth    int
}

// Report summarizes a batch run.
type Report struct {
	Total    int
	Failed   int
	Matched  int
	Duration time.Duration
}

type binaryPair struct {
	query, target int64
}

// pairGraphs is loaded once per binary pair and shared read-only by workers.
type pairGraphs struct {
	once sync.Once
	qcg  *graph.CallGraph
	tcg  *graph.CallGraph
	sg   *graph.SimilarityGraph
	err  error
}

// Batch evaluates FirmUP and NeighBSim over every stored candidate pair.
type Batch struct {
	store  Store
	logger *logging.Logger
	opts   Options

	mu     sync.Mutex
	graphs map[binaryPair]*pairGraphs
}

func NewBatch(store Store, logger *logging.Logger, opts Options) *Batch {
	if logger == nil {
		logger = logging.Noop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Depth < 1 {
		opts.Depth = 1
	}
	return &Batch{
		store:  store,
		logger: logger,
		opts:   opts,
		graphs: make(map[binaryPair]*pairGraphs),
	}
}

// Run evaluates all pairs. Evaluation failures are recorded on the pair's
// result and counted; only storage failures abort the run.
func (b *Batch) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	b.mu.Lock()
	clear(b.graphs)
	b.mu.Unlock()

	pairs, err := b.store.Pairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pairs: %w", err)
	}

	var failed, matched atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for _, p := range pairs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res := b.evaluate(ctx, p)
			if res.Error != "" {
				failed.Add(1)
			}
			if res.FirmUPStatus == string(firmup.StatusMatched) {
				matched.Add(1)
			}
			if err := b.store.SaveResult(ctx, res); err != nil {
				return fmt.Errorf("save result of pair %d: %w", p.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		Total:    len(pairs),
		Failed:   int(failed.Load()),
		Matched:  int(matched.Load()),
		Duration: time.Since(start),
	}
	b.logger.LogBatch(ctx, report.Total, report.Failed)
	return report, nil
}

func (b *Batch) evaluate(ctx context.Context, p storage.Pair) storage.Result {
	res := storage.Result{PairID: p.ID}
	log := b.logger.WithBinaryPair(p.QueryBinary, p.TargetBinary)

	pg := b.load(ctx, binaryPair{query: p.QueryBinary, target: p.TargetBinary})
	if pg.err != nil {
		res.Error = pg.err.Error()
		return res
	}

	var opts []firmup.Option
	if b.opts.MaxSteps > 0 {
		opts = append(opts, firmup.WithMaxSteps(b.opts.MaxSteps))
	}
	fr, err := firmup.NewMatcher(pg.sg, opts...).Match(p.QueryFunction)
	if err != nil {
		log.LogFirmUP(ctx, int64(p.QueryFunction), "", 0, 0, err)
		res.Error = err.Error()
		return res
	}
	log.LogFirmUP(ctx, int64(p.QueryFunction), string(fr.Status), fr.Steps, fr.Matching.Len(), nil)
	res.FirmUPStatus = string(fr.Status)
	res.FirmUPReason = string(fr.Reason)
	res.FirmUPTarget = fr.Target
	res.FirmUPSteps = fr.Steps

	scorer := neighbsim.NewScorer(pg.qcg, pg.tcg, pg.sg, neighbsim.Bounded(b.opts.Depth))
	nr, err := scorer.Score(p.QueryFunction, p.TargetFunction)
	if err != nil {
		log.LogNeighBSim(ctx, int64(p.QueryFunction), int64(p.TargetFunction), 0, err)
		res.Error = err.Error()
		return res
	}
	log.LogNeighBSim(ctx, int64(p.QueryFunction), int64(p.TargetFunction), nr.Score, nil)
	res.NeighBSimScore = nr.Score
	return res
}

func (b *Batch) load(ctx context.Context, key binaryPair) *pairGraphs {
	b.mu.Lock()
	pg, ok := b.graphs[key]
	if !ok {
		pg = &pairGraphs{}
		b.graphs[key] = pg
	}
	b.mu.Unlock()

	pg.once.Do(func() {
		if pg.qcg, pg.err = b.store.CallGraph(ctx, key.query); pg.err != nil {
			return
		}
		if pg.tcg, pg.err = b.store.CallGraph(ctx, key.target); pg.err != nil {
			return
		}
		pg.sg, pg.err = b.store.SimilarityGraph(ctx, key.query, key.target)
	})
	return pg
}
