package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"funcmatch/internal/analysis"
	"funcmatch/internal/config"
	"funcmatch/internal/crawler"
	"funcmatch/internal/extractor"
	"funcmatch/internal/firmup"
	"funcmatch/internal/graph"
	"funcmatch/internal/index"
	"funcmatch/internal/logging"
	"funcmatch/internal/neighbsim"
	"funcmatch/internal/pipeline"
	"funcmatch/internal/retrieval"
	"funcmatch/internal/simio"
	"funcmatch/internal/storage"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "funcmatch",
		Short: "Cross-binary function matching with call graph context",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				log.Fatalf("Failed to load config: %v", err)
			}
			if cmd.Flags().Changed("db") || cfg.Database.Path == "" {
				cfg.Database.Path = dbPath
			}
			logger = logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
		},
	}
	dbPath     string
	configPath string

	cfg    *config.Config
	logger *logging.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "funcmatch.db", "Path to the evaluation database (SQLite)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")

	firmupCmd.Flags().Int64Var(&queryBinary, "query-binary", 0, "Query binary id")
	firmupCmd.Flags().Int64Var(&targetBinary, "target-binary", 0, "Target binary id")
	firmupCmd.Flags().Int64Var(&queryFunction, "function", 0, "Query function id")
	firmupCmd.Flags().IntVar(&maxSteps, "max-steps", -1, "Step budget (default from config, <= 0 unbounded)")

	neighbsimCmd.Flags().Int64Var(&queryBinary, "query-binary", 0, "Query binary id")
	neighbsimCmd.Flags().Int64Var(&targetBinary, "target-binary", 0, "Target binary id")
	neighbsimCmd.Flags().Int64Var(&queryFunction, "query", 0, "Query function id")
	neighbsimCmd.Flags().Int64Var(&targetFunction, "target", 0, "Target function id")
	neighbsimCmd.Flags().IntVar(&depth, "depth", 0, "Neighborhood depth (default from config)")

	rankCmd.Flags().Int64Var(&queryBinary, "query-binary", 0, "Query binary id")
	rankCmd.Flags().Int64Var(&targetBinary, "target-binary", 0, "Target binary id")
	rankCmd.Flags().Int64Var(&queryFunction, "query", 0, "Query function id")
	rankCmd.Flags().Int64SliceVar(&targetFunctions, "targets", nil, "Candidate target function ids")
	rankCmd.Flags().IntVar(&depth, "depth", 0, "Neighborhood depth (default from config)")
	rankCmd.Flags().IntVar(&top, "top", 10, "Number of candidates to print")

	batchCmd.Flags().StringVar(&pairsPath, "pairs", "", "CSV of candidate pairs to add before evaluating")

	for _, c := range []*cobra.Command{firmupCmd, neighbsimCmd, rankCmd} {
		_ = c.MarkFlagRequired("query-binary")
		_ = c.MarkFlagRequired("target-binary")
	}

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(firmupCmd)
	rootCmd.AddCommand(neighbsimCmd)
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(batchCmd)
}

var (
	queryBinary     int64
	targetBinary    int64
	queryFunction   int64
	targetFunction  int64
	targetFunctions []int64
	maxSteps        int
	depth           int
	top             int
	pairsPath       string
)

// initStore opens the database configured for this run.
func initStore() (*storage.SQLiteStore, error) {
	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	store.SetExcludedSections(cfg.Extractor.SkipSections)
	return store, nil
}

func neighborhoodDepth() int {
	if depth > 0 {
		return depth
	}
	return cfg.NeighBSim.Depth
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Extract call graphs from ELF binaries and store them",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}

		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		idx := index.NewIndexer(crawler.NewCrawler(), extractor.NewExtractor(cfg.Extractor.SkipSections), store, logger)
		ctx := context.Background()

		fmt.Printf("📂 Scanning: %s\n", path)
		start := time.Now()

		info, err := os.Stat(path)
		if err != nil {
			log.Fatalf("Failed to stat %s: %v", path, err)
		}
		var summaries []index.Summary
		if info.IsDir() {
			summaries, err = idx.IndexTree(ctx, path)
		} else {
			var s *index.Summary
			if s, err = idx.IndexFile(ctx, path); err == nil {
				summaries = append(summaries, *s)
			}
		}
		if err != nil {
			log.Fatalf("Ingest failed: %v", err)
		}

		for _, s := range summaries {
			fmt.Printf("  -> [%d] %s: %d functions, %d calls\n", s.BinaryID, s.Path, s.Functions, s.Edges)
		}
		fmt.Printf("✅ Ingested %d binaries in %v.\n", len(summaries), time.Since(start))
	},
}

var importCmd = &cobra.Command{
	Use:   "import-similarities [file]",
	Short: "Import a similarity dump (.csv, .csv.zst, .csv.lz4)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		r, err := simio.Open(args[0])
		if err != nil {
			log.Fatalf("Failed to open %s: %v", args[0], err)
		}
		defer r.Close()

		start := time.Now()
		n, err := simio.Import(context.Background(), r, store, 0)
		if err != nil {
			log.Fatalf("Import failed after %d rows: %v", n, err)
		}
		fmt.Printf("✅ Imported %d similarities in %v.\n", n, time.Since(start))
	},
}

var firmupCmd = &cobra.Command{
	Use:   "firmup",
	Short: "Match one query function against the target binary with FirmUP",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		ctx := context.Background()
		sg, err := store.SimilarityGraph(ctx, queryBinary, targetBinary)
		if err != nil {
			log.Fatalf("Failed to load similarity graph: %v", err)
		}

		budget := cfg.FirmUP.MaxSteps
		if cmd.Flags().Changed("max-steps") {
			budget = maxSteps
		}
		var opts []firmup.Option
		if budget > 0 {
			opts = append(opts, firmup.WithMaxSteps(budget))
		}

		res, err := firmup.NewMatcher(sg, opts...).Match(graph.FunctionID(queryFunction))
		logger.WithBinaryPair(queryBinary, targetBinary).LogFirmUP(ctx, queryFunction, statusOf(res), stepsOf(res), pairsOf(res), err)
		if err != nil {
			log.Fatalf("FirmUP failed: %v", err)
		}

		switch res.Status {
		case firmup.StatusMatched:
			fmt.Printf("✅ %d matched %d after %d steps.\n", queryFunction, res.Target, res.Steps)
		case firmup.StatusUnmatched:
			fmt.Printf("❌ %d unmatched (%s) after %d steps.\n", queryFunction, res.Reason, res.Steps)
		default:
			fmt.Printf("⏱️ Step limit reached after %d steps.\n", res.Steps)
		}
		for _, p := range res.Matching.Pairs() {
			fmt.Printf("  -> %d <-> %d (%.4f)\n", p.A, p.B, p.Weight)
		}
	},
}

func statusOf(r *firmup.Result) string {
	if r == nil {
		return ""
	}
	return string(r.Status)
}

func stepsOf(r *firmup.Result) int {
	if r == nil {
		return 0
	}
	return r.Steps
}

func pairsOf(r *firmup.Result) int {
	if r == nil {
		return 0
	}
	return r.Matching.Len()
}

var neighbsimCmd = &cobra.Command{
	Use:   "neighbsim",
	Short: "Score one function pair with NeighBSim",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		ctx := context.Background()
		qcg, tcg, sg := loadNeighborhood(ctx, store, graph.FunctionID(queryFunction), []graph.FunctionID{graph.FunctionID(targetFunction)})

		res, err := neighbsim.NewScorer(qcg, tcg, sg, neighbsim.Bounded(neighborhoodDepth())).
			Score(graph.FunctionID(queryFunction), graph.FunctionID(targetFunction))
		logger.WithBinaryPair(queryBinary, targetBinary).LogNeighBSim(ctx, queryFunction, targetFunction, scoreOf(res), err)
		if err != nil {
			log.Fatalf("NeighBSim failed: %v", err)
		}

		fmt.Printf("📊 NeighBSim(%d, %d) = %.6f (direct %.6f)\n", res.Query, res.Target, res.Score, res.Direct)
		fmt.Printf("  -> callers: %d vs %d, %d paired\n", len(res.QueryCallers), len(res.TargetCallers), res.CallerMatching.Len())
		fmt.Printf("  -> callees: %d vs %d, %d paired\n", len(res.QueryCallees), len(res.TargetCallees), res.CalleeMatching.Len())
	},
}

func scoreOf(r *neighbsim.Result) float64 {
	if r == nil {
		return 0
	}
	return r.Score
}

// loadNeighborhood loads both call graphs and only the similarities the
// neighborhoods of query and targets need.
func loadNeighborhood(ctx context.Context, store *storage.SQLiteStore, query graph.FunctionID, targets []graph.FunctionID) (*graph.CallGraph, *graph.CallGraph, *graph.SimilarityGraph) {
	qcg, err := store.CallGraph(ctx, queryBinary)
	if err != nil {
		log.Fatalf("Failed to load query call graph: %v", err)
	}
	tcg, err := store.CallGraph(ctx, targetBinary)
	if err != nil {
		log.Fatalf("Failed to load target call graph: %v", err)
	}

	scope, err := retrieval.ExtractScope(qcg, tcg, query, targets, retrieval.Config{MaxHops: neighborhoodDepth()})
	if err != nil {
		log.Fatalf("Failed to extract neighborhoods: %v", err)
	}
	sg, err := store.NeighborhoodSimilarityGraph(ctx, queryBinary, targetBinary, scope.QueryIDs, scope.TargetIDs)
	if err != nil {
		log.Fatalf("Failed to load similarities: %v", err)
	}
	if err := sg.CheckComplete(scope.QueryIDs, scope.TargetIDs); err != nil {
		logger.Warn("similarity graph incomplete", "required_pairs", scope.Pairs(), "error", err)
	}
	return qcg, tcg, sg
}

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Re-rank candidate targets of a query function with NeighBSim",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		ctx := context.Background()
		targets := make([]graph.FunctionID, len(targetFunctions))
		for i, t := range targetFunctions {
			targets[i] = graph.FunctionID(t)
		}
		qcg, tcg, sg := loadNeighborhood(ctx, store, graph.FunctionID(queryFunction), targets)

		ranking, err := analysis.NewAnalyzer(qcg, tcg, sg, neighbsim.Bounded(neighborhoodDepth())).
			WithWorkers(cfg.Pipeline.Workers).
			RankCandidates(ctx, graph.FunctionID(queryFunction), targets)
		if err != nil {
			log.Fatalf("Ranking failed: %v", err)
		}

		fmt.Printf("🏆 Candidates for %d:\n", queryFunction)
		for i, c := range ranking.Candidates {
			if i >= top {
				break
			}
			fmt.Printf("  %2d. %d  %.6f\n", i+1, c.Target, c.Score)
		}
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Evaluate FirmUP and NeighBSim over every stored candidate pair",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		ctx := context.Background()
		if pairsPath != "" {
			f, err := os.Open(pairsPath)
			if err != nil {
				log.Fatalf("Failed to open pairs: %v", err)
			}
			pairs, err := simio.ReadPairs(f)
			f.Close()
			if err != nil {
				log.Fatalf("Failed to read pairs: %v", err)
			}
			for _, p := range pairs {
				if _, err := store.AddPair(ctx, p); err != nil {
					log.Fatalf("Failed to add pair: %v", err)
				}
			}
			fmt.Printf("📝 Added %d candidate pairs.\n", len(pairs))
		}

		fmt.Println("🚀 Evaluating candidate pairs...")
		report, err := pipeline.NewBatch(store, logger, pipeline.Options{
			Workers:  cfg.Pipeline.Workers,
			MaxSteps: cfg.FirmUP.MaxSteps,
			Depth:    cfg.NeighBSim.Depth,
		}).Run(ctx)
		if err != nil {
			log.Fatalf("Batch failed: %v", err)
		}
		fmt.Printf("✅ Evaluated %d pairs in %v: %d matched by FirmUP, %d failed.\n",
			report.Total, report.Duration, report.Matched, report.Failed)
	},
}
