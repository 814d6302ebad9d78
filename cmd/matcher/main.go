package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/namelink/internal/config"
	"github.com/namelink/internal/dataset"
	"github.com/namelink/internal/db"
	"github.com/namelink/internal/debug"
	"github.com/namelink/internal/match"
	"github.com/namelink/internal/matcher"
	"github.com/namelink/internal/store"
	"github.com/namelink/internal/web"
)

var logger *zap.Logger

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	var err error
	logger, err = debug.Init(config.GetEnv("LOG_LEVEL", "info"), config.GetEnv("LOG_FORMAT", "console"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Create root command
	rootCmd := &cobra.Command{
		Use:          "matcher",
		Short:        "Name record linkage",
		Long:         `Links person names in a query collection to a reference collection by exact join and fuzzy similarity`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(createMatchCmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createPingCmd())
	rootCmd.AddCommand(createMigrateCmd())
	rootCmd.AddCommand(createRunsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

// openStore connects to Postgres and applies the schema
func openStore(ctx context.Context) (*db.Connection, *store.Store, error) {
	conn, err := db.NewConnection(ctx)
	if err != nil {
		return nil, nil, err
	}
	s := store.New(conn.DB)
	if err := s.Migrate(ctx); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, s, nil
}

// matchingFlags binds the MATCH_* overrides onto a command
type matchingFlags struct {
	batchSize    int
	maxBatchSize int
	workers      int
	cutoff       float64
	metric       string
	strategy     string
	sample       int
	foldAccents  bool
	debug        bool
}

func (f *matchingFlags) register(cmd *cobra.Command) {
	defaults := config.DefaultMatching()
	cmd.Flags().IntVar(&f.batchSize, "batch-size", defaults.BatchSize, "Queries per scheduler batch")
	cmd.Flags().IntVar(&f.maxBatchSize, "max-batch-size", defaults.MaxBatchSize, "Largest batch the matcher accepts")
	cmd.Flags().IntVar(&f.workers, "workers", defaults.WorkerCount, "Number of parallel workers")
	cmd.Flags().Float64Var(&f.cutoff, "cutoff", defaults.ScoreCutoff, "Minimum similarity score, 0-100")
	cmd.Flags().StringVar(&f.metric, "metric", defaults.DistanceMetric, "Similarity metric: edit-distance, ngram-cosine or jaro-winkler")
	cmd.Flags().StringVar(&f.strategy, "strategy", defaults.Strategy, "Fuzzy strategy: row or matrix")
	cmd.Flags().IntVar(&f.sample, "sample", 0, "Fuzzy match only the first N non-exact queries")
	cmd.Flags().BoolVar(&f.foldAccents, "fold-accents", false, "Strip diacritics during normalization")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug output")
}

// resolve loads MATCH_* settings and applies explicitly set flags on top
func (f *matchingFlags) resolve(cmd *cobra.Command) (config.Matching, error) {
	cfg, err := config.LoadMatching()
	if err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	if changed("batch-size") {
		cfg.BatchSize = f.batchSize
		if !changed("max-batch-size") && cfg.MaxBatchSize < cfg.BatchSize {
			cfg.MaxBatchSize = cfg.BatchSize
		}
	}
	if changed("max-batch-size") {
		cfg.MaxBatchSize = f.maxBatchSize
	}
	if changed("workers") {
		cfg.WorkerCount = f.workers
	}
	if changed("cutoff") {
		cfg.ScoreCutoff = f.cutoff
	}
	if changed("metric") {
		cfg.DistanceMetric = f.metric
	}
	if changed("strategy") {
		cfg.Strategy = f.strategy
	}
	if changed("sample") {
		sample := f.sample
		cfg.SampledRunLimit = &sample
	}
	if changed("fold-accents") {
		cfg.FoldAccents = f.foldAccents
	}
	return cfg, cfg.Validate()
}

func (f *matchingFlags) engine(cmd *cobra.Command) (*matcher.Engine, error) {
	cfg, err := f.resolve(cmd)
	if err != nil {
		return nil, err
	}
	return matcher.NewEngine(cfg, matcher.WithLogger(logger), matcher.WithDebug(f.debug))
}

func createMatchCmd() *cobra.Command {
	var queriesFile, referenceFile, outFile, runLabel string
	var persist bool
	var flags matchingFlags

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Link a query CSV to a reference CSV",
		Long: `Reads first_name,last_name CSVs, resolves every distinct query by exact join
or fuzzy similarity, and writes one row per distinct query.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, err := flags.engine(cmd)
			if err != nil {
				return err
			}

			queries, err := dataset.ReadIdentitiesFile(queriesFile)
			if err != nil {
				return err
			}
			reference, err := dataset.ReadIdentitiesFile(referenceFile)
			if err != nil {
				return err
			}

			run, err := eng.Link(ctx, queries, reference)
			if err != nil {
				return err
			}

			if outFile != "" {
				if err := dataset.WriteTableFile(outFile, run.Table); err != nil {
					return err
				}
			}

			printRun(run, runLabel)
			if outFile != "" {
				fmt.Printf("Results written to %s\n", outFile)
			}

			if persist {
				// the run is kept even if the command was interrupted
				saveCtx := context.WithoutCancel(ctx)
				conn, s, err := openStore(saveCtx)
				if err != nil {
					return fmt.Errorf("failed to open store: %w", err)
				}
				defer conn.Close()
				if err := s.SaveRun(saveCtx, run, runLabel); err != nil {
					return err
				}
				fmt.Printf("Run saved as %s\n", run.ID)
			}

			if run.Partial {
				return fmt.Errorf("run %s is partial: %w", run.ID, context.Canceled)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&queriesFile, "queries", "", "Query CSV (first_name,last_name)")
	cmd.Flags().StringVar(&referenceFile, "reference", "", "Reference CSV (first_name,last_name)")
	cmd.Flags().StringVar(&outFile, "out", "", "Where to write the result CSV")
	cmd.Flags().StringVar(&runLabel, "label", "", "Label for this matching run")
	cmd.Flags().BoolVar(&persist, "store", false, "Save the run to Postgres")
	cmd.MarkFlagRequired("queries")
	cmd.MarkFlagRequired("reference")
	flags.register(cmd)

	return cmd
}

func printRun(run *matcher.Run, label string) {
	fmt.Printf("\n=== Name Matching Results ===\n")
	fmt.Printf("Run ID: %s\n", run.ID)
	if label != "" {
		fmt.Printf("Run Label: %s\n", label)
	}
	fmt.Printf("Metric: %s (%s, cutoff %.1f)\n", run.Metric, run.Strategy, run.Cutoff)
	fmt.Printf("Distinct Queries: %d\n", run.Stats.Queries)
	fmt.Printf("Candidates: %d\n", run.Stats.Candidates)

	counts := run.Table.Counts()
	sources := append([]match.Source(nil), match.Sources...)
	sort.Slice(sources, func(i, j int) bool { return sources[i].String() < sources[j].String() })
	fmt.Println("\nmapping_source             count")
	for _, source := range sources {
		fmt.Printf("%-26s %d\n", source, counts[source])
	}

	if run.Stats.Queries > 0 {
		resolved := run.Stats.DirectJoin + run.Stats.FuzzyMatched
		fmt.Printf("\nCoverage: %.2f%%\n", float64(resolved)/float64(run.Stats.Queries)*100)
	}
	if run.Stats.SampledOut > 0 {
		fmt.Printf("Sampled Out: %d\n", run.Stats.SampledOut)
	}
	if run.Stats.Cancelled > 0 {
		fmt.Printf("Cancelled: %d\n", run.Stats.Cancelled)
	}
	fmt.Printf("Scorer Calls: %d (%d failed queries)\n", run.Stats.ScorerCalls, run.Stats.ScorerFailures)
	fmt.Printf("Exact Stage: %s\n", run.Stats.ExactTime)
	fmt.Printf("Fuzzy Stage: %s\n", run.Stats.FuzzyTime)
	fmt.Printf("Processing Time: %s\n", run.Stats.ProcessingTime)
}

func createServeCmd() *cobra.Command {
	var noStore bool
	var flags matchingFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP matching API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, err := flags.engine(cmd)
			if err != nil {
				return err
			}

			webConfig := web.ConfigFromEnv()
			if file := config.GetEnv("WEB_CONFIG", ""); file != "" {
				if webConfig, err = web.LoadConfig(file); err != nil {
					return err
				}
			}

			var runs *store.Store
			if !noStore {
				conn, s, err := openStore(ctx)
				if err != nil {
					return fmt.Errorf("failed to open store (use --no-store to serve without one): %w", err)
				}
				defer conn.Close()
				runs = s
			}

			var server *web.Server
			if runs != nil {
				server, err = web.NewServer(webConfig, eng, runs, logger)
			} else {
				server, err = web.NewServer(webConfig, eng, nil, logger)
			}
			if err != nil {
				return err
			}
			return server.Start(ctx)
		},
	}

	cmd.Flags().BoolVar(&noStore, "no-store", false, "Serve without Postgres; runs are not persisted")
	flags.register(cmd)

	return cmd
}

// createPingCmd creates a command to test database connectivity
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.NewConnection(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			fmt.Println("Database connection successful!")

			var count int
			err = conn.DB.QueryRowContext(cmd.Context(), "SELECT COUNT(*) FROM match_run").Scan(&count)
			if err != nil {
				logger.Warn("match_run not readable, run migrate first", zap.Error(err))
			} else {
				fmt.Printf("Stored runs: %d\n", count)
			}
			return nil
		},
	}
}

func createMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the run tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Println("Schema up to date")
			return nil
		},
	}
}

func createRunsCmd() *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs",
	}
	runsCmd.AddCommand(createRunsListCmd())
	runsCmd.AddCommand(createRunsShowCmd())
	return runsCmd
}

func createRunsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			runs, err := s.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			fmt.Println("Run ID                               | Label            | Metric        | Queries | Direct | Fuzzy | Unmatched")
			fmt.Println("-------------------------------------|------------------|---------------|---------|--------|-------|----------")
			for _, r := range runs {
				fmt.Printf("%s | %-16s | %-13s | %7d | %6d | %5d | %9d\n",
					r.RunID, r.RunLabel, r.Metric, r.TotalQueries, r.DirectJoin, r.FuzzyMatched, r.Unmatched)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	return cmd
}

func createRunsShowCmd() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show a stored run, optionally exporting its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run ID %q: %w", args[0], err)
			}

			conn, s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			rec, err := s.GetRun(cmd.Context(), runID)
			if errors.Is(err, store.ErrRunNotFound) {
				return fmt.Errorf("no run %s", runID)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Run ID: %s\n", rec.RunID)
			fmt.Printf("Run Label: %s\n", rec.RunLabel)
			fmt.Printf("Metric: %s (%s, cutoff %.1f)\n", rec.Metric, rec.Strategy, rec.ScoreCutoff)
			fmt.Printf("Started: %s\n", rec.RunStartedAt.Format("2006-01-02 15:04:05"))
			if rec.RunCompletedAt != nil {
				fmt.Printf("Completed: %s\n", rec.RunCompletedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("Partial: %v\n", rec.Partial)
			fmt.Printf("Queries: %d, Direct: %d, Fuzzy: %d, Unmatched: %d\n",
				rec.TotalQueries, rec.DirectJoin, rec.FuzzyMatched, rec.Unmatched)

			if outFile == "" {
				return nil
			}
			table, err := s.Results(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if err := dataset.WriteTableFile(outFile, table); err != nil {
				return err
			}
			fmt.Printf("%d rows written to %s\n", table.Len(), outFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&outFile, "out", "", "Export the run's rows to this CSV")
	return cmd
}
