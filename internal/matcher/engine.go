package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/namelink/internal/config"
	"github.com/namelink/internal/debug"
	"github.com/namelink/internal/match"
	"github.com/namelink/internal/metrics"
	"github.com/namelink/internal/normalize"
)

// Reasons recorded on rows that never reached the fuzzy matcher
const (
	ReasonCancelled  = "cancelled"
	ReasonSampledOut = "sampled out"
)

// Engine links query identities to a reference collection: exact join
// first, then batched fuzzy matching of whatever is left
type Engine struct {
	cfg        config.Matching
	normalizer normalize.Normalizer
	scorer     match.Scorer
	logger     *zap.Logger
	localDebug bool
}

// Option customizes an Engine
type Option func(*Engine)

// WithScorer replaces the scorer selected by cfg.DistanceMetric
func WithScorer(s match.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDebug enables the debug trace
func WithDebug(enabled bool) Option {
	return func(e *Engine) { e.localDebug = enabled }
}

// RunStats summarizes a run
type RunStats struct {
	Queries        int           `json:"queries"`
	Candidates     int           `json:"candidates"`
	DirectJoin     int           `json:"direct_join"`
	FuzzyMatched   int           `json:"fuzzy_matched"`
	Unmatched      int           `json:"unmatched"`
	SampledOut     int           `json:"sampled_out"`
	Cancelled      int           `json:"cancelled"`
	ScorerCalls    int64         `json:"scorer_calls"`
	ScorerFailures int64         `json:"scorer_failures"`
	Batches        BatchStats    `json:"batches"`
	ExactTime      time.Duration `json:"exact_time"`
	FuzzyTime      time.Duration `json:"fuzzy_time"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Run is the result of one matching run
type Run struct {
	ID         uuid.UUID   `json:"id"`
	Metric     string      `json:"metric"`
	Strategy   string      `json:"strategy"`
	Cutoff     float64     `json:"cutoff"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Partial    bool        `json:"partial"`
	Stats      RunStats    `json:"stats"`
	Table      match.Table `json:"table"`
}

// NewEngine validates cfg and selects the scorer
func NewEngine(cfg config.Matching, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		normalizer: normalize.Normalizer{FoldAccents: cfg.FoldAccents},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = debug.OrDefault(e.logger).Named("engine")

	if e.scorer == nil {
		s, err := match.NewScorer(cfg.DistanceMetric)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		e.scorer = s
	}
	return e, nil
}

// Config returns the engine configuration
func (e *Engine) Config() config.Matching { return e.cfg }

// Normalizer returns the normalizer used for identities
func (e *Engine) Normalizer() normalize.Normalizer { return e.normalizer }

// Link validates and normalizes both collections, then matches them.
// Structurally invalid input fails before any work is done.
func (e *Engine) Link(ctx context.Context, queries, reference []normalize.Identity) (*Run, error) {
	if err := match.ValidateIdentities("query", queries); err != nil {
		return nil, err
	}
	if err := match.ValidateIdentities("reference", reference); err != nil {
		return nil, err
	}

	pool := match.NewPoolFromIdentities(reference, e.normalizer)
	return e.Match(ctx, e.normalizer.Keys(queries), pool)
}

// Match runs the pipeline over normalized query keys. The returned table has
// exactly one row per distinct query, also when ctx is cancelled mid-run.
func (e *Engine) Match(ctx context.Context, queries []string, pool *match.Pool) (*Run, error) {
	debug.DebugHeader(e.localDebug)
	defer debug.DebugFooter(e.localDebug)

	if pool == nil {
		pool = match.NewPool(nil)
	}

	run := &Run{
		ID:        uuid.New(),
		Metric:    e.scorer.Name(),
		Strategy:  e.cfg.Strategy,
		Cutoff:    e.cfg.ScoreCutoff,
		StartedAt: time.Now(),
	}
	logger := e.logger.With(zap.String("run_id", run.ID.String()))

	distinct := len(match.Distinct(queries))
	logger.Info("starting run",
		zap.Int("queries", distinct),
		zap.Int("candidates", pool.Len()),
		zap.String("metric", run.Metric),
		zap.String("strategy", run.Strategy),
		zap.Float64("cutoff", run.Cutoff))

	done := debug.DebugTiming(e.localDebug, "exact join")
	exactStart := time.Now()
	direct, rest := match.SplitExact(queries, pool)
	exactTime := time.Since(exactStart)
	done()
	debug.DebugOutput(e.localDebug, "Exact join resolved %d of %d queries", len(direct), distinct)

	var leftovers []match.Result
	if limit := e.cfg.SampledRunLimit; limit != nil && len(rest) > *limit {
		for _, q := range rest[*limit:] {
			leftovers = append(leftovers, match.NewUnmatched(q, ReasonSampledOut))
		}
		run.Stats.SampledOut = len(rest) - *limit
		rest = rest[:*limit]
		logger.Info("sampled run", zap.Int("limit", *limit), zap.Int("sampled_out", run.Stats.SampledOut))
	}

	if pool.Len() == 0 && len(rest) > 0 {
		logger.Warn("candidate pool is empty, fuzzy matching will not resolve anything",
			zap.Int("queries", len(rest)))
	}

	counter := match.NewCountingScorer(e.scorer)
	fuzzy, err := match.NewFuzzy(pool, counter, e.cfg.ScoreCutoff, e.cfg.MaxBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build fuzzy matcher: %w", err)
	}

	scheduler, err := NewScheduler(fuzzy, e.cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build scheduler: %w", err)
	}
	scheduler.SetDebug(e.localDebug)

	fuzzyStart := time.Now()
	outcome, err := scheduler.Run(ctx, rest)
	fuzzyTime := time.Since(fuzzyStart)
	if err != nil && !outcome.Partial {
		return nil, fmt.Errorf("fuzzy matching failed: %w", err)
	}
	if outcome.Partial {
		logger.Warn("run cancelled, undispatched queries reported as unmatched",
			zap.Int("undispatched", len(outcome.Undispatched)),
			zap.Error(err))
	}
	for _, q := range outcome.Undispatched {
		leftovers = append(leftovers, match.NewUnmatched(q, ReasonCancelled))
	}

	table, err := match.Aggregate(direct, outcome.Results, leftovers)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate results: %w", err)
	}
	if table.Len() != distinct {
		return nil, fmt.Errorf("aggregated %d rows for %d distinct queries", table.Len(), distinct)
	}

	run.Table = table
	run.Partial = outcome.Partial
	run.FinishedAt = time.Now()

	counts := table.Counts()
	run.Stats = RunStats{
		Queries:        distinct,
		Candidates:     pool.Len(),
		DirectJoin:     counts[match.DirectJoin],
		FuzzyMatched:   counts[match.FuzzyBaseline] + counts[match.FuzzyBatch],
		Unmatched:      counts[match.Unmatched],
		SampledOut:     run.Stats.SampledOut,
		Cancelled:      len(outcome.Undispatched),
		ScorerCalls:    counter.Calls(),
		ScorerFailures: fuzzy.Failures(),
		Batches:        outcome.Stats,
		ExactTime:      exactTime,
		FuzzyTime:      fuzzyTime,
		ProcessingTime: run.FinishedAt.Sub(run.StartedAt),
	}

	for _, source := range match.Sources {
		metrics.RecordQueries(source.String(), counts[source])
	}
	metrics.RecordScorerFailures(run.Metric, run.Stats.ScorerFailures)
	metrics.RecordRun(runOutcome(run), run.Metric, run.Strategy, run.Stats.ProcessingTime.Seconds())

	logger.Info("run complete",
		zap.Int("direct_join", run.Stats.DirectJoin),
		zap.Int("fuzzy_matched", run.Stats.FuzzyMatched),
		zap.Int("unmatched", run.Stats.Unmatched),
		zap.Int64("scorer_calls", run.Stats.ScorerCalls),
		zap.Int64("scorer_failures", run.Stats.ScorerFailures),
		zap.Bool("partial", run.Partial),
		zap.Duration("took", run.Stats.ProcessingTime))

	return run, nil
}

func runOutcome(run *Run) string {
	if run.Partial {
		return "partial"
	}
	return "complete"
}

// IsCancelled reports whether err came from a cancelled or expired context
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
