package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/namelink/internal/config"
	"github.com/namelink/internal/debug"
	"github.com/namelink/internal/match"
	"github.com/namelink/internal/metrics"
)

// Batch is a contiguous slice of unmatched queries handled by one worker
type Batch struct {
	ID      int
	Queries []string
}

// BatchResult holds the result of processing one batch
type BatchResult struct {
	BatchID     int
	WorkerID    int
	QueryCount  int
	MatchCount  int
	Results     []match.Result
	ProcessTime time.Duration
	Err         error
	Cancelled   bool
}

// BatchStats tracks scheduler statistics
type BatchStats struct {
	TotalBatches     int
	ProcessedBatches int
	FailedBatches    int
	RejectedBatches  int
	CancelledBatches int
	QueryCount       int
	MatchCount       int
	ProcessingTime   time.Duration
}

// Outcome is everything a scheduler run produced
type Outcome struct {
	// Results holds one row per dispatched query, in batch order
	Results []match.Result
	// Undispatched holds queries never handed to a worker because of cancellation
	Undispatched []string
	Partial      bool
	Stats        BatchStats
}

// Partition splits queries into contiguous batches of at most size queries.
// Batch IDs start at 1.
func Partition(queries []string, size int) []Batch {
	if size <= 0 {
		size = len(queries)
	}
	var batches []Batch
	for i := 0; i < len(queries); i += size {
		end := i + size
		if end > len(queries) {
			end = len(queries)
		}
		batches = append(batches, Batch{
			ID:      len(batches) + 1,
			Queries: queries[i:end],
		})
	}
	return batches
}

// Scheduler feeds batches to a fixed pool of workers and collects their
// results through a channel it owns
type Scheduler struct {
	cfg        config.Matching
	logger     *zap.Logger
	localDebug bool
	resolve    func(queries []string) ([]match.Result, error)
}

// NewScheduler builds a scheduler that resolves batches with fuzzy according
// to cfg.Strategy
func NewScheduler(fuzzy *match.Fuzzy, cfg config.Matching, logger *zap.Logger) (*Scheduler, error) {
	if fuzzy == nil {
		return nil, errors.New("scheduler needs a fuzzy matcher")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:    cfg,
		logger: debug.OrDefault(logger).Named("scheduler"),
	}

	switch cfg.Strategy {
	case config.StrategyMatrix:
		s.resolve = fuzzy.BestMatches
	default:
		s.resolve = func(queries []string) ([]match.Result, error) {
			results := make([]match.Result, len(queries))
			for i, q := range queries {
				results[i] = fuzzy.MatchRow(q)
			}
			return results, nil
		}
	}
	return s, nil
}

// SetDebug turns on the debug trace for this scheduler
func (s *Scheduler) SetDebug(enabled bool) {
	s.localDebug = enabled
}

// Run partitions queries by the configured batch size and processes them
func (s *Scheduler) Run(ctx context.Context, queries []string) (*Outcome, error) {
	return s.RunBatches(ctx, Partition(queries, s.cfg.BatchSize))
}

// RunBatches processes pre-built batches. Batches over the maximum size are
// rejected and their queries reported Unmatched. Once ctx is cancelled no
// further batch is started; batches already running complete, the outcome
// is marked Partial and ctx.Err() is returned alongside it.
func (s *Scheduler) RunBatches(ctx context.Context, batches []Batch) (*Outcome, error) {
	debug.DebugHeader(s.localDebug)
	defer debug.DebugFooter(s.localDebug)

	startTime := time.Now()
	outcome := &Outcome{}
	outcome.Stats.TotalBatches = len(batches)

	if len(batches) == 0 {
		return outcome, nil
	}

	debug.DebugOutput(s.localDebug, "Scheduling %d batches on %d workers", len(batches), s.cfg.WorkerCount)

	batchChan := make(chan Batch)
	resultChan := make(chan BatchResult, s.cfg.WorkerCount)

	var g errgroup.Group

	g.Go(func() error {
		defer close(batchChan)
		for i, b := range batches {
			if ctx.Err() != nil {
				s.cancelAll(batches[i:], resultChan)
				return nil
			}
			if len(b.Queries) > s.cfg.MaxBatchSize {
				resultChan <- s.reject(b)
				continue
			}
			select {
			case batchChan <- b:
			case <-ctx.Done():
				s.cancelAll(batches[i:], resultChan)
				return nil
			}
		}
		return nil
	})

	for i := 1; i <= s.cfg.WorkerCount; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(ctx, workerID, batchChan, resultChan)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(resultChan)
	}()

	byBatch := make(map[int]BatchResult, len(batches))
	var cancelled []BatchResult

	for result := range resultChan {
		outcome.Stats.QueryCount += result.QueryCount

		switch {
		case result.Cancelled:
			outcome.Stats.CancelledBatches++
			cancelled = append(cancelled, result)
			metrics.RecordBatch("cancelled", 0)
			continue
		case errors.Is(result.Err, match.ErrBatchOverflow):
			outcome.Stats.RejectedBatches++
			s.logger.Warn("batch rejected", zap.Int("batch_id", result.BatchID), zap.Error(result.Err))
			metrics.RecordBatch("rejected", 0)
		case result.Err != nil:
			outcome.Stats.FailedBatches++
			s.logger.Error("batch failed",
				zap.Int("batch_id", result.BatchID),
				zap.Int("worker_id", result.WorkerID),
				zap.Error(result.Err))
			metrics.RecordBatch("failed", result.ProcessTime.Seconds())
		default:
			outcome.Stats.ProcessedBatches++
			debug.DebugOutput(s.localDebug, "Batch %d: %d queries, %d matches (%.3fs, worker %d)",
				result.BatchID, result.QueryCount, result.MatchCount, result.ProcessTime.Seconds(), result.WorkerID)
			metrics.RecordBatch("ok", result.ProcessTime.Seconds())
		}

		outcome.Stats.MatchCount += result.MatchCount
		byBatch[result.BatchID] = result
	}

	ids := make([]int, 0, len(byBatch))
	for id := range byBatch {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		outcome.Results = append(outcome.Results, byBatch[id].Results...)
	}

	sort.Slice(cancelled, func(i, j int) bool { return cancelled[i].BatchID < cancelled[j].BatchID })
	for _, c := range cancelled {
		for _, r := range c.Results {
			outcome.Undispatched = append(outcome.Undispatched, r.Query)
		}
	}

	outcome.Partial = len(cancelled) > 0
	outcome.Stats.ProcessingTime = time.Since(startTime)

	s.logger.Info("scheduler finished",
		zap.Int("batches", outcome.Stats.TotalBatches),
		zap.Int("processed", outcome.Stats.ProcessedBatches),
		zap.Int("failed", outcome.Stats.FailedBatches),
		zap.Int("rejected", outcome.Stats.RejectedBatches),
		zap.Int("cancelled", outcome.Stats.CancelledBatches),
		zap.Int("matches", outcome.Stats.MatchCount),
		zap.Duration("took", outcome.Stats.ProcessingTime))

	if outcome.Partial {
		return outcome, ctx.Err()
	}
	return outcome, nil
}

// worker processes batches until the channel closes. A batch received after
// cancellation is handed back untouched.
func (s *Scheduler) worker(ctx context.Context, workerID int, batchChan <-chan Batch, resultChan chan<- BatchResult) {
	for batch := range batchChan {
		if ctx.Err() != nil {
			resultChan <- cancelledResult(batch)
			continue
		}

		metrics.BatchesInFlight.Inc()
		result := s.process(workerID, batch)
		metrics.BatchesInFlight.Dec()

		resultChan <- result
	}
}

// process resolves one batch. Errors and panics fail only this batch.
func (s *Scheduler) process(workerID int, batch Batch) (result BatchResult) {
	startTime := time.Now()
	result = BatchResult{
		BatchID:    batch.ID,
		WorkerID:   workerID,
		QueryCount: len(batch.Queries),
	}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("batch %d panicked: %v", batch.ID, r)
			result.Results = failAll(batch.Queries, result.Err)
			result.MatchCount = 0
		}
		result.ProcessTime = time.Since(startTime)
	}()

	results, err := s.resolve(batch.Queries)
	if err == nil && len(results) != len(batch.Queries) {
		err = fmt.Errorf("batch %d resolved %d of %d queries", batch.ID, len(results), len(batch.Queries))
	}
	if err != nil {
		result.Err = err
		result.Results = failAll(batch.Queries, err)
		return result
	}

	for _, r := range results {
		if r.Matched() {
			result.MatchCount++
		}
	}
	result.Results = results
	return result
}

func (s *Scheduler) reject(batch Batch) BatchResult {
	err := &match.BatchOverflowError{Size: len(batch.Queries), Max: s.cfg.MaxBatchSize}
	return BatchResult{
		BatchID:    batch.ID,
		QueryCount: len(batch.Queries),
		Results:    failAll(batch.Queries, err),
		Err:        err,
	}
}

func (s *Scheduler) cancelAll(batches []Batch, resultChan chan<- BatchResult) {
	for _, b := range batches {
		resultChan <- cancelledResult(b)
	}
}

func cancelledResult(batch Batch) BatchResult {
	return BatchResult{
		BatchID:    batch.ID,
		QueryCount: len(batch.Queries),
		Results:    failAll(batch.Queries, errCancelled),
		Cancelled:  true,
	}
}

var errCancelled = errors.New(ReasonCancelled)

func failAll(queries []string, err error) []match.Result {
	results := make([]match.Result, len(queries))
	for i, q := range queries {
		results[i] = match.NewUnmatched(q, err.Error())
	}
	return results
}
