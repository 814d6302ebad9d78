package matcher

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelink/internal/config"
	"github.com/namelink/internal/match"
)

func testConfig(batchSize, workers int) config.Matching {
	cfg := config.DefaultMatching()
	cfg.BatchSize = batchSize
	cfg.MaxBatchSize = batchSize
	cfg.WorkerCount = workers
	return cfg
}

func newTestScheduler(t *testing.T, cfg config.Matching, candidates ...string) *Scheduler {
	t.Helper()
	scorer, err := match.NewScorer(cfg.DistanceMetric)
	require.NoError(t, err)
	fuzzy, err := match.NewFuzzy(match.NewPool(candidates), scorer, cfg.ScoreCutoff, cfg.MaxBatchSize)
	require.NoError(t, err)
	s, err := NewScheduler(fuzzy, cfg, nil)
	require.NoError(t, err)
	return s
}

func queriesOf(results []match.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Query
	}
	return out
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name    string
		queries []string
		size    int
		want    [][]string
	}{
		{"remainder in last batch", []string{"a", "b", "c"}, 2, [][]string{{"a", "b"}, {"c"}}},
		{"exact multiple", []string{"a", "b", "c", "d"}, 2, [][]string{{"a", "b"}, {"c", "d"}}},
		{"one batch", []string{"a", "b"}, 10, [][]string{{"a", "b"}}},
		{"nothing to do", nil, 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := Partition(tt.queries, tt.size)
			require.Len(t, batches, len(tt.want))
			for i, b := range batches {
				assert.Equal(t, i+1, b.ID)
				assert.Equal(t, tt.want[i], b.Queries)
			}
		})
	}
}

func TestSchedulerProcessesEveryQuery(t *testing.T) {
	for _, strategy := range []string{config.StrategyRow, config.StrategyMatrix} {
		t.Run(strategy, func(t *testing.T) {
			cfg := testConfig(2, 3)
			cfg.Strategy = strategy
			cfg.ScoreCutoff = 0
			s := newTestScheduler(t, cfg, "a x", "b x", "c x")

			outcome, err := s.Run(context.Background(), []string{"a", "b", "c"})
			require.NoError(t, err)

			assert.False(t, outcome.Partial)
			assert.Empty(t, outcome.Undispatched)
			assert.Equal(t, []string{"a", "b", "c"}, queriesOf(outcome.Results))
			assert.Equal(t, 2, outcome.Stats.TotalBatches)
			assert.Equal(t, 2, outcome.Stats.ProcessedBatches)
			assert.Equal(t, 3, outcome.Stats.QueryCount)

			want := match.FuzzyBaseline
			if strategy == config.StrategyMatrix {
				want = match.FuzzyBatch
			}
			for _, r := range outcome.Results {
				assert.Equal(t, want, r.Source)
			}
		})
	}
}

func TestSchedulerFailedBatchDoesNotAbortSiblings(t *testing.T) {
	s := newTestScheduler(t, testConfig(1, 2), "x x")
	s.resolve = func(queries []string) ([]match.Result, error) {
		switch queries[0] {
		case "panics":
			panic("worker blew up")
		case "fails":
			return nil, errors.New("matrix allocation failed")
		case "short":
			return nil, nil
		}
		return []match.Result{{Query: queries[0], Candidate: "x x", Score: 90, Source: match.FuzzyBaseline}}, nil
	}

	outcome, err := s.Run(context.Background(), []string{"ok1", "panics", "fails", "short", "ok2"})
	require.NoError(t, err)
	require.Len(t, outcome.Results, 5)

	byQuery := make(map[string]match.Result)
	for _, r := range outcome.Results {
		byQuery[r.Query] = r
	}

	assert.True(t, byQuery["ok1"].Matched())
	assert.True(t, byQuery["ok2"].Matched())
	assert.Contains(t, byQuery["panics"].Reason, "worker blew up")
	assert.Contains(t, byQuery["fails"].Reason, "matrix allocation failed")
	assert.Contains(t, byQuery["short"].Reason, "resolved 0 of 1")
	for _, q := range []string{"panics", "fails", "short"} {
		assert.Equal(t, match.Unmatched, byQuery[q].Source)
		assert.Zero(t, byQuery[q].Score)
	}

	assert.Equal(t, 2, outcome.Stats.ProcessedBatches)
	assert.Equal(t, 3, outcome.Stats.FailedBatches)
	assert.Equal(t, 2, outcome.Stats.MatchCount)
}

func TestSchedulerRejectsOversizeBatch(t *testing.T) {
	cfg := testConfig(2, 2)
	cfg.ScoreCutoff = 0
	s := newTestScheduler(t, cfg, "a x")

	outcome, err := s.RunBatches(context.Background(), []Batch{
		{ID: 1, Queries: []string{"a", "b", "c"}},
		{ID: 2, Queries: []string{"d"}},
	})
	require.NoError(t, err)
	require.Len(t, outcome.Results, 4)

	assert.Equal(t, 1, outcome.Stats.RejectedBatches)
	assert.Equal(t, 1, outcome.Stats.ProcessedBatches)

	for _, r := range outcome.Results[:3] {
		assert.Equal(t, match.Unmatched, r.Source)
		assert.Contains(t, r.Reason, "exceeds maximum of 2")
	}
	assert.Equal(t, "d", outcome.Results[3].Query)
	assert.True(t, outcome.Results[3].Matched())
}

func TestSchedulerStopsDispatchingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestScheduler(t, testConfig(1, 1), "x x")
	s.resolve = func(queries []string) ([]match.Result, error) {
		if queries[0] == "a" {
			cancel()
		}
		return []match.Result{{Query: queries[0], Candidate: "x x", Score: 80, Source: match.FuzzyBaseline}}, nil
	}

	outcome, err := s.Run(ctx, []string{"a", "b", "c"})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, outcome)

	assert.True(t, outcome.Partial)
	assert.Equal(t, []string{"a"}, queriesOf(outcome.Results))
	assert.Equal(t, []string{"b", "c"}, outcome.Undispatched)
	assert.Equal(t, 2, outcome.Stats.CancelledBatches)
}

func TestSchedulerAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var mu sync.Mutex
	var seen []string
	s := newTestScheduler(t, testConfig(2, 4), "x x")
	s.resolve = func(queries []string) ([]match.Result, error) {
		mu.Lock()
		seen = append(seen, queries...)
		mu.Unlock()
		return nil, nil
	}

	outcome, err := s.Run(ctx, []string{"a", "b", "c", "d", "e"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, outcome.Partial)
	assert.Empty(t, outcome.Results)
	assert.Empty(t, seen)

	undispatched := append([]string(nil), outcome.Undispatched...)
	sort.Strings(undispatched)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, undispatched)
}

func TestSchedulerManyBatchesConcurrently(t *testing.T) {
	cfg := testConfig(7, 8)
	cfg.ScoreCutoff = 0
	s := newTestScheduler(t, cfg, "alpha one", "beta two", "gamma three")

	var queries []string
	for _, first := range []string{"alpha", "beta", "gamma", "delta", "omega"} {
		for _, last := range []string{"one", "two", "three", "four", "five", "six", "seven", "eight"} {
			queries = append(queries, first+" "+last)
		}
	}

	outcome, err := s.Run(context.Background(), queries)
	require.NoError(t, err)
	assert.Equal(t, queries, queriesOf(outcome.Results))
	assert.Equal(t, 6, outcome.Stats.TotalBatches)

	for _, r := range outcome.Results {
		if strings.HasPrefix(r.Query, "alpha one") {
			assert.Equal(t, "alpha one", r.Candidate)
			assert.Equal(t, 100.0, r.Score)
		}
	}
}
