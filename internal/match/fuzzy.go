package match

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// Fuzzy finds the best scoring pool candidate for keys with no exact match.
// It is safe for concurrent use; the pool and scorer are only read.
type Fuzzy struct {
	pool     *Pool
	scorer   Scorer
	matrix   CandidateMatrix
	cutoff   float64
	maxBatch int
	failures atomic.Int64
}

// NewFuzzy prepares a matcher. When the scorer supports matrix scoring the
// candidate side is prepared here, once per pool.
func NewFuzzy(pool *Pool, scorer Scorer, cutoff float64, maxBatch int) (*Fuzzy, error) {
	if scorer == nil {
		return nil, errors.New("fuzzy matcher needs a scorer")
	}
	if maxBatch <= 0 {
		return nil, fmt.Errorf("max batch size must be positive, got %d", maxBatch)
	}
	if pool == nil {
		pool = NewPool(nil)
	}

	f := &Fuzzy{
		pool:     pool,
		scorer:   scorer,
		cutoff:   cutoff,
		maxBatch: maxBatch,
	}

	if ms, ok := asMatrix(scorer); ok && pool.Len() > 0 {
		m, err := ms.Prepare(pool.keys)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare %s candidate matrix: %w", scorer.Name(), err)
		}
		f.matrix = m
	}
	return f, nil
}

// Pool returns the candidate pool
func (f *Fuzzy) Pool() *Pool { return f.pool }

// Cutoff returns the minimum accepted score
func (f *Fuzzy) Cutoff() float64 { return f.cutoff }

// Failures counts queries that ended unmatched because scoring failed
func (f *Fuzzy) Failures() int64 { return f.failures.Load() }

// BestMatch scores query against every candidate and keeps the highest;
// the earliest candidate in pool order wins ties. ok is false when the best
// score is below the cutoff, in which case the best candidate is still returned.
func (f *Fuzzy) BestMatch(query string) (best Candidate, ok bool, err error) {
	if f.pool.Len() == 0 {
		return Candidate{}, false, ErrEmptyCandidatePool
	}

	best = Candidate{Index: -1, Score: -1}
	for i, key := range f.pool.keys {
		s, err := f.score(query, key)
		if err != nil {
			return Candidate{}, false, err
		}
		if s > best.Score {
			best = Candidate{Key: key, Index: i, Score: s}
		}
	}
	return best, best.Score >= f.cutoff, nil
}

// MatchRow resolves one query row-wise
func (f *Fuzzy) MatchRow(query string) Result {
	return f.resolve(query, FuzzyBaseline)
}

// BestMatches resolves a batch at once. Batches larger than the maximum are
// rejected, never truncated. A failure of the whole matrix call falls back
// to row-wise scoring so that only the offending queries are affected.
func (f *Fuzzy) BestMatches(queries []string) ([]Result, error) {
	if len(queries) > f.maxBatch {
		return nil, &BatchOverflowError{Size: len(queries), Max: f.maxBatch}
	}

	out := make([]Result, len(queries))
	if f.pool.Len() == 0 {
		for i, q := range queries {
			out[i] = NewUnmatched(q, ErrEmptyCandidatePool.Error())
		}
		return out, nil
	}

	if f.matrix == nil {
		for i, q := range queries {
			out[i] = f.resolve(q, FuzzyBatch)
		}
		return out, nil
	}

	rows, err := f.scoreAll(queries)
	if err != nil {
		for i, q := range queries {
			out[i] = f.resolve(q, FuzzyBatch)
		}
		return out, nil
	}

	for i, q := range queries {
		out[i] = f.pick(q, rows[i])
	}
	return out, nil
}

func (f *Fuzzy) resolve(query string, source Source) Result {
	best, ok, err := f.BestMatch(query)
	if err != nil {
		if errors.Is(err, ErrScorerFailure) {
			f.failures.Add(1)
		}
		return NewUnmatched(query, err.Error())
	}
	if !ok {
		return NewUnmatched(query, belowCutoff(best.Score, f.cutoff))
	}
	return f.pool.result(query, best.Index, best.Score, source)
}

// pick takes the argmax of one matrix row with the same tie-break as BestMatch
func (f *Fuzzy) pick(query string, row []float64) Result {
	best, bestScore := -1, -1.0
	for j, s := range row {
		if err := checkScore(s); err != nil {
			e := &ScorerError{Query: query, Candidate: f.pool.keys[j], Err: err}
			f.failures.Add(1)
			return NewUnmatched(query, e.Error())
		}
		if s > bestScore {
			best, bestScore = j, s
		}
	}
	if bestScore < f.cutoff {
		return NewUnmatched(query, belowCutoff(bestScore, f.cutoff))
	}
	return f.pool.result(query, best, bestScore, FuzzyBatch)
}

func (f *Fuzzy) score(query, candidate string) (s float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ScorerError{Query: query, Candidate: candidate, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	s, err = f.scorer.Score(query, candidate)
	if err == nil {
		err = checkScore(s)
	}
	if err != nil {
		return 0, &ScorerError{Query: query, Candidate: candidate, Err: err}
	}
	return s, nil
}

func (f *Fuzzy) scoreAll(queries []string) (rows [][]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("matrix scoring panicked: %v", r)
		}
	}()

	rows, err = f.matrix.ScoreAll(queries)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(queries) {
		return nil, fmt.Errorf("matrix has %d rows for %d queries", len(rows), len(queries))
	}
	for i, row := range rows {
		if len(row) != f.pool.Len() {
			return nil, fmt.Errorf("matrix row %d has %d columns for %d candidates", i, len(row), f.pool.Len())
		}
	}
	return rows, nil
}

func checkScore(s float64) error {
	if math.IsNaN(s) || s < 0 || s > 100 {
		return fmt.Errorf("score %v outside [0, 100]", s)
	}
	return nil
}

func belowCutoff(best, cutoff float64) string {
	return fmt.Sprintf("best score %.2f below cutoff %.2f", best, cutoff)
}
