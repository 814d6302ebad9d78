package match

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScorer struct {
	fn func(a, b string) (float64, error)
}

func (s stubScorer) Name() string { return "stub" }

func (s stubScorer) Score(a, b string) (float64, error) { return s.fn(a, b) }

type stubMatrix func(queries []string) ([][]float64, error)

func (m stubMatrix) ScoreAll(queries []string) ([][]float64, error) { return m(queries) }

type stubMatrixScorer struct {
	stubScorer
	matrix stubMatrix
}

func (s stubMatrixScorer) Prepare([]string) (CandidateMatrix, error) { return s.matrix, nil }

func mustScorer(t *testing.T, metric string) Scorer {
	t.Helper()
	s, err := NewScorer(metric)
	require.NoError(t, err)
	return s
}

func mustFuzzy(t *testing.T, pool *Pool, s Scorer, cutoff float64, maxBatch int) *Fuzzy {
	t.Helper()
	f, err := NewFuzzy(pool, s, cutoff, maxBatch)
	require.NoError(t, err)
	return f
}

func TestBestMatchNicknameScenario(t *testing.T) {
	pool := NewPool([]string{"mike jackson", "james hetfield", "sting"})
	f := mustFuzzy(t, pool, mustScorer(t, "edit-distance"), 70, 10)

	best, ok, err := f.BestMatch("michael jackson")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "mike jackson", best.Key)
	assert.Equal(t, 0, best.Index)
	assert.InDelta(t, 73.333, best.Score, 0.001)

	row := f.MatchRow("michael jackson")
	assert.Equal(t, FuzzyBaseline, row.Source)
	assert.Equal(t, "mike jackson", row.Candidate)

	batch, err := f.BestMatches([]string{"michael jackson"})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, FuzzyBatch, batch[0].Source)
	assert.Equal(t, row.Candidate, batch[0].Candidate)
	assert.Equal(t, row.Score, batch[0].Score)
}

func TestBestMatchFirstCandidateWinsTies(t *testing.T) {
	pool := NewPool([]string{"ab y", "ab x", "ab w"})
	f := mustFuzzy(t, pool, mustScorer(t, "edit-distance"), 0, 10)

	best, ok, err := f.BestMatch("ab z")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ab y", best.Key)

	rows, err := f.BestMatches([]string{"ab z"})
	require.NoError(t, err)
	assert.Equal(t, "ab y", rows[0].Candidate)
}

func TestBelowCutoffIsUnmatched(t *testing.T) {
	pool := NewPool([]string{"mike jackson", "james hetfield"})
	f := mustFuzzy(t, pool, mustScorer(t, "edit-distance"), 90, 10)

	_, ok, err := f.BestMatch("michael jackson")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, row := range []Result{f.MatchRow("michael jackson"), mustFirst(t, f, "michael jackson")} {
		assert.Equal(t, Unmatched, row.Source)
		assert.Zero(t, row.Score)
		assert.Empty(t, row.Candidate)
		assert.Contains(t, row.Reason, "below cutoff")
	}
}

func mustFirst(t *testing.T, f *Fuzzy, q string) Result {
	t.Helper()
	rows, err := f.BestMatches([]string{q})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func TestEmptyPoolNeverScores(t *testing.T) {
	counter := NewCountingScorer(mustScorer(t, "ngram-cosine"))
	f := mustFuzzy(t, NewPool(nil), counter, 0, 10)

	_, _, err := f.BestMatch("anything")
	assert.ErrorIs(t, err, ErrEmptyCandidatePool)

	row := f.MatchRow("anything")
	assert.Equal(t, Unmatched, row.Source)
	assert.Zero(t, row.Score)
	assert.Equal(t, ErrEmptyCandidatePool.Error(), row.Reason)

	rows, err := f.BestMatches([]string{"anything", "else"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, Unmatched, r.Source)
	}

	assert.Zero(t, counter.Calls())
	assert.Zero(t, f.Failures())
}

func TestRowwiseAndMatrixAgree(t *testing.T) {
	candidates := []string{
		"mike jackson", "james hetfield", "sting ", "michelle jackson",
		"jim hetfield", "lars ulrich", "kirk hammett", "mary  ann smith",
	}
	queries := []string{
		"michael jackson", "james hetfeld", "sting", "lars ulrik",
		"kirk hamet", "mary ann smith", "nobody at all", "",
	}

	for _, metric := range []string{"edit-distance", "ngram-cosine", "jaro-winkler"} {
		t.Run(metric, func(t *testing.T) {
			f := mustFuzzy(t, NewPool(candidates), mustScorer(t, metric), 0, len(queries))

			batch, err := f.BestMatches(queries)
			require.NoError(t, err)
			require.Len(t, batch, len(queries))

			for i, q := range queries {
				row := f.MatchRow(q)
				assert.Equal(t, row.Candidate, batch[i].Candidate, "candidate for %q", q)
				assert.Equal(t, row.Score, batch[i].Score, "score for %q", q)
				assert.Equal(t, q, batch[i].Query)
			}
		})
	}
}

func TestBestMatchesRejectsOversizeBatch(t *testing.T) {
	f := mustFuzzy(t, NewPool([]string{"a a"}), mustScorer(t, "edit-distance"), 0, 2)

	rows, err := f.BestMatches([]string{"a", "b", "c"})
	assert.Nil(t, rows)
	require.ErrorIs(t, err, ErrBatchOverflow)

	var overflow *BatchOverflowError
	require.True(t, errors.As(err, &overflow))
	assert.Equal(t, 3, overflow.Size)
	assert.Equal(t, 2, overflow.Max)
}

func TestScorerFailureOnlyAffectsItsQuery(t *testing.T) {
	s := stubScorer{fn: func(a, b string) (float64, error) {
		switch a {
		case "bad":
			return 0, errors.New("boom")
		case "nan":
			return math.NaN(), nil
		case "panic":
			panic("scorer blew up")
		}
		if a == b {
			return 100, nil
		}
		return 80, nil
	}}
	f := mustFuzzy(t, NewPool([]string{"x x", "y y"}), s, 50, 10)

	rows, err := f.BestMatches([]string{"good", "bad", "nan", "panic"})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, FuzzyBatch, rows[0].Source)
	assert.Equal(t, "x x", rows[0].Candidate)

	for _, r := range rows[1:] {
		assert.Equal(t, Unmatched, r.Source, r.Query)
		assert.NotEmpty(t, r.Reason)
	}
	assert.Contains(t, rows[1].Reason, "boom")
	assert.Contains(t, rows[2].Reason, "outside [0, 100]")
	assert.Contains(t, rows[3].Reason, "panic")
	assert.Equal(t, int64(3), f.Failures())

	_, _, err = f.BestMatch("bad")
	var se *ScorerError
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, ErrScorerFailure)
	assert.Equal(t, "bad", se.Query)
	assert.Equal(t, "x x", se.Candidate)
}

func TestMatrixFailureFallsBackToRows(t *testing.T) {
	pool := NewPool([]string{"x x", "y y"})
	base := stubScorer{fn: func(a, b string) (float64, error) {
		if strings.HasPrefix(b, "y") {
			return 90, nil
		}
		return 60, nil
	}}

	t.Run("whole matrix error", func(t *testing.T) {
		s := stubMatrixScorer{stubScorer: base, matrix: func([]string) ([][]float64, error) {
			return nil, errors.New("out of memory")
		}}
		f := mustFuzzy(t, pool, s, 50, 10)

		rows, err := f.BestMatches([]string{"q1", "q2"})
		require.NoError(t, err)
		for _, r := range rows {
			assert.Equal(t, FuzzyBatch, r.Source)
			assert.Equal(t, "y y", r.Candidate)
			assert.Equal(t, 90.0, r.Score)
		}
	})

	t.Run("matrix panic", func(t *testing.T) {
		s := stubMatrixScorer{stubScorer: base, matrix: func([]string) ([][]float64, error) {
			panic("index out of range")
		}}
		f := mustFuzzy(t, pool, s, 50, 10)

		rows, err := f.BestMatches([]string{"q1"})
		require.NoError(t, err)
		assert.Equal(t, "y y", rows[0].Candidate)
	})

	t.Run("bad cell only fails its row", func(t *testing.T) {
		s := stubMatrixScorer{stubScorer: base, matrix: func(qs []string) ([][]float64, error) {
			return [][]float64{{60, 90}, {math.Inf(1), 90}}, nil
		}}
		f := mustFuzzy(t, pool, s, 50, 10)

		rows, err := f.BestMatches([]string{"q1", "q2"})
		require.NoError(t, err)
		assert.Equal(t, "y y", rows[0].Candidate)
		assert.Equal(t, Unmatched, rows[1].Source)
		assert.Contains(t, rows[1].Reason, "x x")
	})
}

func TestMatchedRowsCarryReferenceIdentity(t *testing.T) {
	pool := NewPoolFromIdentities(identities("Mike", "Jackson", "James", "Hetfield"), plainNormalizer)
	f := mustFuzzy(t, pool, mustScorer(t, "edit-distance"), 70, 10)

	row := f.MatchRow("michael jackson")
	assert.Equal(t, "Mike", row.MatchFirst)
	assert.Equal(t, "Jackson", row.MatchLast)
}
