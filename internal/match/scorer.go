package match

import (
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/hbollon/go-edlib"
)

// Scorer compares two normalized keys and returns a similarity in [0, 100]
type Scorer interface {
	Name() string
	Score(a, b string) (float64, error)
}

// MatrixScorer can precompute the candidate side once per pool and then
// score a whole batch of queries against it in one call
type MatrixScorer interface {
	Scorer
	Prepare(candidates []string) (CandidateMatrix, error)
}

// CandidateMatrix scores queries against a prepared candidate set.
// Row i holds the scores of queries[i] in candidate order.
type CandidateMatrix interface {
	ScoreAll(queries []string) ([][]float64, error)
}

// NewScorer returns the canonical scorer for a metric name
func NewScorer(metric string) (Scorer, error) {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "edit-distance", "levenshtein":
		return Canonical(EditDistance{}), nil
	case "ngram-cosine", "ngram":
		return Canonical(NewNgramCosine(DefaultNgramSize)), nil
	case "jaro-winkler":
		return Canonical(JaroWinkler{}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
}

// EditDistance scores 100 * (1 - levenshtein(a, b) / max rune length)
type EditDistance struct{}

func (EditDistance) Name() string { return "edit-distance" }

func (EditDistance) Score(a, b string) (float64, error) {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 100, nil
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(distance)/float64(longest)), nil
}

// JaroWinkler scores the Jaro-Winkler similarity scaled to [0, 100]
type JaroWinkler struct{}

func (JaroWinkler) Name() string { return "jaro-winkler" }

func (JaroWinkler) Score(a, b string) (float64, error) {
	return 100 * float64(edlib.JaroWinklerSimilarity(a, b)), nil
}

// Canonical orders arguments lexically before delegating and scores
// identical inputs as 100. A MatrixScorer stays a MatrixScorer.
func Canonical(s Scorer) Scorer {
	c := canonical{inner: s}
	if ms, ok := s.(MatrixScorer); ok {
		return canonicalMatrix{canonical: c, matrix: ms}
	}
	return c
}

type canonical struct {
	inner Scorer
}

func (c canonical) Name() string { return c.inner.Name() }

func (c canonical) Score(a, b string) (float64, error) {
	if a == b {
		return 100, nil
	}
	if b < a {
		a, b = b, a
	}
	return c.inner.Score(a, b)
}

type canonicalMatrix struct {
	canonical
	matrix MatrixScorer
}

func (c canonicalMatrix) Prepare(candidates []string) (CandidateMatrix, error) {
	return c.matrix.Prepare(candidates)
}

// CountingScorer counts comparisons made through it. Matrix calls count
// one comparison per cell.
type CountingScorer struct {
	inner Scorer
	calls atomic.Int64
}

// NewCountingScorer wraps s
func NewCountingScorer(s Scorer) *CountingScorer {
	return &CountingScorer{inner: s}
}

func (c *CountingScorer) Name() string { return c.inner.Name() }

func (c *CountingScorer) Score(a, b string) (float64, error) {
	c.calls.Add(1)
	return c.inner.Score(a, b)
}

// Calls returns the number of comparisons so far
func (c *CountingScorer) Calls() int64 {
	return c.calls.Load()
}

// Matrix exposes the wrapped scorer's matrix support, if any
func (c *CountingScorer) Matrix() (MatrixScorer, bool) {
	ms, ok := c.inner.(MatrixScorer)
	if !ok {
		return nil, false
	}
	return countingMatrixScorer{CountingScorer: c, inner: ms}, true
}

type countingMatrixScorer struct {
	*CountingScorer
	inner MatrixScorer
}

func (c countingMatrixScorer) Prepare(candidates []string) (CandidateMatrix, error) {
	m, err := c.inner.Prepare(candidates)
	if err != nil {
		return nil, err
	}
	return countingMatrix{counter: c.CountingScorer, inner: m, width: len(candidates)}, nil
}

type countingMatrix struct {
	counter *CountingScorer
	inner   CandidateMatrix
	width   int
}

func (m countingMatrix) ScoreAll(queries []string) ([][]float64, error) {
	m.counter.calls.Add(int64(len(queries) * m.width))
	return m.inner.ScoreAll(queries)
}

// asMatrix returns the matrix form of s when it has one
func asMatrix(s Scorer) (MatrixScorer, bool) {
	if c, ok := s.(*CountingScorer); ok {
		return c.Matrix()
	}
	ms, ok := s.(MatrixScorer)
	return ms, ok
}
