package match

import (
	"math"
	"sort"
)

// DefaultNgramSize is the character ngram length used for cosine scoring
const DefaultNgramSize = 3

// NgramCosine scores the cosine similarity of character ngram count vectors
type NgramCosine struct {
	n int
}

// NewNgramCosine builds a scorer over ngrams of length n (n < 1 uses the default)
func NewNgramCosine(n int) NgramCosine {
	if n < 1 {
		n = DefaultNgramSize
	}
	return NgramCosine{n: n}
}

func (NgramCosine) Name() string { return "ngram-cosine" }

func (s NgramCosine) Score(a, b string) (float64, error) {
	if a == b {
		return 100, nil
	}
	return cosine(s.vector(a), s.vector(b)), nil
}

// Prepare vectorizes the candidates once
func (s NgramCosine) Prepare(candidates []string) (CandidateMatrix, error) {
	m := ngramMatrix{scorer: s, keys: candidates, vectors: make([]ngramVector, len(candidates))}
	for i, c := range candidates {
		m.vectors[i] = s.vector(c)
	}
	return m, nil
}

type ngramMatrix struct {
	scorer  NgramCosine
	keys    []string
	vectors []ngramVector
}

func (m ngramMatrix) ScoreAll(queries []string) ([][]float64, error) {
	out := make([][]float64, len(queries))
	for i, q := range queries {
		qv := m.scorer.vector(q)
		row := make([]float64, len(m.vectors))
		for j, cv := range m.vectors {
			if q == m.keys[j] {
				row[j] = 100
				continue
			}
			row[j] = cosine(qv, cv)
		}
		out[i] = row
	}
	return out, nil
}

type gramCount struct {
	gram  string
	count float64
}

// ngramVector is sorted by gram so that dot products are order independent
type ngramVector struct {
	grams []gramCount
	norm  float64
}

func (s NgramCosine) vector(text string) ngramVector {
	r := []rune(text)
	counts := make(map[string]float64)
	switch {
	case len(r) == 0:
	case len(r) < s.n:
		counts[text]++
	default:
		for i := 0; i+s.n <= len(r); i++ {
			counts[string(r[i:i+s.n])]++
		}
	}

	v := ngramVector{grams: make([]gramCount, 0, len(counts))}
	for g, c := range counts {
		v.grams = append(v.grams, gramCount{gram: g, count: c})
	}
	sort.Slice(v.grams, func(i, j int) bool { return v.grams[i].gram < v.grams[j].gram })

	var sum float64
	for _, g := range v.grams {
		sum += g.count * g.count
	}
	v.norm = math.Sqrt(sum)
	return v
}

func cosine(a, b ngramVector) float64 {
	if a.norm == 0 || b.norm == 0 {
		return 0
	}
	var dot float64
	i, j := 0, 0
	for i < len(a.grams) && j < len(b.grams) {
		switch {
		case a.grams[i].gram < b.grams[j].gram:
			i++
		case a.grams[i].gram > b.grams[j].gram:
			j++
		default:
			dot += a.grams[i].count * b.grams[j].count
			i++
			j++
		}
	}
	score := 100 * dot / (a.norm * b.norm)
	return math.Min(100, math.Max(0, score))
}
