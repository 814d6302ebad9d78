package match

import (
	"fmt"
	"strings"
)

// Source records which stage resolved a query
type Source int

const (
	// Unmatched means no candidate was accepted
	Unmatched Source = iota
	// DirectJoin means the query equals a candidate key
	DirectJoin
	// FuzzyBaseline means a row-wise similarity search found the candidate
	FuzzyBaseline
	// FuzzyBatch means a batch (matrix) similarity search found the candidate
	FuzzyBatch
)

var sourceNames = map[Source]string{
	Unmatched:     "unmapped",
	DirectJoin:    "direct_join",
	FuzzyBaseline: "fuzzy_matching_baseline",
	FuzzyBatch:    "fuzzy_matching_batch",
}

// Sources lists every provenance tag in declaration order
var Sources = []Source{DirectJoin, FuzzyBaseline, FuzzyBatch, Unmatched}

func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// ParseSource is the inverse of String
func ParseSource(name string) (Source, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range sourceNames {
		if n == name {
			return s, nil
		}
	}
	return Unmatched, fmt.Errorf("unknown mapping source %q", name)
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Candidate is a scored position in a Pool
type Candidate struct {
	Key   string
	Index int
	Score float64
}

// Result is one row of the output table
type Result struct {
	Query     string  `json:"search_name_normalized"`
	Candidate string  `json:"match_name_normalized"`
	Score     float64 `json:"similarity_score"`
	Source    Source  `json:"mapping_source"`

	// MatchFirst/MatchLast are the reference identity behind Candidate, when known
	MatchFirst string `json:"match_first_name,omitempty"`
	MatchLast  string `json:"match_last_name,omitempty"`

	// Reason explains an Unmatched row
	Reason string `json:"reason,omitempty"`
}

// Matched reports whether the row carries a candidate
func (r Result) Matched() bool {
	return r.Source != Unmatched
}

// NewUnmatched builds the sentinel row for a query that was not resolved
func NewUnmatched(query, reason string) Result {
	return Result{
		Query:  query,
		Source: Unmatched,
		Reason: reason,
	}
}
