package match

import (
	"errors"
	"fmt"
)

var (
	// ErrStructuralInput is returned when an identity lacks its required fields
	ErrStructuralInput = errors.New("structural input error")
	// ErrBatchOverflow is returned when a batch exceeds the configured maximum
	ErrBatchOverflow = errors.New("batch exceeds maximum size")
	// ErrScorerFailure marks a failed (query, candidate) comparison
	ErrScorerFailure = errors.New("scorer failure")
	// ErrEmptyCandidatePool is returned when fuzzy matching has nothing to search
	ErrEmptyCandidatePool = errors.New("empty candidate pool")
	// ErrDuplicateQuery is returned when result streams overlap
	ErrDuplicateQuery = errors.New("query appears more than once")
	// ErrUnknownMetric is returned for an unsupported distance metric name
	ErrUnknownMetric = errors.New("unknown distance metric")
)

// InputError locates a structurally invalid identity
type InputError struct {
	Side  string // "query" or "reference"
	Index int
	Field string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s record %d: missing required field %s", e.Side, e.Index, e.Field)
}

func (e *InputError) Is(target error) bool {
	return target == ErrStructuralInput
}

// BatchOverflowError is a rejected batch
type BatchOverflowError struct {
	Size int
	Max  int
}

func (e *BatchOverflowError) Error() string {
	return fmt.Sprintf("batch of %d queries exceeds maximum of %d", e.Size, e.Max)
}

func (e *BatchOverflowError) Is(target error) bool {
	return target == ErrBatchOverflow
}

// ScorerError is a failed comparison between a query and a candidate
type ScorerError struct {
	Query     string
	Candidate string
	Err       error
}

func (e *ScorerError) Error() string {
	return fmt.Sprintf("scoring %q against %q: %v", e.Query, e.Candidate, e.Err)
}

func (e *ScorerError) Is(target error) bool {
	return target == ErrScorerFailure
}

func (e *ScorerError) Unwrap() error {
	return e.Err
}
