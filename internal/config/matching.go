package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is returned when matching options fail validation
var ErrInvalidConfig = errors.New("invalid matching configuration")

// Distance metrics understood by the scorer factory
const (
	MetricEditDistance = "edit-distance"
	MetricNgramCosine  = "ngram-cosine"
	MetricJaroWinkler  = "jaro-winkler"
)

// Fuzzy execution strategies
const (
	StrategyRow    = "row"
	StrategyMatrix = "matrix"
)

// Matching holds the engine options. It is passed to the engine at construction.
type Matching struct {
	BatchSize       int     `validate:"gt=0"`
	MaxBatchSize    int     `validate:"gt=0,gtefield=BatchSize"`
	WorkerCount     int     `validate:"gt=0"`
	ScoreCutoff     float64 `validate:"gte=0,lte=100"`
	DistanceMetric  string  `validate:"oneof=edit-distance ngram-cosine jaro-winkler"`
	Strategy        string  `validate:"oneof=row matrix"`
	SampledRunLimit *int    `validate:"omitempty,gt=0"`
	FoldAccents     bool
}

// DefaultMatching returns the defaults: batches of 1000 on 4 workers, edit distance, cutoff 70
func DefaultMatching() Matching {
	return Matching{
		BatchSize:      1000,
		MaxBatchSize:   1000,
		WorkerCount:    4,
		ScoreCutoff:    70,
		DistanceMetric: MetricEditDistance,
		Strategy:       StrategyRow,
	}
}

// LoadMatching reads MATCH_* variables on top of DefaultMatching and validates the result
func LoadMatching() (Matching, error) {
	cfg := DefaultMatching()

	cfg.BatchSize = GetEnvInt("MATCH_BATCH_SIZE", cfg.BatchSize)
	cfg.MaxBatchSize = GetEnvInt("MATCH_MAX_BATCH_SIZE", cfg.BatchSize)
	cfg.WorkerCount = GetEnvInt("MATCH_WORKER_COUNT", cfg.WorkerCount)
	cfg.ScoreCutoff = GetEnvFloat("MATCH_SCORE_CUTOFF", cfg.ScoreCutoff)
	cfg.DistanceMetric = strings.ToLower(GetEnv("MATCH_DISTANCE_METRIC", cfg.DistanceMetric))
	cfg.Strategy = strings.ToLower(GetEnv("MATCH_STRATEGY", cfg.Strategy))
	cfg.FoldAccents = GetEnvBool("MATCH_FOLD_ACCENTS", cfg.FoldAccents)

	if limit := GetEnvInt("MATCH_SAMPLED_RUN_LIMIT", 0); limit != 0 {
		cfg.SampledRunLimit = &limit
	}

	if err := cfg.Validate(); err != nil {
		return Matching{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every option and reports all violations at once
func (m Matching) Validate() error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}
