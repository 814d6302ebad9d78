package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/namelink/internal/match"
	"github.com/namelink/internal/matcher"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrRunNotFound is returned when a run ID is unknown
var ErrRunNotFound = errors.New("match run not found")

// Store persists matching runs and their result rows in Postgres
type Store struct {
	db *sql.DB
}

// New wraps an open database handle
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunRecord is a row of match_run
type RunRecord struct {
	RunID           uuid.UUID  `json:"run_id"`
	RunLabel        string     `json:"run_label"`
	Metric          string     `json:"metric"`
	Strategy        string     `json:"strategy"`
	ScoreCutoff     float64    `json:"score_cutoff"`
	RunStartedAt    time.Time  `json:"run_started_at"`
	RunCompletedAt  *time.Time `json:"run_completed_at,omitempty"`
	Partial         bool       `json:"partial"`
	TotalQueries    int        `json:"total_queries"`
	TotalCandidates int        `json:"total_candidates"`
	DirectJoin      int        `json:"direct_join"`
	FuzzyMatched    int        `json:"fuzzy_matched"`
	Unmatched       int        `json:"unmatched"`
	ScorerCalls     int64      `json:"scorer_calls"`
}

// RecordFromRun maps an engine run onto its match_run row
func RecordFromRun(run *matcher.Run, label string) RunRecord {
	rec := RunRecord{
		RunID:           run.ID,
		RunLabel:        label,
		Metric:          run.Metric,
		Strategy:        run.Strategy,
		ScoreCutoff:     run.Cutoff,
		RunStartedAt:    run.StartedAt,
		Partial:         run.Partial,
		TotalQueries:    run.Stats.Queries,
		TotalCandidates: run.Stats.Candidates,
		DirectJoin:      run.Stats.DirectJoin,
		FuzzyMatched:    run.Stats.FuzzyMatched,
		Unmatched:       run.Stats.Unmatched,
		ScorerCalls:     run.Stats.ScorerCalls,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		rec.RunCompletedAt = &finished
	}
	return rec
}

// Migrate applies the embedded schema files in name order
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
	}
	return nil
}

// SaveRun stores a finished run and all of its rows in one transaction
func (s *Store) SaveRun(ctx context.Context, run *matcher.Run, label string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec := RecordFromRun(run, label)
	if err := createRun(ctx, tx, rec); err != nil {
		return err
	}
	if err := saveResults(ctx, tx, run.ID, run.Table.Rows); err != nil {
		return err
	}
	if err := completeRun(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", run.ID, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func createRun(ctx context.Context, db execer, rec RunRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO match_run (run_id, run_label, metric, strategy, score_cutoff, run_started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.RunID.String(), rec.RunLabel, rec.Metric, rec.Strategy, rec.ScoreCutoff, rec.RunStartedAt)
	if err != nil {
		return fmt.Errorf("failed to create match run: %w", err)
	}
	return nil
}

// saveResults bulk loads rows with COPY
func saveResults(ctx context.Context, db execer, runID uuid.UUID, rows []match.Result) error {
	stmt, err := db.PrepareContext(ctx, pq.CopyIn("match_result",
		"run_id", "search_name_normalized", "match_name_normalized", "similarity_score",
		"mapping_source", "match_first_name", "match_last_name", "reason"))
	if err != nil {
		return fmt.Errorf("failed to prepare result copy: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx, runID.String(), r.Query, r.Candidate, r.Score,
			r.Source.String(), r.MatchFirst, r.MatchLast, r.Reason)
		if err != nil {
			return fmt.Errorf("failed to copy result %q: %w", r.Query, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to flush result copy: %w", err)
	}
	return nil
}

func completeRun(ctx context.Context, db execer, rec RunRecord) error {
	completed := time.Now()
	if rec.RunCompletedAt != nil {
		completed = *rec.RunCompletedAt
	}

	_, err := db.ExecContext(ctx, `
		UPDATE match_run
		SET run_completed_at = $1, partial = $2, total_queries = $3, total_candidates = $4,
			direct_join = $5, fuzzy_matched = $6, unmatched = $7, scorer_calls = $8
		WHERE run_id = $9
	`, completed, rec.Partial, rec.TotalQueries, rec.TotalCandidates,
		rec.DirectJoin, rec.FuzzyMatched, rec.Unmatched, rec.ScorerCalls, rec.RunID.String())
	if err != nil {
		return fmt.Errorf("failed to complete match run: %w", err)
	}
	return nil
}

const runColumns = `run_id, run_label, metric, strategy, score_cutoff, run_started_at, run_completed_at,
	partial, total_queries, total_candidates, direct_join, fuzzy_matched, unmatched, scorer_calls`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var completed sql.NullTime
	err := row.Scan(&rec.RunID, &rec.RunLabel, &rec.Metric, &rec.Strategy, &rec.ScoreCutoff,
		&rec.RunStartedAt, &completed, &rec.Partial, &rec.TotalQueries, &rec.TotalCandidates,
		&rec.DirectJoin, &rec.FuzzyMatched, &rec.Unmatched, &rec.ScorerCalls)
	if err != nil {
		return RunRecord{}, err
	}
	if completed.Valid {
		rec.RunCompletedAt = &completed.Time
	}
	return rec, nil
}

// GetRun loads one run
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM match_run WHERE run_id = $1`, runID.String())
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return &rec, nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM match_run ORDER BY run_started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// Results loads a run's table, sorted by query
func (s *Store) Results(ctx context.Context, runID uuid.UUID) (match.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT search_name_normalized, match_name_normalized, similarity_score,
			mapping_source, match_first_name, match_last_name, reason
		FROM match_result
		WHERE run_id = $1
		ORDER BY search_name_normalized COLLATE "C"
	`, runID.String())
	if err != nil {
		return match.Table{}, fmt.Errorf("failed to load results for run %s: %w", runID, err)
	}
	defer rows.Close()

	var table match.Table
	for rows.Next() {
		var r match.Result
		var source string
		if err := rows.Scan(&r.Query, &r.Candidate, &r.Score, &source, &r.MatchFirst, &r.MatchLast, &r.Reason); err != nil {
			return match.Table{}, fmt.Errorf("failed to scan result: %w", err)
		}
		if r.Source, err = match.ParseSource(source); err != nil {
			return match.Table{}, err
		}
		table.Rows = append(table.Rows, r)
	}
	return table, rows.Err()
}

// DeleteRun removes a run and its rows
func (s *Store) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM match_run WHERE run_id = $1`, runID.String())
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}
