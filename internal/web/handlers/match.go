package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/namelink/internal/config"
	"github.com/namelink/internal/match"
	"github.com/namelink/internal/matcher"
	"github.com/namelink/internal/normalize"
)

// MatchHandler runs the engine synchronously on posted identities
type MatchHandler struct {
	Engine *matcher.Engine
	Runs   RunStore
	Config *Config
	Logger *zap.Logger
}

// MatchRequest is the body of POST /api/match
type MatchRequest struct {
	Label     string               `json:"label"`
	Queries   []normalize.Identity `json:"queries"`
	Reference []normalize.Identity `json:"reference"`
	// Expand adds one row per submitted query, duplicates included
	Expand bool `json:"expand"`
}

// MatchResponse wraps a finished run
type MatchResponse struct {
	Run         *matcher.Run   `json:"run"`
	Counts      map[string]int `json:"counts"`
	Occurrences []match.Result `json:"occurrences,omitempty"`
	Persisted   bool           `json:"persisted"`
}

// Match handles POST /api/match
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if limit := h.Config.Features.MaxRequestRecords; limit > 0 && len(req.Queries)+len(req.Reference) > limit {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Request holds %d records, the limit is %d", len(req.Queries)+len(req.Reference), limit))
		return
	}

	run, err := h.Engine.Link(r.Context(), req.Queries, req.Reference)
	switch {
	case errors.Is(err, match.ErrStructuralInput):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		h.Logger.Error("match run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Matching failed")
		return
	}

	resp := MatchResponse{
		Run:    run,
		Counts: make(map[string]int),
	}
	for source, n := range run.Table.Counts() {
		resp.Counts[source.String()] = n
	}
	if req.Expand {
		resp.Occurrences = match.Expand(h.Engine.Normalizer().Keys(req.Queries), run.Table)
	}

	if matcher.IsCancelled(r.Context().Err()) {
		h.Logger.Warn("client went away, run not persisted", zap.String("run_id", run.ID.String()))
		return
	}

	if h.Runs != nil && h.Config.Features.PersistRuns {
		if err := h.Runs.SaveRun(r.Context(), run, req.Label); err != nil {
			h.Logger.Error("failed to persist run", zap.String("run_id", run.ID.String()), zap.Error(err))
		} else {
			resp.Persisted = true
		}
	}

	status := http.StatusOK
	if run.Partial {
		status = http.StatusPartialContent
	}
	writeJSON(w, status, resp)
}

// ConfigResponse is the body of GET /api/config
type ConfigResponse struct {
	BatchSize       int     `json:"batch_size"`
	MaxBatchSize    int     `json:"max_batch_size"`
	WorkerCount     int     `json:"worker_count"`
	ScoreCutoff     float64 `json:"score_cutoff"`
	DistanceMetric  string  `json:"distance_metric"`
	Strategy        string  `json:"strategy"`
	SampledRunLimit *int    `json:"sampled_run_limit,omitempty"`
	FoldAccents     bool    `json:"fold_accents"`
}

// GetConfig handles GET /api/config
func (h *MatchHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configResponse(h.Engine.Config()))
}

func configResponse(cfg config.Matching) ConfigResponse {
	return ConfigResponse{
		BatchSize:       cfg.BatchSize,
		MaxBatchSize:    cfg.MaxBatchSize,
		WorkerCount:     cfg.WorkerCount,
		ScoreCutoff:     cfg.ScoreCutoff,
		DistanceMetric:  cfg.DistanceMetric,
		Strategy:        cfg.Strategy,
		SampledRunLimit: cfg.SampledRunLimit,
		FoldAccents:     cfg.FoldAccents,
	}
}
