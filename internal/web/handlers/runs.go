package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/namelink/internal/dataset"
	"github.com/namelink/internal/store"
)

// RunsHandler serves stored runs
type RunsHandler struct {
	Runs   RunStore
	Logger *zap.Logger
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.Logger.Error("failed to list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	rec, err := h.Runs.GetRun(r.Context(), runID)
	if !h.checkLookup(w, runID, err) {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetResults handles GET /api/runs/{id}/results; ?format=csv returns the table as CSV
func (h *RunsHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	if _, err := h.Runs.GetRun(r.Context(), runID); !h.checkLookup(w, runID, err) {
		return
	}

	table, err := h.Runs.Results(r.Context(), runID)
	if err != nil {
		h.Logger.Error("failed to load results", zap.String("run_id", runID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", runID.String()+".csv"))
		if err := dataset.WriteTable(w, table); err != nil {
			h.Logger.Error("failed to write csv", zap.String("run_id", runID.String()), zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *RunsHandler) checkLookup(w http.ResponseWriter, runID uuid.UUID, err error) bool {
	switch {
	case errors.Is(err, store.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "Run not found")
		return false
	case err != nil:
		h.Logger.Error("failed to load run", zap.String("run_id", runID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return false
	}
	return true
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	vars := mux.Vars(r)
	runID, err := uuid.Parse(vars["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid run ID")
		return uuid.Nil, false
	}
	return runID, true
}
