package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/namelink/internal/match"
	"github.com/namelink/internal/matcher"
	"github.com/namelink/internal/store"
)

// Config represents the web server configuration (simplified)
type Config struct {
	Features struct {
		PersistRuns       bool `json:"persist_runs"`
		MaxRequestRecords int  `json:"max_request_records"`
	} `json:"features"`
}

// RunStore is the persistence the handlers need
type RunStore interface {
	SaveRun(ctx context.Context, run *matcher.Run, label string) error
	GetRun(ctx context.Context, runID uuid.UUID) (*store.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
	Results(ctx context.Context, runID uuid.UUID) (match.Table, error)
	Ping(ctx context.Context) error
}

// ErrorResponse is the body of every non-2xx JSON reply
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
