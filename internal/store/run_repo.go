// Package store declares interfaces for persisting backfill runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the backfill_runs status column.
type RunStatus string

// Run statuses persisted in backfill_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunError   RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunPartial, RunError:
		return true
	}
	return false
}

// RunCounts are the per-run task tallies.
type RunCounts struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Empty     int `json:"empty"`
	Failed    int `json:"failed"`
	Records   int `json:"records"`
}

// Run models the backfill_runs table for API responses.
type Run struct {
	// ID is the run identifier (UUIDv7).
	ID uuid.UUID `json:"id"`
	// DateFrom and DateTo bound the processed days, both inclusive.
	DateFrom time.Time `json:"date_from"`
	DateTo   time.Time `json:"date_to"`
	// StartedAt captures when the run was marked running.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil until the run completes.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Counts     RunCounts  `json:"counts"`
	// ErrorMessage optionally stores the first task failure.
	ErrorMessage *string `json:"error_message,omitempty"`
}

// RunRepository persists backfill run history.
type RunRepository interface {
	// StartRun inserts a run in the running state.
	StartRun(ctx context.Context, run Run) error
	// CompleteRun marks the run finished with its final status and counts.
	CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, counts RunCounts, errMsg *string) error
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
