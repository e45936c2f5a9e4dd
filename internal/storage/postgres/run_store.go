package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/cbr-rates-crawler/internal/store"
)

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool pgxPool
}

// NewRunStore creates a RunStore on an existing pool.
func NewRunStore(pool pgxPool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// StartRun inserts a run row in the running state.
func (s *RunStore) StartRun(ctx context.Context, run store.Run) error {
	query := `
		INSERT INTO backfill_runs (id, date_from, date_to, started_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, query, run.ID, run.DateFrom, run.DateTo, run.StartedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to insert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status, counts, and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	counts store.RunCounts,
	errMsg *string,
) error {
	query := `
		UPDATE backfill_runs
		SET finished_at = $2, status = $3, processed = $4, succeeded = $5,
		    empty = $6, failed = $7, records = $8, error_message = $9
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query, id, finishedAt, status,
		counts.Processed, counts.Succeeded, counts.Empty, counts.Failed, counts.Records, errMsg)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const runColumns = `id, date_from, date_to, started_at, finished_at, status,
		       processed, succeeded, empty, failed, records, error_message`

func scanRun(row pgx.Row) (store.Run, error) {
	var run store.Run
	err := row.Scan(
		&run.ID,
		&run.DateFrom,
		&run.DateTo,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Counts.Processed,
		&run.Counts.Succeeded,
		&run.Counts.Empty,
		&run.Counts.Failed,
		&run.Counts.Records,
		&run.ErrorMessage,
	)
	return run, err
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM backfill_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM backfill_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
