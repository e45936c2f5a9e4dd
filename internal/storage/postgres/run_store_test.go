package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cbr-rates-crawler/internal/store"
)

func newMockRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	runs, err := NewRunStore(mock)
	require.NoError(t, err)
	return runs, mock
}

func TestStartRun(t *testing.T) {
	t.Parallel()

	runs, mock := newMockRunStore(t)
	id := uuid.Must(uuid.NewV7())
	started := time.Unix(1700000000, 0).UTC()
	run := store.Run{ID: id, DateFrom: rateDay, DateTo: rateDay.AddDate(0, 0, 9), StartedAt: started}

	mock.ExpectExec("INSERT INTO backfill_runs").
		WithArgs(id, run.DateFrom, run.DateTo, started, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, runs.StartRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRun(t *testing.T) {
	t.Parallel()

	runs, mock := newMockRunStore(t)
	id := uuid.Must(uuid.NewV7())
	finished := time.Unix(1700000100, 0).UTC()
	counts := store.RunCounts{Processed: 10, Succeeded: 8, Empty: 1, Failed: 1, Records: 272}
	msg := "negative response"

	mock.ExpectExec("UPDATE backfill_runs").
		WithArgs(id, finished, store.RunPartial, 10, 8, 1, 1, 272, &msg).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, runs.CompleteRun(context.Background(), id, finished, store.RunPartial, counts, &msg))

	mock.ExpectExec("UPDATE backfill_runs").
		WithArgs(id, finished, store.RunSuccess, 0, 0, 0, 0, 0, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := runs.CompleteRun(context.Background(), id, finished, store.RunSuccess, store.RunCounts{}, nil)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func runRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "date_from", "date_to", "started_at", "finished_at", "status",
		"processed", "succeeded", "empty", "failed", "records", "error_message",
	})
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	runs, mock := newMockRunStore(t)
	id := uuid.Must(uuid.NewV7())
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)

	mock.ExpectQuery("FROM backfill_runs WHERE id").
		WithArgs(id).
		WillReturnRows(runRows().AddRow(id, rateDay, rateDay, started, &finished, store.RunSuccess,
			1, 1, 0, 0, 34, (*string)(nil)))

	run, err := runs.GetRun(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, run.ID)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, 34, run.Counts.Records)
	require.NotNil(t, run.FinishedAt)

	mock.ExpectQuery("FROM backfill_runs WHERE id").
		WithArgs(id).
		WillReturnRows(runRows())
	_, err = runs.GetRun(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	runs, mock := newMockRunStore(t)
	first, second := uuid.Must(uuid.NewV7()), uuid.Must(uuid.NewV7())
	started := time.Unix(1700000000, 0).UTC()
	status := store.RunError

	mock.ExpectQuery("ORDER BY started_at DESC").
		WithArgs(&status, 20, 0).
		WillReturnRows(runRows().
			AddRow(second, rateDay, rateDay, started.Add(time.Hour), (*time.Time)(nil), store.RunError, 0, 0, 0, 0, 0, (*string)(nil)).
			AddRow(first, rateDay, rateDay, started, (*time.Time)(nil), store.RunError, 0, 0, 0, 0, 0, (*string)(nil)))

	got, err := runs.ListRuns(context.Background(), &status, 20, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, second, got[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
