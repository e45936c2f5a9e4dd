package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/cbr-rates-crawler/internal/crawler"
	"github.com/JakeFAU/cbr-rates-crawler/internal/metrics"
)

const (
	insertRateSQL = `
INSERT INTO exchange_rates_raw (date, num_code, str_code, quantity, name, value)
VALUES ($1, $2, $3, $4, $5, $6::numeric)
ON CONFLICT (date, name) DO NOTHING`

	latestDateSQL = `SELECT date FROM exchange_rates_raw ORDER BY date DESC LIMIT 1`
)

// RateStore implements crawler.Sink on the exchange_rates_raw table.
type RateStore struct {
	pool   pgxPool
	logger *zap.Logger
}

// NewRateStore constructs a store from an existing pool.
func NewRateStore(pool pgxPool, logger *zap.Logger) (*RateStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateStore{pool: pool, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *RateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *RateStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Store inserts a day's records in a single transaction. Rows whose
// (date, name) already exist are skipped, so repeating a day is a no-op.
func (s *RateStore) Store(ctx context.Context, records []crawler.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", crawler.ErrStore, err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback rates tx failed", zap.Error(rbErr))
		}
	}()

	var inserted int64
	for _, rec := range records {
		tag, execErr := tx.Exec(ctx, insertRateSQL,
			rec.Date,
			rec.NumCode,
			rec.StrCode,
			rec.Quantity,
			rec.Name,
			rec.Value.StringFixed(4),
		)
		if execErr != nil {
			return fmt.Errorf("%w: insert %s %s: %w", crawler.ErrStore, rec.Date.Format(crawler.DateLayout), rec.Name, execErr)
		}
		inserted += tag.RowsAffected()
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", crawler.ErrStore, err)
	}

	metrics.AddStoredRecords(int(inserted))
	s.logger.Debug("rates stored",
		zap.String("date", records[0].Date.Format(crawler.DateLayout)),
		zap.Int64("inserted", inserted),
		zap.Int64("skipped", int64(len(records))-inserted),
	)
	return nil
}

// LatestDate returns the most recent stored day; ok is false on an empty table.
func (s *RateStore) LatestDate(ctx context.Context) (time.Time, bool, error) {
	var latest time.Time
	err := s.pool.QueryRow(ctx, latestDateSQL).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: latest date: %w", crawler.ErrStore, err)
	}
	return crawler.DateOf(latest), true, nil
}
