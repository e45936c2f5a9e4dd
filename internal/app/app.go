// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/cbr-rates-crawler/internal/api"
	"github.com/JakeFAU/cbr-rates-crawler/internal/backfill"
	"github.com/JakeFAU/cbr-rates-crawler/internal/clock/system"
	"github.com/JakeFAU/cbr-rates-crawler/internal/config"
	"github.com/JakeFAU/cbr-rates-crawler/internal/crawler"
	"github.com/JakeFAU/cbr-rates-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/cbr-rates-crawler/internal/fetcher/colly"
	idgen "github.com/JakeFAU/cbr-rates-crawler/internal/id/uuid"
	"github.com/JakeFAU/cbr-rates-crawler/internal/parser/cbr"
	"github.com/JakeFAU/cbr-rates-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/cbr-rates-crawler/internal/storage/memory"
	"github.com/JakeFAU/cbr-rates-crawler/internal/storage/postgres"
	"github.com/JakeFAU/cbr-rates-crawler/internal/store"
	"github.com/JakeFAU/cbr-rates-crawler/internal/worker"
)

// ErrMissingDSN is returned when a database is required but db.dsn is empty.
var ErrMissingDSN = errors.New("db.dsn is required unless running dry")

// RateStore is the sink the app writes to; it also backs the readiness probe.
type RateStore interface {
	crawler.Sink
	Ping(ctx context.Context) error
}

// App holds all the shared, long-lived services for the application.
// It is built once per command and closed when the command finishes.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	pool       *pgxpool.Pool
	rates      RateStore
	runs       store.RunRepository
	controller *backfill.Controller
}

// New builds the services described by cfg. With dryRun set, rates and run
// history are kept in memory and no database connection is opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, dryRun bool) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Crawler.TimeLocation()
	if err != nil {
		return nil, err
	}
	minDate, err := cfg.Crawler.MinDateValue()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger}
	if dryRun {
		logger.Info("dry run: rates and run history are kept in memory")
		a.rates = memory.NewRateStore()
		a.runs = memory.NewRunStore()
	} else {
		if err := a.openPostgres(ctx); err != nil {
			return nil, err
		}
	}

	fetchOpts := []collyfetcher.Option{collyfetcher.WithLogger(logger.Named("fetcher"))}
	if limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Source.RateLimit, Burst: cfg.Source.RateBurst}); !limiter.Unlimited() {
		fetchOpts = append(fetchOpts, collyfetcher.WithLimiter(limiter))
	}
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		BaseURL:   cfg.Source.BaseURL,
		UserAgent: cfg.Source.UserAgent,
		ProxyURL:  cfg.Source.ProxyURL,
		Timeout:   cfg.Source.RequestTimeout,
		Retry:     cfg.RetryPolicy(),
	}, fetchOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	clock := system.New(loc)
	w := worker.New(fetcher, cbr.Parser{}, a.rates, clock, logger.Named("worker"))
	d := dispatcher.New(w, cfg.Crawler.MaxConcurrency, logger.Named("dispatcher"))
	a.controller = backfill.New(a.rates, d, clock, idgen.New(),
		backfill.WithMinDate(minDate),
		backfill.WithRunRepository(a.runs),
		backfill.WithLogger(logger.Named("backfill")),
	)

	logger.Info("application services initialized",
		zap.String("source", cfg.Source.BaseURL),
		zap.Int("max_concurrency", cfg.Crawler.MaxConcurrency),
		zap.Bool("dry_run", dryRun))
	return a, nil
}

func (a *App) openPostgres(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		return ErrMissingDSN
	}
	a.logger.Info("connecting to postgres")
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	rates, err := postgres.NewRateStore(pool, a.logger.Named("store"))
	if err != nil {
		pool.Close()
		return fmt.Errorf("init rate store: %w", err)
	}
	runs, err := postgres.NewRunStore(pool)
	if err != nil {
		pool.Close()
		return fmt.Errorf("init run store: %w", err)
	}
	a.pool = pool
	a.rates = rates
	a.runs = runs
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Controller returns the backfill controller.
func (a *App) Controller() *backfill.Controller { return a.controller }

// Rates returns the rate sink.
func (a *App) Rates() RateStore { return a.rates }

// Runs returns the run history repository.
func (a *App) Runs() store.RunRepository { return a.runs }

// Migrate applies the schema. It is a no-op for in-memory stores.
func (a *App) Migrate(ctx context.Context, recreate bool) error {
	if a.pool == nil {
		a.logger.Info("no database configured, skipping migrations")
		return nil
	}
	return postgres.Migrate(ctx, a.pool, recreate, a.logger.Named("migrate"))
}

// OpsHandler returns the ops HTTP handler; trigger may be nil.
func (a *App) OpsHandler(trigger api.Trigger) http.Handler {
	return api.NewServer(a.rates, a.runs, trigger, a.logger.Named("api")).Handler()
}

// ServeOps runs the ops server on server.addr until ctx is done. It returns
// immediately when no address is configured.
func (a *App) ServeOps(ctx context.Context, trigger api.Trigger) error {
	if a.cfg.Server.Addr == "" {
		return nil
	}
	return api.Serve(ctx, a.cfg.Server.Addr, a.OpsHandler(trigger), a.logger.Named("api"))
}

// Close releases the database pool and flushes the logger.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	_ = a.logger.Sync()
}
