// Package backfill computes the effective crawl range and drives a run.
package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/cbr-rates-crawler/internal/crawler"
	"github.com/JakeFAU/cbr-rates-crawler/internal/store"
)

// Runner executes the per-day tasks of a range.
type Runner interface {
	Run(ctx context.Context, r crawler.DateRange) crawler.Report
}

// LatestDater reports the most recent persisted day.
type LatestDater interface {
	LatestDate(ctx context.Context) (time.Time, bool, error)
}

// Options selects the days of a run. A zero From means the earliest
// published day; a nil To means today.
type Options struct {
	From   time.Time
	To     *time.Time
	Resume bool
}

// Controller owns range computation and the run lifecycle.
type Controller struct {
	latest  LatestDater
	runner  Runner
	clock   crawler.Clock
	ids     crawler.IDGenerator
	runs    store.RunRepository
	minDate time.Time
	logger  *zap.Logger
}

// Option customises a Controller.
type Option func(*Controller)

// WithMinDate overrides the earliest allowed day.
func WithMinDate(d time.Time) Option {
	return func(c *Controller) { c.minDate = crawler.DateOf(d) }
}

// WithRunRepository records run history.
func WithRunRepository(runs store.RunRepository) Option {
	return func(c *Controller) { c.runs = runs }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// New constructs a Controller.
func New(latest LatestDater, runner Runner, clock crawler.Clock, ids crawler.IDGenerator, opts ...Option) *Controller {
	c := &Controller{
		latest:  latest,
		runner:  runner,
		clock:   clock,
		ids:     ids,
		minDate: crawler.MinDate,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// MinDate returns the earliest allowed day.
func (c *Controller) MinDate() time.Time { return c.minDate }

// ComputeRange resolves the days to crawl. With resume set, the start moves
// forward to the latest persisted day, which is crawled again.
func (c *Controller) ComputeRange(ctx context.Context, from time.Time, to *time.Time, resume bool) (crawler.DateRange, error) {
	if from.IsZero() {
		from = c.minDate
	}
	from = crawler.DateOf(from)
	if from.Before(c.minDate) {
		return crawler.DateRange{}, fmt.Errorf("%w: date_from %s is before %s",
			crawler.ErrInvalidDate, from.Format(crawler.DateLayout), c.minDate.Format(crawler.DateLayout))
	}

	today := crawler.DateOf(c.clock.Now())
	end := today
	if to != nil {
		end = crawler.DateOf(*to)
		if end.After(today) {
			return crawler.DateRange{}, fmt.Errorf("%w: date_to %s is after today %s",
				crawler.ErrInvalidDate, end.Format(crawler.DateLayout), today.Format(crawler.DateLayout))
		}
	}

	if resume {
		floor := c.minDate
		latest, ok, err := c.latest.LatestDate(ctx)
		if err != nil {
			return crawler.DateRange{}, fmt.Errorf("resolve resume point: %w", err)
		}
		if ok {
			floor = crawler.DateOf(latest)
		}
		if floor.After(from) {
			c.logger.Info("resuming from latest stored date",
				zap.String("requested_from", from.Format(crawler.DateLayout)),
				zap.String("from", floor.Format(crawler.DateLayout)))
			from = floor
		}
	}

	r, err := crawler.NewDateRange(from, end)
	if err != nil {
		return crawler.DateRange{}, fmt.Errorf("compute range: %w", err)
	}
	return r, nil
}

// Run computes the range, processes it, and returns the report. The error
// is non-nil only when the range cannot be computed; task failures are
// listed in the report.
func (c *Controller) Run(ctx context.Context, opts Options) (crawler.Report, error) {
	runID, err := c.ids.NewID()
	if err != nil {
		return crawler.Report{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := c.logger.With(zap.String("run_id", runID))

	r, err := c.ComputeRange(ctx, opts.From, opts.To, opts.Resume)
	if err != nil {
		return crawler.Report{RunID: runID}, err
	}
	logger.Info("backfill range",
		zap.String("from", r.From().Format(crawler.DateLayout)),
		zap.String("to", r.To().Format(crawler.DateLayout)),
		zap.Int("days", r.Days()),
		zap.Bool("resume", opts.Resume))

	started := c.clock.Now()
	c.recordStart(ctx, logger, runID, r, started)

	report := c.runner.Run(ctx, r)
	report.RunID = runID
	report.Range = r
	elapsed := c.clock.Now().Sub(started)

	c.recordFinish(ctx, logger, runID, report)
	fields := []zap.Field{
		zap.Int("processed", report.Processed),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("empty", report.Empty),
		zap.Int("failed", len(report.Failed)),
		zap.Int("records", report.Records),
		zap.Int("waves", report.Waves),
		zap.Duration("duration", elapsed),
	}
	if report.HasFailures() {
		logger.Warn("backfill finished with failures", append(fields, zap.Error(report.FirstErr))...)
	} else {
		logger.Info("backfill finished", fields...)
	}
	return report, nil
}

// Status maps a report onto the persisted run status.
func Status(report crawler.Report) store.RunStatus {
	switch {
	case !report.HasFailures():
		return store.RunSuccess
	case report.Succeeded+report.Empty > 0:
		return store.RunPartial
	default:
		return store.RunError
	}
}

func (c *Controller) recordStart(ctx context.Context, logger *zap.Logger, runID string, r crawler.DateRange, started time.Time) {
	if c.runs == nil {
		return
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		logger.Warn("run id is not a uuid, skipping run history", zap.Error(err))
		return
	}
	run := store.Run{ID: id, DateFrom: r.From(), DateTo: r.To(), StartedAt: started}
	if err := c.runs.StartRun(ctx, run); err != nil {
		logger.Warn("record run start failed", zap.Error(err))
	}
}

func (c *Controller) recordFinish(ctx context.Context, logger *zap.Logger, runID string, report crawler.Report) {
	if c.runs == nil {
		return
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return
	}
	counts := store.RunCounts{
		Processed: report.Processed,
		Succeeded: report.Succeeded,
		Empty:     report.Empty,
		Failed:    len(report.Failed),
		Records:   report.Records,
	}
	var errMsg *string
	if report.FirstErr != nil {
		msg := report.FirstErr.Error()
		errMsg = &msg
	}
	// the run context may already be cancelled; history is still written
	finishCtx := context.WithoutCancel(ctx)
	if err := c.runs.CompleteRun(finishCtx, id, c.clock.Now(), Status(report), counts, errMsg); err != nil {
		logger.Warn("record run finish failed", zap.Error(err))
	}
}
