// Package worker implements the per-day fetch, parse, and store pipeline.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cbr-rates-crawler/internal/crawler"
	"github.com/JakeFAU/cbr-rates-crawler/internal/metrics"
)

// Worker processes one day at a time. It is safe for concurrent use as
// long as its collaborators are.
type Worker struct {
	fetcher crawler.Fetcher
	parser  crawler.Parser
	sink    crawler.Sink
	clock   crawler.Clock
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	fetcher crawler.Fetcher,
	parser crawler.Parser,
	sink crawler.Sink,
	clock crawler.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		fetcher: fetcher,
		parser:  parser,
		sink:    sink,
		clock:   clock,
		logger:  logger,
	}
}

// Process fetches, parses, and stores the rates of date. Failures are
// reported in the outcome, never returned.
func (w *Worker) Process(ctx context.Context, date time.Time) crawler.Outcome {
	start := w.now()
	outcome := w.process(ctx, date)
	outcome.Date = date
	outcome.Duration = w.now().Sub(start)
	metrics.ObserveTask(string(outcome.Kind))

	fields := []zap.Field{
		zap.String("date", date.Format(crawler.DateLayout)),
		zap.String("outcome", string(outcome.Kind)),
		zap.Duration("duration", outcome.Duration),
	}
	switch outcome.Kind {
	case crawler.OutcomeFailed:
		w.logger.Warn("date processing failed", append(fields, zap.Error(outcome.Err))...)
	case crawler.OutcomeEmpty:
		w.logger.Warn("cannot find exchange rates table", fields...)
	default:
		w.logger.Debug("date processed", append(fields, zap.Int("records", outcome.Records))...)
	}
	return outcome
}

func (w *Worker) process(ctx context.Context, date time.Time) crawler.Outcome {
	body, err := w.fetcher.Fetch(ctx, date)
	if err != nil {
		return failed(fmt.Errorf("fetch %s: %w", date.Format(crawler.DateLayout), err))
	}
	records, err := w.parser.Parse(body, date)
	if err != nil {
		return failed(fmt.Errorf("parse %s: %w", date.Format(crawler.DateLayout), err))
	}
	if len(records) == 0 {
		return crawler.Outcome{Kind: crawler.OutcomeEmpty}
	}
	if err := w.sink.Store(ctx, records); err != nil {
		return failed(fmt.Errorf("store %s: %w", date.Format(crawler.DateLayout), err))
	}
	return crawler.Outcome{Kind: crawler.OutcomeSuccess, Records: len(records)}
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now()
	}
	return w.clock.Now()
}

func failed(err error) crawler.Outcome {
	return crawler.Outcome{Kind: crawler.OutcomeFailed, Err: err}
}
