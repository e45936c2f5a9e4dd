// Package dispatcher runs per-day tasks in wave-synchronous batches.
package dispatcher

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cbr-rates-crawler/internal/crawler"
	"github.com/JakeFAU/cbr-rates-crawler/internal/metrics"
)

// DefaultMaxConcurrency is the wave size used when none is configured.
const DefaultMaxConcurrency = 1000

// Processor handles a single day.
type Processor interface {
	Process(ctx context.Context, date time.Time) crawler.Outcome
}

// Dispatcher splits a date range into waves of at most maxConcurrency days.
// All tasks of a wave run concurrently and the next wave starts only after
// every task of the current one has finished.
type Dispatcher struct {
	processor      Processor
	maxConcurrency int
	logger         *zap.Logger
}

// New creates a Dispatcher.
func New(processor Processor, maxConcurrency int, logger *zap.Logger) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		processor:      processor,
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}
}

// Run processes every day of r and returns the aggregated report. A failed
// task never stops its siblings or later waves. A cancelled context stops
// the run before the next wave begins; the report is then marked interrupted.
func (d *Dispatcher) Run(ctx context.Context, r crawler.DateRange) crawler.Report {
	dates := r.Dates()
	report := crawler.Report{Range: r}
	d.logger.Info("dates to process",
		zap.Int("total", len(dates)),
		zap.Int("max_concurrency", d.maxConcurrency))

	wave := 0
	for batch := range slices.Chunk(dates, d.maxConcurrency) {
		if ctx.Err() != nil {
			break
		}
		wave++
		metrics.SetCurrentWave(wave)
		d.logger.Info("starting wave",
			zap.Int("wave", wave),
			zap.Int("size", len(batch)),
			zap.String("from", batch[0].Format(crawler.DateLayout)),
			zap.String("to", batch[len(batch)-1].Format(crawler.DateLayout)))

		for _, outcome := range d.runWave(ctx, batch) {
			report.Add(outcome)
		}
		report.Waves = wave
		d.logger.Info("wave finished",
			zap.Int("wave", wave),
			zap.Int("processed", report.Processed),
			zap.Int("failed", len(report.Failed)))
	}

	// cancellation counts whether it landed between waves or inside the last one
	if err := ctx.Err(); err != nil {
		report.Interrupted = true
		if report.FirstErr == nil {
			report.FirstErr = err
		}
		d.logger.Warn("backfill interrupted",
			zap.Int("processed", report.Processed),
			zap.Int("remaining", len(dates)-report.Processed),
			zap.Error(err))
	}
	return report
}

func (d *Dispatcher) runWave(ctx context.Context, batch []time.Time) []crawler.Outcome {
	outcomes := make([]crawler.Outcome, len(batch))
	var wg sync.WaitGroup
	for i, date := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = d.safeProcess(ctx, date)
		}()
	}
	wg.Wait()
	return outcomes
}

func (d *Dispatcher) safeProcess(ctx context.Context, date time.Time) (outcome crawler.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked",
				zap.String("date", date.Format(crawler.DateLayout)),
				zap.Any("panic", r))
			metrics.ObserveTask(string(crawler.OutcomeFailed))
			outcome = crawler.Outcome{
				Date: date,
				Kind: crawler.OutcomeFailed,
				Err:  fmt.Errorf("task %s panicked: %v", date.Format(crawler.DateLayout), r),
			}
		}
	}()
	outcome = d.processor.Process(ctx, date)
	outcome.Date = date
	return outcome
}
