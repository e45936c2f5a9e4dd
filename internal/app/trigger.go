package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Trigger serialises backfill runs started by the scheduler and by the ops
// API. At most one run is in progress at a time.
type Trigger struct {
	ctx    context.Context
	run    func(ctx context.Context)
	busy   atomic.Bool
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewTrigger returns a Trigger whose background runs use ctx.
func NewTrigger(ctx context.Context, run func(ctx context.Context), logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{ctx: ctx, run: run, logger: logger}
}

// TriggerRun starts a run in the background. It returns false when one is
// already in progress.
func (t *Trigger) TriggerRun() bool {
	if !t.busy.CompareAndSwap(false, true) {
		t.logger.Info("backfill already running, trigger ignored")
		return false
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.busy.Store(false)
		t.run(t.ctx)
	}()
	return true
}

// RunNow runs synchronously. It returns false without running when another
// run is in progress.
func (t *Trigger) RunNow() bool {
	if !t.busy.CompareAndSwap(false, true) {
		t.logger.Info("backfill already running, scheduled run skipped")
		return false
	}
	defer t.busy.Store(false)
	t.run(t.ctx)
	return true
}

// Busy reports whether a run is in progress.
func (t *Trigger) Busy() bool { return t.busy.Load() }

// Wait blocks until background runs have returned.
func (t *Trigger) Wait() { t.wg.Wait() }

// Countdown calls tick with n, n-1, ..., 1 at the given interval and returns
// nil once it reaches zero, or ctx.Err() if ctx ends first.
func Countdown(ctx context.Context, n int, interval time.Duration, tick func(remaining int)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for remaining := n; remaining > 0; remaining-- {
		if tick != nil {
			tick(remaining)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
