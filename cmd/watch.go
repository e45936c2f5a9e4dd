package cmd

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/cbr-rates-crawler/internal/app"
	"github.com/JakeFAU/cbr-rates-crawler/internal/backfill"
)

// newWatchCmd creates the 'watch' subcommand.
func newWatchCmd() *cobra.Command {
	var (
		schedule  string
		immediate bool
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keeps the rates table current on a schedule",
		Long: `Runs a resumed crawl up to today on a cron schedule until interrupted.
When server.addr is set the ops server also accepts POST /api/runs to
start a run immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), schedule, immediate, dryRun)
		},
	}
	cmd.Flags().StringVar(&schedule, "cron", "", `cron schedule (default crawler.cron, e.g. "0 12 * * *")`)
	cmd.Flags().BoolVar(&immediate, "immediate", false, "start a run right away")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "keep rows in memory instead of Postgres")
	return cmd
}

func runWatch(ctx context.Context, schedule string, immediate, dryRun bool) error {
	cfg, logger, err := resolve(ctx)
	if err != nil {
		return err
	}
	if schedule == "" {
		schedule = cfg.Crawler.Cron
	}
	loc, err := cfg.Crawler.TimeLocation()
	if err != nil {
		return err
	}
	from, _, err := cfg.Crawler.Bounds()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, dryRun)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()
	if err := a.Migrate(ctx, false); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	trigger := app.NewTrigger(ctx, func(ctx context.Context) {
		// today is resolved per run, so To stays nil
		if _, err := a.Controller().Run(ctx, backfill.Options{From: from, Resume: true}); err != nil {
			logger.Error("scheduled backfill failed", zap.Error(err))
		}
	}, logger.Named("trigger"))

	cl := cronLogger{l: logger.Named("cron").Sugar()}
	scheduler := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := scheduler.AddFunc(schedule, func() { trigger.RunNow() }); err != nil {
		return fmt.Errorf("add cron func %q: %w", schedule, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runCron(gctx, scheduler)
	})
	g.Go(func() error {
		return a.ServeOps(gctx, trigger)
	})

	logger.Info("watching", zap.String("cron", schedule), zap.String("location", loc.String()))
	if immediate {
		trigger.TriggerRun()
	}
	err = g.Wait()
	trigger.Wait()
	return err
}

func runCron(ctx context.Context, c *cron.Cron) error {
	c.Start()
	defer func() {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}()

	<-ctx.Done()
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
