package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/cbr-rates-crawler/internal/app"
	"github.com/JakeFAU/cbr-rates-crawler/internal/backfill"
	"github.com/JakeFAU/cbr-rates-crawler/internal/config"
	"github.com/JakeFAU/cbr-rates-crawler/internal/crawler"
)

const recreateCountdown = 5

type crawlFlags struct {
	from        string
	to          string
	noResume    bool
	concurrency int
	dryRun      bool
	failOnError bool
	recreate    bool
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Backfills daily rates for a date range",
		Long: `Fetches the rates page for every day from --from (default: the first
published day) to --to (default: today) and stores the rows. Unless
--no-resume is given, the run starts from the latest stored day.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.from, "from", "", "first day to crawl (YYYY-MM-DD)")
	flags.StringVar(&f.to, "to", "", "last day to crawl (YYYY-MM-DD), defaults to today")
	flags.BoolVar(&f.noResume, "no-resume", false, "ignore stored days and crawl the full range")
	flags.IntVar(&f.concurrency, "concurrency", 0, "days fetched per wave (overrides crawler.max_concurrency)")
	flags.BoolVar(&f.dryRun, "dry-run", false, "keep rows in memory instead of Postgres")
	flags.BoolVar(&f.failOnError, "fail-on-error", false, "exit non-zero when any day failed")
	flags.BoolVar(&f.recreate, "recreate", false, "drop and recreate the schema before crawling")
	return cmd
}

func runCrawl(cmd *cobra.Command, f crawlFlags) error {
	ctx := cmd.Context()
	cfg, logger, err := resolve(ctx)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("concurrency") {
		if f.concurrency <= 0 {
			return errors.New("--concurrency must be > 0")
		}
		cfg.Crawler.MaxConcurrency = f.concurrency
	}
	opts, err := crawlOptions(cfg.Crawler, f)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, f.dryRun)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	if err := prepareSchema(ctx, a, f.recreate && !f.dryRun, cmd.ErrOrStderr()); err != nil {
		return err
	}

	opsCtx, stopOps := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(opsCtx)
	g.Go(func() error { return a.ServeOps(gctx, nil) })

	report, err := a.Controller().Run(ctx, opts)
	stopOps()
	if serr := g.Wait(); serr != nil {
		logger.Warn("ops server failed", zap.Error(serr))
	}
	if err != nil {
		return fmt.Errorf("run backfill: %w", err)
	}

	printReport(cmd.OutOrStdout(), report)
	if report.Interrupted {
		logger.Info("crawl interrupted; re-run to resume")
		return nil
	}
	if f.failOnError && report.HasFailures() {
		return fmt.Errorf("%d of %d days failed: %w", len(report.Failed), report.Processed, report.FirstErr)
	}
	logger.Info("crawl command finished")
	return nil
}

// crawlOptions merges the date flags over the configured bounds.
func crawlOptions(c config.CrawlerConfig, f crawlFlags) (backfill.Options, error) {
	from, to, err := c.Bounds()
	if err != nil {
		return backfill.Options{}, err
	}
	if f.from != "" {
		d, err := crawler.ParseDate(f.from)
		if err != nil {
			return backfill.Options{}, fmt.Errorf("--from: %w", err)
		}
		from = d
	}
	if f.to != "" {
		d, err := crawler.ParseDate(f.to)
		if err != nil {
			return backfill.Options{}, fmt.Errorf("--to: %w", err)
		}
		to = &d
	}
	return backfill.Options{From: from, To: to, Resume: c.Resume && !f.noResume}, nil
}

// prepareSchema applies migrations, after a cancellable countdown when the
// schema is to be dropped.
func prepareSchema(ctx context.Context, a *app.App, recreate bool, out io.Writer) error {
	if recreate {
		err := app.Countdown(ctx, recreateCountdown, time.Second, func(n int) {
			_, _ = fmt.Fprintf(out, "Dropping all stored rates in %d... (Ctrl+C to abort)\n", n)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return errors.New("recreate aborted")
			}
			return err
		}
	}
	if err := a.Migrate(ctx, recreate); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func printReport(out io.Writer, report crawler.Report) {
	_, _ = fmt.Fprintf(out, "run %s: %s\n", report.RunID, report.Range)
	_, _ = fmt.Fprintf(out, "processed=%d succeeded=%d empty=%d failed=%d records=%d waves=%d\n",
		report.Processed, report.Succeeded, report.Empty, len(report.Failed), report.Records, report.Waves)
	for _, fd := range report.Failed {
		_, _ = fmt.Fprintf(out, "failed %s: %v\n", fd.Date.Format(crawler.DateLayout), fd.Err)
	}
}
