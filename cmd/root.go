// Package cmd defines and implements the CLI commands for the cbr-rates-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cbr-rates-crawler/internal/app"
	"github.com/JakeFAU/cbr-rates-crawler/internal/config"
	"github.com/JakeFAU/cbr-rates-crawler/internal/logging"
)

// ctxKeyType keys the values PersistentPreRunE stores in the command context.
type ctxKeyType string

const (
	configKey ctxKeyType = "config"
	loggerKey ctxKeyType = "logger"
)

// newApp is the application factory. It's a variable so tests can
// substitute their own wiring.
var newApp = app.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "cbr-rates-crawler",
		Short: "Backfills Bank of Russia daily exchange rates into Postgres.",
		Long: `cbr-rates-crawler downloads the official daily exchange rates published
by the Central Bank of Russia, one page per calendar day, and stores every
currency row in Postgres. Runs resume from the latest stored day.`,
		SilenceUsage: true,

		// Runs before every subcommand: loads configuration and builds the logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			ctx = context.WithValue(ctx, loggerKey, logger)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newCrawlCmd(), newMigrateCmd(), newWatchCmd())
	return cmd
}

func resolve(ctx context.Context) (config.Config, *zap.Logger, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, nil, errors.New("configuration not loaded")
	}
	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	if !ok || logger == nil {
		return config.Config{}, nil, errors.New("logger not initialized")
	}
	return cfg, logger, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context; a run stops after its current wave.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
