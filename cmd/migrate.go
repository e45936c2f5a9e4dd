package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newMigrateCmd creates the 'migrate' subcommand.
func newMigrateCmd() *cobra.Command {
	var recreate bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Applies the database schema",
		Long: `Applies pending schema migrations. With --recreate every migration is
rolled back first, which drops all stored rates; a five second countdown
gives the operator a chance to abort.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := resolve(ctx)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, logger, false)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer a.Close()
			return prepareSchema(ctx, a, recreate, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&recreate, "recreate", false, "drop and recreate the schema")
	return cmd
}
