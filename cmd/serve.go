package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"converge/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the continuous reconciliation engine",
		Long: `Starts the engine's long-running loops: the live-state observer, the
source revision watcher, and one reconciliation loop per application
found in the configured apps directory. Applications with an automated
sync policy converge on registration and self-heal on drift; manual-only
applications are observed and surfaced but never mutated without an
explicit sync.

The process shuts down cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.NewEngine(engineOptions())
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return engine.Serve(ctx)
		},
	}
}
