package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"converge/internal/api"
	"converge/internal/app"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <application>",
		Short: "Show an application's sync status and resource health",
		Long: `Resolves and renders the application's declared desired state, observes
the live state, and reports sync status plus per-resource health. No
environment mutation happens.

Exit code 2 signals the application is OutOfSync.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			engine, err := app.NewEngine(engineOptions())
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}

			status, err := engine.Status(cmd.Context(), name)
			if err != nil {
				return err
			}

			printStatus(cmd, status)

			if status.Sync == api.SyncStatusOutOfSync {
				return &outOfSyncError{application: name}
			}
			return nil
		},
	}
}
