package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"converge/internal/app"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all registered applications and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.NewEngine(engineOptions())
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}

			statuses, err := engine.Statuses(cmd.Context())
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No applications registered")
				return nil
			}

			printStatusList(cmd, statuses)
			return nil
		},
	}
}
