package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"converge/internal/app"
)

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <application>",
		Short: "Show an application's recorded sync attempts",
		Long: `Lists every recorded sync attempt for the application in chronological
order. The INDEX column is the argument 'converge rollback' takes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.NewEngine(engineOptions())
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}

			entries, err := engine.HistoryOf(args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No sync history for %s\n", args[0])
				return nil
			}

			printHistory(cmd, entries)
			return nil
		},
	}
}
