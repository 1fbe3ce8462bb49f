package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"converge/internal/app"
)

func newSyncCmd() *cobra.Command {
	var revision string

	cmd := &cobra.Command{
		Use:   "sync <application>",
		Short: "Render, diff, and apply an application's desired state",
		Long: `Runs one full reconciliation cycle for the application: resolves the
declared source revision, renders the manifests, diffs them against the
observed live state, and applies the resulting operations in wave order.

Exit code 3 signals a partial failure; the per-resource outcomes name
exactly which operations failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			engine, err := app.NewEngine(engineOptions())
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}

			var s *spinner.Spinner
			if !rootQuiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = fmt.Sprintf(" Syncing %s...", name)
				s.Start()
			}

			res, err := engine.SyncOnce(cmd.Context(), name, revision)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}

			if res.Result != nil {
				printOperationResults(cmd, *res.Result)
			}

			if res.Result != nil && !res.Result.Succeeded() {
				return &partialFailureError{application: name, failed: len(res.Result.FailedKeys())}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is %s at %s\n",
				text.FgGreen.Sprint("✔"), name, res.Sync, res.Revision)
			return nil
		},
	}

	cmd.Flags().StringVar(&revision, "revision", "",
		"override the declared revision selector for this sync")
	return cmd
}
