package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"converge/internal/app"
)

func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <application> <index>",
		Short: "Re-apply the resource set recorded in a history entry",
		Long: `Replays the full resource set recorded in the application's history
entry at the given index (see 'converge history'). The application's
declared source revision is not modified: the rollback is a one-shot
override, and the next source revision change reconciles the
application back to its declared state.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("index must be an integer, got %q", args[1])
			}

			engine, err := app.NewEngine(engineOptions())
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}

			var s *spinner.Spinner
			if !rootQuiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = fmt.Sprintf(" Rolling back %s to entry %d...", name, index)
				s.Start()
			}

			res, err := engine.RollbackOnce(cmd.Context(), name, index)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}

			if res.Result != nil {
				printOperationResults(cmd, *res.Result)
				if !res.Result.Succeeded() {
					return &partialFailureError{application: name, failed: len(res.Result.FailedKeys())}
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s rolled back to %s\n",
				text.FgGreen.Sprint("✔"), name, res.Revision)
			return nil
		},
	}
}
