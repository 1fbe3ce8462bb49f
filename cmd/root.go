package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"converge/internal/api"
	"converge/internal/app"
)

// Exit codes for CLI commands. These are stable and safe to script
// against.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeOutOfSync indicates the application is OutOfSync and no action was taken.
	ExitCodeOutOfSync = 2
	// ExitCodePartialFailure indicates a sync completed with per-resource failures.
	ExitCodePartialFailure = 3
	// ExitCodeNotFound indicates the named application or history entry does not exist.
	ExitCodeNotFound = 4
)

// outOfSyncError signals exit code 2: drift was detected but nothing was
// changed.
type outOfSyncError struct{ application string }

func (e *outOfSyncError) Error() string {
	return fmt.Sprintf("application %s is OutOfSync", e.application)
}

// partialFailureError signals exit code 3.
type partialFailureError struct {
	application string
	failed      int
}

func (e *partialFailureError) Error() string {
	return fmt.Sprintf("sync of %s failed for %d resource(s)", e.application, e.failed)
}

var (
	rootConfigPath string
	rootDebug      bool
	rootQuiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "converge",
	Short: "Declarative reconciliation engine for versioned desired state",
	Long: `converge keeps target environments in sync with desired state declared
in versioned source repositories. It renders the declared manifests,
diffs them against observed live state, and applies the difference in
dependency order, with sync history and deterministic rollback.

Run 'converge serve' for continuous reconciliation, or use the one-shot
commands (sync, get, history, rollback, list) for direct operation.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected at build
// time by the main package.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI and exits with a semantic exit code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "converge version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps error types to the documented exit codes.
func getExitCode(err error) int {
	if api.IsNotFound(err) {
		return ExitCodeNotFound
	}

	var outOfSync *outOfSyncError
	if errors.As(err, &outOfSync) {
		return ExitCodeOutOfSync
	}

	var partial *partialFailureError
	if errors.As(err, &partial) {
		return ExitCodePartialFailure
	}

	return ExitCodeError
}

// engineOptions builds the shared bootstrap options from the global flags.
func engineOptions() *app.Options {
	return &app.Options{
		ConfigPath: rootConfigPath,
		Debug:      rootDebug,
		Quiet:      rootQuiet,
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config-path", "",
		"configuration directory (default is $HOME/.config/converge)")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&rootQuiet, "quiet", "q", false, "suppress log output")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newRollbackCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newVersionCmd())
}
