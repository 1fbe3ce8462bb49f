package cmd

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"converge/internal/api"
	"converge/internal/controller"
)

// newTable returns a writer in the engine's house style: plain borders,
// kubectl-like.
func newTable(cmd *cobra.Command) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	return t
}

func printOperationResults(cmd *cobra.Command, result api.SyncResult) {
	t := newTable(cmd)
	t.AppendHeader(table.Row{"OPERATION", "RESOURCE", "WAVE", "OUTCOME", "MESSAGE"})
	for _, res := range result.Results {
		t.AppendRow(table.Row{
			res.Operation.Type,
			res.Operation.Key.String(),
			res.Operation.Wave,
			colorOutcome(res.Outcome),
			res.Message,
		})
	}
	t.Render()
}

func printStatus(cmd *cobra.Command, status controller.Status) {
	t := newTable(cmd)
	t.AppendHeader(table.Row{"APPLICATION", "SYNC", "HEALTH", "REVISION"})
	t.AppendRow(table.Row{
		status.Application,
		colorSync(status.Sync),
		colorHealth(status.Health),
		shortRevision(status.Revision),
	})
	t.Render()

	if len(status.Resources) == 0 {
		return
	}
	t = newTable(cmd)
	t.AppendHeader(table.Row{"RESOURCE", "HEALTH"})
	for _, res := range status.Resources {
		t.AppendRow(table.Row{res.Key.String(), colorHealth(res.Health)})
	}
	t.Render()
}

func printStatusList(cmd *cobra.Command, statuses []controller.Status) {
	t := newTable(cmd)
	t.AppendHeader(table.Row{"APPLICATION", "SYNC", "HEALTH", "REVISION", "ERROR"})
	for _, status := range statuses {
		t.AppendRow(table.Row{
			status.Application,
			colorSync(status.Sync),
			colorHealth(status.Health),
			shortRevision(status.Revision),
			status.LastError,
		})
	}
	t.Render()
}

func printHistory(cmd *cobra.Command, entries []api.RevisionHistoryEntry) {
	t := newTable(cmd)
	t.AppendHeader(table.Row{"INDEX", "REVISION", "DEPLOYED", "CAUSE", "PHASE", "RESOURCES"})
	for i, entry := range entries {
		t.AppendRow(table.Row{
			i,
			shortRevision(entry.Revision),
			entry.DeployedAt.Local().Format(time.RFC3339),
			entry.Cause,
			colorPhase(entry.Result.Phase),
			len(entry.Resources),
		})
	}
	t.Render()
}

func colorSync(status api.SyncStatus) string {
	switch status {
	case api.SyncStatusSynced:
		return text.FgGreen.Sprint(status)
	case api.SyncStatusOutOfSync:
		return text.FgYellow.Sprint(status)
	default:
		return string(status)
	}
}

func colorHealth(status api.HealthStatus) string {
	switch status {
	case api.HealthHealthy:
		return text.FgGreen.Sprint(status)
	case api.HealthProgressing:
		return text.FgYellow.Sprint(status)
	case api.HealthDegraded, api.HealthMissing:
		return text.FgRed.Sprint(status)
	default:
		return string(status)
	}
}

func colorPhase(phase api.SyncPhase) string {
	switch phase {
	case api.SyncPhaseSucceeded:
		return text.FgGreen.Sprint(phase)
	case api.SyncPhaseFailed, api.SyncPhasePartial:
		return text.FgRed.Sprint(phase)
	default:
		return string(phase)
	}
}

func colorOutcome(outcome api.OperationOutcome) string {
	switch outcome {
	case api.OutcomeSucceeded:
		return text.FgGreen.Sprint(outcome)
	case api.OutcomeFailed:
		return text.FgRed.Sprint(outcome)
	case api.OutcomeSkipped:
		return text.FgYellow.Sprint(outcome)
	default:
		return string(outcome)
	}
}

func shortRevision(revision string) string {
	if len(revision) > 12 {
		return revision[:12]
	}
	return revision
}
