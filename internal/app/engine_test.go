package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"converge/internal/api"
	"converge/internal/config"
	"converge/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.Silence()
	os.Exit(m.Run())
}

// workspace lays out a full engine root: one application, one repository
// with a single revision behind the "latest" ref.
func workspace(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()

	appsDir := filepath.Join(root, "apps")
	require.NoError(t, os.MkdirAll(appsDir, 0o755))
	appYAML := `metadata:
  name: guestbook
  scope: team-a
spec:
  source:
    repository: infra
    revision: latest
    path: dev
  destination:
    target: in-cluster
    namespace: guestbook
`
	require.NoError(t, os.WriteFile(filepath.Join(appsDir, "guestbook.yaml"), []byte(appYAML), 0o644))

	snapDir := filepath.Join(root, "repos", "infra", "revisions", "abc123", "dev")
	require.NoError(t, os.MkdirAll(snapDir, 0o755))
	manifest := `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
spec:
  replicas: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(snapDir, "deploy.yaml"), []byte(manifest), 0o644))

	refsDir := filepath.Join(root, "repos", "infra", "refs")
	require.NoError(t, os.MkdirAll(refsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(refsDir, "latest"), []byte("abc123\n"), 0o644))

	cfg := config.Default(root)
	return cfg
}

func TestEngineSyncStatusHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngineWithConfig(workspace(t))
	require.NoError(t, err)

	// Before the first sync the application is OutOfSync and its resource
	// is missing.
	status, err := engine.Status(ctx, "team-a/guestbook")
	require.NoError(t, err)
	assert.Equal(t, api.SyncStatusOutOfSync, status.Sync)
	assert.Equal(t, api.HealthMissing, status.Health)
	assert.Equal(t, "abc123", status.Revision)

	res, err := engine.SyncOnce(ctx, "team-a/guestbook", "")
	require.NoError(t, err)
	assert.Equal(t, api.SyncStatusSynced, res.Sync)
	assert.Equal(t, "abc123", res.Revision)

	status, err = engine.Status(ctx, "team-a/guestbook")
	require.NoError(t, err)
	assert.Equal(t, api.SyncStatusSynced, status.Sync)
	assert.Equal(t, api.HealthProgressing, status.Health)
	require.Len(t, status.Resources, 1)

	entries, err := engine.HistoryOf("team-a/guestbook")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "abc123", entries[0].Revision)
	assert.Equal(t, api.CauseManual, entries[0].Cause)
}

func TestEngineHistorySurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := workspace(t)

	engine, err := NewEngineWithConfig(cfg)
	require.NoError(t, err)
	_, err = engine.SyncOnce(ctx, "team-a/guestbook", "")
	require.NoError(t, err)

	// A fresh engine over the same state dir sees the recorded attempt
	// and can roll back to it.
	engine2, err := NewEngineWithConfig(cfg)
	require.NoError(t, err)
	entries, err := engine2.HistoryOf("team-a/guestbook")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	res, err := engine2.RollbackOnce(ctx, "team-a/guestbook", 0)
	require.NoError(t, err)
	assert.Equal(t, api.SyncStatusSynced, res.Sync)
}

func TestEngineUnknownApplication(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngineWithConfig(workspace(t))
	require.NoError(t, err)

	_, err = engine.SyncOnce(ctx, "nope", "")
	assert.True(t, api.IsNotFound(err))
	_, err = engine.Status(ctx, "nope")
	assert.True(t, api.IsNotFound(err))
	_, err = engine.RollbackOnce(ctx, "nope", 0)
	assert.True(t, api.IsNotFound(err))
}

func TestEngineStatuses(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngineWithConfig(workspace(t))
	require.NoError(t, err)

	statuses, err := engine.Statuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "team-a/guestbook", statuses[0].Application)
	assert.Equal(t, api.SyncStatusOutOfSync, statuses[0].Sync)
}
