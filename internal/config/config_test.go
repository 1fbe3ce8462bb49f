package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"converge/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.Silence()
	os.Exit(m.Run())
}

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "apps"), cfg.Engine.AppsDir)
	assert.Equal(t, filepath.Join(dir, "repos"), cfg.Engine.ReposDir)
	assert.Equal(t, filepath.Join(dir, "state"), cfg.Engine.StateDir)
	assert.Equal(t, TargetModeMemory, cfg.Target.Mode)
	assert.Equal(t, 10*time.Second, cfg.Engine.ObserveInterval)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `engine:
  observeInterval: 30s
  maxRetries: 2
target:
  mode: kubernetes
  kubeconfig: /etc/converge/kubeconfig
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Engine.ObserveInterval)
	assert.Equal(t, 2, cfg.Engine.MaxRetries)
	assert.Equal(t, TargetModeKubernetes, cfg.Target.Mode)
	assert.Equal(t, "/etc/converge/kubeconfig", cfg.Target.Kubeconfig)
	// Unset fields keep their defaults.
	assert.Equal(t, filepath.Join(dir, "apps"), cfg.Engine.AppsDir)
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONVERGE_TARGET_MODE", "kubernetes")
	t.Setenv("CONVERGE_DRIFT_DEBOUNCE", "750ms")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, TargetModeKubernetes, cfg.Target.Mode)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.DriftDebounce)
}

func TestLoadRejectsMalformedConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("engine: [nope"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownTargetMode(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Target.Mode = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}

func TestLoadApplications(t *testing.T) {
	dir := t.TempDir()
	app := `metadata:
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
  syncPolicy:
    automated:
      selfHeal: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guestbook.yaml"), []byte(app), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	apps, err := LoadApplications(dir)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "team-a/guestbook", apps[0].QualifiedName())
	assert.True(t, apps[0].Spec.SyncPolicy.SelfHeal())
}

func TestLoadApplicationsMissingDirIsEmpty(t *testing.T) {
	apps, err := LoadApplications(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestLoadApplicationsRejectsInvalidDefinition(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"),
		[]byte("metadata:\n  name: \"\"\n"), 0o644))

	_, err := LoadApplications(dir)
	assert.Error(t, err)
}

func TestLoadApplicationsRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	app := `metadata:
  name: guestbook
spec:
  source:
    repository: infra
    revision: latest
  destination:
    target: in-cluster
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(app), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(app), 0o644))

	_, err := LoadApplications(dir)
	assert.Error(t, err)
}
