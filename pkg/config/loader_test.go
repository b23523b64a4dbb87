package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kiln.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInitializeDefaults(t *testing.T) {
	cfg, err := Initialize(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, DefaultWorkspaceRoot, cfg.Workspace.Root)
	assert.Equal(t, DefaultCacheRetentionDays, cfg.Cache.RetentionDays)
	assert.Equal(t, DefaultMaxConcurrentStages, cfg.ParallelStages.MaxConcurrent)
	assert.Equal(t, DefaultMaxParallelSteps, cfg.ThreadPools.MaxParallelSteps)
	assert.Equal(t, DefaultMaxMatrixCombinations, cfg.Matrix.MaxCombinations)
	assert.Equal(t, DefaultPublishTimeoutMs, cfg.EventBus.PublishTimeoutMs)
	assert.True(t, cfg.FeatureEnabled(FeatureParallelStages))
	assert.False(t, cfg.FeatureEnabled(FeatureProvenance))
}

func TestInitializeMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Initialize(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkspaceRoot, cfg.Workspace.Root)
}

func TestInitializeMergesUserOverDefaults(t *testing.T) {
	path := writeConfig(t, `
workspace:
  root: /srv/kiln/workspaces
cache:
  retention-days: 7
matrix:
  max-combinations: 50
features:
  provenance: true
`)

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/kiln/workspaces", cfg.Workspace.Root)
	assert.Equal(t, 7, cfg.Cache.RetentionDays)
	assert.Equal(t, 50, cfg.Matrix.MaxCombinations)
	// Untouched keys keep defaults.
	assert.Equal(t, DefaultArtifactsRoot, cfg.Artifacts.Root)
	assert.Equal(t, DefaultApprovalPollMs, cfg.Approvals.PollIntervalMs)
	// Feature maps merge by key.
	assert.True(t, cfg.FeatureEnabled(FeatureProvenance))
	assert.True(t, cfg.FeatureEnabled(FeatureParallelStages))
}

func TestInitializeExplicitFeatureDisableWins(t *testing.T) {
	path := writeConfig(t, `
features:
  parallel-stages: false
`)

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, cfg.FeatureEnabled(FeatureParallelStages))
}

func TestInitializeExpandsEnvReferences(t *testing.T) {
	t.Setenv("KILN_TEST_ARTIFACTS", "/data/artifacts")
	path := writeConfig(t, "artifacts:\n  root: {{.KILN_TEST_ARTIFACTS}}\n")

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "/data/artifacts", cfg.Artifacts.Root)
}

func TestInitializeInvalidYAML(t *testing.T) {
	path := writeConfig(t, "workspace:\n  root: [unclosed\n")

	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeValidatesMergedConfig(t *testing.T) {
	path := writeConfig(t, `
cache:
  retention-days: -1
`)

	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.ErrorIs(t, err, ErrInvalidValue)
}
