package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ci/kiln/pkg/config"
	"github.com/kiln-ci/kiln/pkg/lifecycle"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/process"
	"github.com/kiln-ci/kiln/pkg/store/memory"
	"github.com/kiln-ci/kiln/pkg/vcs"
)

// recordingProcesses pretends every command succeeds and remembers what ran,
// so runtime tests exercise the real shell executor without spawning
// processes.
type recordingProcesses struct {
	mu       sync.Mutex
	commands []string
}

func (p *recordingProcesses) Execute(_ context.Context, req process.Request) (*process.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, req.Command)
	return &process.Result{ExitCode: 0, Stdout: "ok"}, nil
}

func (p *recordingProcesses) ran() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Workspace.Root = t.TempDir()
	cfg.Artifacts.Root = t.TempDir()
	cfg.Cache.Root = t.TempDir()
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pool.Workers = 0

	_, err := New(cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewRegistersBuiltinPlugins(t *testing.T) {
	rt, err := New(testConfig(t), Options{})
	require.NoError(t, err)

	_, err = rt.Plugins.StepExecutor(models.StepKindShell)
	assert.NoError(t, err)
	_, err = rt.Plugins.StepExecutor(models.StepKindContainer)
	assert.NoError(t, err)
	_, err = rt.Plugins.Notifier("log")
	assert.NoError(t, err)
	_, err = rt.Plugins.PipelineFormat("yaml")
	assert.NoError(t, err)
}

func TestNewHonoursStoreOverride(t *testing.T) {
	st := memory.New()

	rt, err := New(testConfig(t), Options{Store: st})
	require.NoError(t, err)
	assert.Same(t, st, rt.Store)
}

func TestRuntimeExecutesBuildEndToEnd(t *testing.T) {
	procs := &recordingProcesses{}
	rt, err := New(testConfig(t), Options{
		Processes: procs,
		Checkout:  &vcs.Stub{},
	})
	require.NoError(t, err)

	ctx := context.Background()
	rt.Start(ctx)
	defer rt.Stop()

	job := &models.Job{
		Name: "site",
		Org:  "acme",
		Pipeline: models.Pipeline{
			Name: "site",
			Stages: []models.Stage{
				{Name: "build", Steps: []models.Step{{Name: "compile", Command: "make all"}}},
			},
		},
	}
	require.NoError(t, rt.Store.Jobs.Create(ctx, job))

	build, err := rt.Manager.Execute(ctx, job, models.TriggerInfo{Kind: models.TriggerManual, By: "dev"}, lifecycle.Options{})
	require.NoError(t, err)
	assert.Equal(t, models.BuildStatusSuccess, build.Status)
	assert.Contains(t, procs.ran(), "make all")

	stored, err := rt.Store.Builds.Get(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStatusSuccess, stored.Status)
}

func TestRuntimeHealthReportsPoolLoad(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pool.Workers = 3

	rt, err := New(cfg, Options{Processes: &recordingProcesses{}, Checkout: &vcs.Stub{}})
	require.NoError(t, err)

	health := rt.Health()
	assert.Equal(t, 3, health.Workers)
	assert.Empty(t, health.ActiveBuilds)
}

func TestRuntimeStopIsSafeAfterStart(t *testing.T) {
	rt, err := New(testConfig(t), Options{Processes: &recordingProcesses{}, Checkout: &vcs.Stub{}})
	require.NoError(t, err)

	rt.Start(context.Background())
	rt.Stop()
}
