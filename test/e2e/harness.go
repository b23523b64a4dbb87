// Package e2e boots complete Kiln runtimes and drives whole builds
// through them: memory store, scripted process executor, stub checkout,
// real everything else.
package e2e

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiln-ci/kiln/pkg/config"
	"github.com/kiln-ci/kiln/pkg/runtime"
	"github.com/kiln-ci/kiln/pkg/secrets"
	"github.com/kiln-ci/kiln/pkg/store"
	"github.com/kiln-ci/kiln/pkg/store/memory"
	"github.com/kiln-ci/kiln/pkg/vcs"
)

// TestApp boots a complete Kiln instance for e2e testing.
type TestApp struct {
	Config  *config.Config
	Runtime *runtime.Runtime
	Store   *store.Store

	// Test wiring
	Procs    *ScriptedProcesses
	Checkout *vcs.Stub

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg      *config.Config
	procs    *ScriptedProcesses
	checkout *vcs.Stub
	secrets  secrets.Store
	workers  int
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithProcesses sets a pre-scripted process executor.
func WithProcesses(procs *ScriptedProcesses) TestAppOption {
	return func(c *testAppConfig) { c.procs = procs }
}

// WithCheckout sets the stub checkout, usually to materialise workspace
// files or carry commit metadata.
func WithCheckout(stub *vcs.Stub) TestAppOption {
	return func(c *testAppConfig) { c.checkout = stub }
}

// WithSecrets sets the secret backend.
func WithSecrets(s secrets.Store) TestAppOption {
	return func(c *testAppConfig) { c.secrets = s }
}

// WithWorkers sets the number of build pool workers.
func WithWorkers(n int) TestAppOption {
	return func(c *testAppConfig) { c.workers = n }
}

// NewTestApp creates and starts a full Kiln test instance. Shutdown is
// registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{workers: 2}
	for _, opt := range opts {
		opt(tc)
	}

	if tc.cfg == nil {
		tc.cfg = defaultTestConfig(t)
	}
	tc.cfg.Pool.Workers = tc.workers
	if tc.procs == nil {
		tc.procs = NewScriptedProcesses()
	}
	if tc.checkout == nil {
		tc.checkout = &vcs.Stub{}
	}

	st := memory.New()
	rt, err := runtime.New(tc.cfg, runtime.Options{
		Store:     st,
		Checkout:  tc.checkout,
		Secrets:   tc.secrets,
		Processes: tc.procs,
	})
	require.NoError(t, err)

	rt.Start(context.Background())
	t.Cleanup(rt.Stop)

	return &TestApp{
		Config:   tc.cfg,
		Runtime:  rt,
		Store:    st,
		Procs:    tc.procs,
		Checkout: tc.checkout,
		t:        t,
	}
}

// defaultTestConfig is the production default tightened for tests:
// filesystem roots under the test temp dir and fast approval polling.
func defaultTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Workspace.Root = t.TempDir()
	cfg.Cache.Root = t.TempDir()
	cfg.Artifacts.Root = t.TempDir()
	cfg.Approvals.PollIntervalMs = 10
	return cfg
}
