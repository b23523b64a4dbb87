// Package runtime assembles the server from configuration. Every
// collaborator that an entry point needs hangs off the Runtime value;
// nothing lives in package-level state, so two runtimes can coexist in
// one process (tests rely on this).
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kiln-ci/kiln/pkg/approval"
	"github.com/kiln-ci/kiln/pkg/cache"
	"github.com/kiln-ci/kiln/pkg/config"
	"github.com/kiln-ci/kiln/pkg/events"
	"github.com/kiln-ci/kiln/pkg/executor"
	"github.com/kiln-ci/kiln/pkg/lifecycle"
	"github.com/kiln-ci/kiln/pkg/metrics"
	"github.com/kiln-ci/kiln/pkg/notify"
	"github.com/kiln-ci/kiln/pkg/pipeline"
	"github.com/kiln-ci/kiln/pkg/plugin"
	"github.com/kiln-ci/kiln/pkg/policy"
	"github.com/kiln-ci/kiln/pkg/process"
	"github.com/kiln-ci/kiln/pkg/scheduler"
	"github.com/kiln-ci/kiln/pkg/secrets"
	"github.com/kiln-ci/kiln/pkg/store"
	"github.com/kiln-ci/kiln/pkg/store/memory"
	"github.com/kiln-ci/kiln/pkg/supplychain"
	"github.com/kiln-ci/kiln/pkg/vcs"
	"github.com/kiln-ci/kiln/pkg/version"
	"github.com/kiln-ci/kiln/pkg/workspace"
)

// Options overrides individual collaborators during construction. The zero
// value gives the production wiring backed by the in-memory store.
type Options struct {
	// Store selects the persistence backend. Nil means memory.New().
	Store *store.Store

	// Checkout selects the source checkout implementation. Nil means the
	// git CLI driven through Processes.
	Checkout vcs.Checkout

	// Secrets selects the secret backend. Nil means an empty static store,
	// which resolves no secrets and masks nothing.
	Secrets secrets.Store

	// Processes selects how shell and container steps spawn commands.
	// Nil means local child processes.
	Processes process.Executor

	// Metrics selects the recorder. Nil means Prometheus on the default
	// registry when a metrics listener is configured, no-op otherwise.
	Metrics metrics.Recorder
}

// Runtime is the assembled server core. Construct with New, then Start.
type Runtime struct {
	Config    *config.Config
	Store     *store.Store
	Bus       *events.Bus
	Plugins   *plugin.Registry
	Manager   *lifecycle.Manager
	Scheduler *scheduler.Scheduler
	Approvals *approval.Engine
	Metrics   metrics.Recorder

	pool      *lifecycle.Pool
	retention *cache.RetentionService
}

// New wires the full stack in dependency order and returns it unstarted.
func New(cfg *config.Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// 1. Persistence and metrics. Everything downstream records through
	// the same recorder and reads/writes the same store.
	st := opts.Store
	if st == nil {
		st = memory.New()
	}
	rec := opts.Metrics
	if rec == nil {
		if cfg.Metrics.ListenAddress != "" {
			rec = metrics.NewPrometheus(prometheus.DefaultRegisterer)
		}
	}
	rec = metrics.Safe(rec)

	// 2. Event bus. Started before any build can run so no subscriber
	// misses a lifecycle event.
	bus := events.NewBus(cfg.EventBus, st.Events, rec)

	// 3. Process spawning, checkout, and secrets.
	processes := opts.Processes
	if processes == nil {
		processes = process.NewLocal()
	}
	checkout := opts.Checkout
	if checkout == nil {
		checkout = vcs.NewGit(processes)
	}
	secretStore := opts.Secrets
	if secretStore == nil {
		secretStore = secrets.Static{}
	}

	// 4. Plugin registry: built-in step executors, notifier, and
	// pipeline format. Entry points may register more before Start.
	plugins := plugin.NewRegistry()
	if err := plugins.RegisterStepExecutor(executor.NewShellExecutor(processes)); err != nil {
		return nil, fmt.Errorf("registering shell executor: %w", err)
	}
	if err := plugins.RegisterStepExecutor(executor.NewContainerExecutor(processes, "")); err != nil {
		return nil, fmt.Errorf("registering container executor: %w", err)
	}
	if err := plugins.RegisterNotifier(notify.NewLogNotifier()); err != nil {
		return nil, fmt.Errorf("registering log notifier: %w", err)
	}
	if err := plugins.RegisterPipelineFormat(pipeline.NewYAMLFormat()); err != nil {
		return nil, fmt.Errorf("registering yaml format: %w", err)
	}

	// 5. Filesystem managers.
	workspaces, err := workspace.NewManager(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace root: %w", err)
	}
	caches, err := cache.NewManager(cfg.Cache.Root, st.CacheEntries, rec)
	if err != nil {
		return nil, fmt.Errorf("initializing cache root: %w", err)
	}
	retention := cache.NewRetentionService(caches,
		time.Duration(cfg.Cache.RetentionDays)*24*time.Hour,
		cfg.Cache.SweepInterval())

	// 6. Build executor with its engines and hooks. The approval engine
	// is kept on the runtime so embedders can resolve gates.
	approvals := approval.NewEngine(st.Gates, bus, cfg.Approvals.PollInterval())
	exec := executor.New(executor.Deps{
		Config:     cfg,
		Builds:     st.Builds,
		Artifacts:  st.Artifacts,
		StageCache: st.StageCache,
		Bus:        bus,
		Registry:   plugins,
		Resolver:   pipeline.NewResolver(plugins, cfg.Matrix.MaxCombinations),
		Workspaces: workspaces,
		Checkout:   checkout,
		Secrets:    secretStore,
		Policies:   policy.NewEngine(st.Policies),
		Approvals:  approvals,
		Caches:     caches,
		Hooks:      supplychain.NewHooks(cfg, supplychain.NewProvenanceHook(cfg.Artifacts.Root)),
		Notifier:   notify.NewDispatcher(plugins, st.Notifications, 0),
		Metrics:    rec,
	})

	// 7. Lifecycle: worker pool, active-build registry, manager.
	pool := lifecycle.NewPool(cfg.Pool, rec)
	registry := lifecycle.NewRegistry(rec)
	manager := lifecycle.NewManager(lifecycle.ManagerDeps{
		Builds:   st.Builds,
		Bus:      bus,
		Executor: exec,
		Pool:     pool,
		Registry: registry,
		Plugins:  plugins,
		Metrics:  rec,
	})

	// 8. Cron scheduler feeding the manager.
	sched := scheduler.New(cfg.Cron, st.Schedules, st.Jobs, manager, rec)

	return &Runtime{
		Config:    cfg,
		Store:     st,
		Bus:       bus,
		Plugins:   plugins,
		Manager:   manager,
		Scheduler: sched,
		Approvals: approvals,
		Metrics:   rec,
		pool:      pool,
		retention: retention,
	}, nil
}

// Start brings the background services up: bus first so no lifecycle
// event is dropped, then the worker pool, the cron scheduler, and the
// cache retention sweeper.
func (r *Runtime) Start(ctx context.Context) {
	r.Bus.Start()
	r.pool.Start(ctx)
	r.Scheduler.Start(ctx)
	r.retention.Start(ctx)
	slog.Info("Runtime started",
		"version", version.Full(),
		"workers", r.pool.Health().Workers,
		"workspace_root", r.Config.Workspace.Root)
}

// Stop shuts the services down in reverse order: stop producing new
// builds, drain the ones in flight, then stop the bus so subscribers see
// every terminal event before it closes.
func (r *Runtime) Stop() {
	r.Scheduler.Stop()
	r.retention.Stop()
	r.pool.Stop()
	r.Bus.Stop()
	slog.Info("Runtime stopped")
}

// Health reports the load snapshot exposed by health endpoints.
func (r *Runtime) Health() lifecycle.Health {
	return r.Manager.Health()
}
