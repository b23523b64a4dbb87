package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiln-ci/kiln/pkg/events"
	"github.com/kiln-ci/kiln/pkg/executor"
	"github.com/kiln-ci/kiln/pkg/metrics"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/plugin"
	"github.com/kiln-ci/kiln/pkg/store"
)

// Options tune one build submission.
type Options struct {
	// Params overlay the job's default parameters.
	Params map[string]string
	// Env is extra environment applied after everything the executor
	// derives itself.
	Env map[string]string
}

// ManagerDeps are the collaborators the manager composes.
type ManagerDeps struct {
	Builds   store.Builds
	Bus      events.Publisher
	Executor *executor.Executor
	Pool     *Pool
	Registry *Registry
	Plugins  *plugin.Registry
	Metrics  metrics.Recorder
}

// Manager drives builds from record creation to terminal persistence.
// Execute and ExecuteForRecord run synchronously on the caller's
// goroutine; the Submit variants enqueue to the pool and return the
// queued record immediately.
type Manager struct {
	builds   store.Builds
	bus      events.Publisher
	executor *executor.Executor
	pool     *Pool
	registry *Registry
	plugins  *plugin.Registry
	metrics  metrics.Recorder
}

// NewManager creates a manager from its collaborators.
func NewManager(deps ManagerDeps) *Manager {
	return &Manager{
		builds:   deps.Builds,
		bus:      deps.Bus,
		executor: deps.Executor,
		pool:     deps.Pool,
		registry: deps.Registry,
		plugins:  deps.Plugins,
		metrics:  metrics.Safe(deps.Metrics),
	}
}

// Health is a point-in-time snapshot of lifecycle load.
type Health struct {
	Workers      int      `json:"workers"`
	Busy         int      `json:"busy"`
	QueueDepth   int      `json:"queue_depth"`
	ActiveBuilds []string `json:"active_builds"`
}

// Health reports pool load and the builds currently executing.
func (m *Manager) Health() Health {
	ph := m.pool.Health()
	return Health{
		Workers:      ph.Workers,
		Busy:         ph.Busy,
		QueueDepth:   ph.QueueDepth,
		ActiveBuilds: m.registry.Active(),
	}
}

// Execute creates the build record for a job and runs it to completion on
// the calling goroutine, returning the terminal build.
func (m *Manager) Execute(ctx context.Context, job *models.Job, trigger models.TriggerInfo, opts Options) (*models.Build, error) {
	build, err := m.CreateBuild(ctx, job, trigger, opts)
	if err != nil {
		return nil, err
	}
	return m.ExecuteForRecord(ctx, build, opts), nil
}

// ExecuteForRecord runs a pre-created build record to completion. Callers
// that need the build ID before execution starts (webhook handlers
// answering with a redirect) create the record first and hand it here.
func (m *Manager) ExecuteForRecord(ctx context.Context, build *models.Build, opts Options) *models.Build {
	return m.run(ctx, build, opts)
}

// Submit creates the build record and enqueues it, returning the queued
// record immediately. A full queue or stopped pool finalizes the build as
// failure and returns the submission error alongside the record.
func (m *Manager) Submit(ctx context.Context, job *models.Job, trigger models.TriggerInfo, opts Options) (*models.Build, error) {
	build, err := m.CreateBuild(ctx, job, trigger, opts)
	if err != nil {
		return nil, err
	}
	if err := m.SubmitForRecord(ctx, build, opts); err != nil {
		return build, err
	}
	return build, nil
}

// SubmitForRecord enqueues a pre-created build record for asynchronous
// execution.
func (m *Manager) SubmitForRecord(ctx context.Context, build *models.Build, opts Options) error {
	err := m.pool.Submit(func(workerCtx context.Context) {
		m.run(workerCtx, build, opts)
	})
	if err == nil {
		return nil
	}

	// The record exists and observers may hold its ID, so it cannot stay
	// queued forever: finalize it as failure.
	now := time.Now().UTC()
	build.Status = models.BuildStatusFailure
	build.ErrorMessage = fmt.Sprintf("build submission failed: %v", err)
	build.CompletedAt = &now
	if uerr := m.builds.Update(context.Background(), build); uerr != nil {
		slog.Error("Failed to persist rejected build",
			"build_id", build.ID, "error", uerr)
	}
	m.bus.Publish(ctx, events.New(build.ID, events.TypeBuildCompleted, events.BuildPayload{
		Org:    build.Org,
		Job:    build.JobName,
		Number: build.Number,
		Status: string(models.BuildStatusFailure),
		Reason: build.ErrorMessage,
	}))
	return err
}

// CreateBuild persists a new queued build for a job and publishes
// build-queued. The store assigns the per-job build number.
func (m *Manager) CreateBuild(ctx context.Context, job *models.Job, trigger models.TriggerInfo, opts Options) (*models.Build, error) {
	if job.Disabled {
		return nil, fmt.Errorf("job %s/%s is disabled", job.Org, job.Name)
	}

	var params map[string]string
	if len(job.Params)+len(opts.Params) > 0 {
		params = make(map[string]string, len(job.Params)+len(opts.Params))
		for k, v := range job.Params {
			params[k] = v
		}
		for k, v := range opts.Params {
			params[k] = v
		}
	}

	build := &models.Build{
		ID:       uuid.NewString(),
		Org:      job.Org,
		JobName:  job.Name,
		Status:   models.BuildStatusQueued,
		Trigger:  trigger,
		Params:   params,
		Pipeline: job.Pipeline,
		QueuedAt: time.Now().UTC(),
	}
	if err := m.builds.Create(ctx, build); err != nil {
		return nil, fmt.Errorf("creating build record: %w", err)
	}

	m.bus.Publish(ctx, events.New(build.ID, events.TypeBuildQueued, events.BuildPayload{
		Org:     build.Org,
		Job:     build.JobName,
		Number:  build.Number,
		Trigger: string(trigger.Kind),
		Status:  string(models.BuildStatusQueued),
	}))
	return build, nil
}

// Cancel requests cancellation of an active build and publishes
// build-cancelled. Returns whether the build was running; an unknown or
// already-finished ID returns false.
func (m *Manager) Cancel(ctx context.Context, buildID string) bool {
	if !m.registry.Cancel(buildID) {
		return false
	}

	payload := events.BuildPayload{Reason: "cancellation requested"}
	if b, err := m.builds.Get(ctx, buildID); err == nil {
		payload.Org = b.Org
		payload.Job = b.JobName
		payload.Number = b.Number
	}
	m.bus.Publish(ctx, events.New(buildID, events.TypeBuildCancelled, payload))
	slog.Info("Build cancellation requested", "build_id", buildID)
	return true
}

// run executes one build end to end: it registers the build for
// cancellation, runs the executor with panic containment, persists the
// terminal record exactly once, reports SCM status, and emits completion
// metrics. The registry entry is removed on every exit path.
func (m *Manager) run(ctx context.Context, build *models.Build, opts Options) *models.Build {
	log := slog.With("org", build.Org, "job", build.JobName, "build_id", build.ID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	handle := m.registry.Register(build.ID, cancel)
	defer m.registry.Deregister(build.ID)

	m.metrics.BuildStarted(build.Org, build.JobName)

	final := m.runExecutor(runCtx, build, opts)
	if handle.Cancelled() {
		log.Info("Build was cancelled while running")
	}

	// Terminal persistence uses a background context: the run context is
	// dead by now on the cancellation path.
	if err := m.builds.Update(context.Background(), final); err != nil {
		log.Error("Failed to persist terminal build", "error", err)
	}

	m.reportStatus(context.Background(), final)
	m.metrics.BuildCompleted(final.Org, final.JobName, string(final.Status), final.Duration())
	return final
}

// runExecutor calls the executor with panic containment. A panicking
// plug-in finalizes the build as failure instead of killing the worker.
func (m *Manager) runExecutor(ctx context.Context, build *models.Build, opts Options) (final *models.Build) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Build execution panicked",
				"build_id", build.ID, "panic", r)
			now := time.Now().UTC()
			build.Status = models.BuildStatusFailure
			build.ErrorMessage = fmt.Sprintf("build execution panicked: %v", r)
			build.CompletedAt = &now
			m.bus.Publish(ctx, events.New(build.ID, events.TypeBuildCompleted, events.BuildPayload{
				Org:    build.Org,
				Job:    build.JobName,
				Number: build.Number,
				Status: string(build.Status),
				Reason: build.ErrorMessage,
			}))
			final = build
		}
	}()
	return m.executor.Run(ctx, build, opts.Env)
}

// reportStatus pushes the terminal status to the SCM provider named by the
// build's git source, when a reporter for that provider is registered.
// Reporting is best-effort and never changes the build outcome.
func (m *Manager) reportStatus(ctx context.Context, build *models.Build) {
	src := build.Pipeline.Source
	if src == nil || src.Provider == "" {
		return
	}
	reporter, err := m.plugins.StatusReporter(src.Provider)
	if err != nil {
		return
	}
	if err := reporter.Report(ctx, build); err != nil {
		slog.Warn("SCM status report failed",
			"build_id", build.ID,
			"provider", src.Provider,
			"error", err)
	}
}
