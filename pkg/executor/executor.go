// Package executor is the pipeline state machine. It drives one build
// from workspace provisioning through checkout, pipeline-as-code
// resolution, matrix expansion, and stage execution with policy and
// approval checks, then finishes with post-actions, artifact collection,
// supply-chain hooks, and notification dispatch. Every failure mode folds
// into the build's terminal status; Run never returns an error.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiln-ci/kiln/pkg/approval"
	"github.com/kiln-ci/kiln/pkg/cache"
	"github.com/kiln-ci/kiln/pkg/config"
	"github.com/kiln-ci/kiln/pkg/events"
	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/matrix"
	"github.com/kiln-ci/kiln/pkg/metrics"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/notify"
	"github.com/kiln-ci/kiln/pkg/pipeline"
	"github.com/kiln-ci/kiln/pkg/plugin"
	"github.com/kiln-ci/kiln/pkg/policy"
	"github.com/kiln-ci/kiln/pkg/secrets"
	"github.com/kiln-ci/kiln/pkg/store"
	"github.com/kiln-ci/kiln/pkg/supplychain"
	"github.com/kiln-ci/kiln/pkg/vcs"
	"github.com/kiln-ci/kiln/pkg/workspace"
)

// Deps are the collaborators the executor composes.
type Deps struct {
	Config     *config.Config
	Builds     store.Builds
	Artifacts  store.Artifacts
	StageCache store.StageCache
	Bus        events.Publisher
	Registry   *plugin.Registry
	Resolver   *pipeline.Resolver
	Workspaces *workspace.Manager
	Checkout   vcs.Checkout
	Secrets    secrets.Store
	Policies   *policy.Engine
	Approvals  *approval.Engine
	Caches     *cache.Manager
	Hooks      *supplychain.Hooks
	Notifier   *notify.Dispatcher
	Metrics    metrics.Recorder
}

// Executor runs builds. It holds no per-build state; one executor serves
// every worker concurrently.
type Executor struct {
	cfg        *config.Config
	builds     store.Builds
	artifacts  store.Artifacts
	stageCache store.StageCache
	bus        events.Publisher
	registry   *plugin.Registry
	resolver   *pipeline.Resolver
	workspaces *workspace.Manager
	checkout   vcs.Checkout
	secrets    secrets.Store
	policies   *policy.Engine
	approvals  *approval.Engine
	caches     *cache.Manager
	hooks      *supplychain.Hooks
	notifier   *notify.Dispatcher
	metrics    metrics.Recorder
}

// New creates an executor from its collaborators.
func New(deps Deps) *Executor {
	return &Executor{
		cfg:        deps.Config,
		builds:     deps.Builds,
		artifacts:  deps.Artifacts,
		stageCache: deps.StageCache,
		bus:        deps.Bus,
		registry:   deps.Registry,
		resolver:   deps.Resolver,
		workspaces: deps.Workspaces,
		checkout:   deps.Checkout,
		secrets:    deps.Secrets,
		policies:   deps.Policies,
		approvals:  deps.Approvals,
		caches:     deps.Caches,
		hooks:      deps.Hooks,
		notifier:   deps.Notifier,
		metrics:    metrics.Safe(deps.Metrics),
	}
}

// buildRun is the state of one Run invocation. The mutex guards the build
// record during DAG fan-out, where stage goroutines flip the build status
// around approval gates while the dispatcher appends results.
type buildRun struct {
	ex    *Executor
	build *models.Build
	env   map[string]string
	mask  []string

	mu sync.Mutex
	// gateWaits counts stages currently parked on approval gates; the
	// build shows awaiting-approval while it is non-zero.
	gateWaits atomic.Int32
}

// Run executes one build to completion and returns the same record,
// finalized. Cancelling ctx aborts the build cooperatively: in-flight
// steps finish as aborted, later stages never start, and post-actions and
// notifications still run.
func (e *Executor) Run(ctx context.Context, build *models.Build, extraEnv map[string]string) *models.Build {
	ctx = logctx.WithBuild(logctx.WithJob(ctx, build.Org, build.JobName), build.ID)
	logger := logctx.From(ctx)
	r := &buildRun{ex: e, build: build}

	started := time.Now().UTC()
	build.StartedAt = &started
	r.setStatus(ctx, models.BuildStatusRunning)
	r.publish(ctx, events.TypeBuildStarted, events.BuildPayload{
		Org:     build.Org,
		Job:     build.JobName,
		Number:  build.Number,
		Trigger: string(build.Trigger.Kind),
		Status:  string(models.BuildStatusRunning),
	})
	logger.Info("Build started",
		"number", build.Number,
		"trigger", string(build.Trigger.Kind))

	// 1. Workspace.
	dir, err := e.workspaces.Create(build.JobName, build.Number)
	if err != nil {
		return r.finalize(ctx, models.BuildStatusFailure, fmt.Sprintf("workspace provisioning failed: %v", err))
	}
	build.Workspace = dir

	// 2. Checkout. A failed checkout fails the build before any stage.
	if src := build.Pipeline.Source; src != nil {
		r.publish(ctx, events.TypeGitStarted, events.GitPayload{URL: src.URL, Branch: src.Branch})
		info, err := e.checkout.Checkout(ctx, *src, dir)
		if err != nil {
			r.publish(ctx, events.TypeGitFailed, events.GitPayload{URL: src.URL, Error: err.Error()})
			return r.finalize(ctx, models.BuildStatusFailure, fmt.Sprintf("checkout failed: %v", err))
		}
		build.Git = info
		r.publish(ctx, events.TypeGitCompleted, events.GitPayload{
			URL:    src.URL,
			Branch: info.Branch,
			Commit: info.Commit,
		})
	}

	// 3. Pipeline-as-code resolution against the checked-out workspace.
	resolved, source := e.resolver.Resolve(ctx, dir, &build.Pipeline)
	build.Pipeline = *resolved
	build.PipelineSource = source
	for name, value := range resolved.Params {
		if _, ok := build.Params[name]; !ok {
			if build.Params == nil {
				build.Params = make(map[string]string)
			}
			build.Params[name] = value
		}
	}

	// 4. Environment overlay. Secrets failing to resolve fails the build:
	// running with silently absent secrets is worse than not running.
	secretValues, err := e.secrets.SecretsForBuild(ctx, build.Org, build.JobName)
	if err != nil {
		return r.finalize(ctx, models.BuildStatusFailure, fmt.Sprintf("secret resolution failed: %v", err))
	}
	r.env = buildEnv(build, secretValues, extraEnv)
	r.mask = secrets.Values(secretValues)

	// 5. Pipeline-level container overlay reaches stages without their own.
	propagateContainer(&build.Pipeline)

	// 6. Matrix expansion.
	combos, err := matrix.Expand(build.Pipeline.Matrix, e.cfg.Matrix.MaxCombinations)
	if err != nil {
		return r.finalize(ctx, models.BuildStatusFailure, fmt.Sprintf("matrix expansion failed: %v", err))
	}
	plans := matrix.Plan(build.Pipeline.Stages, combos)

	// 7.-8. Stage execution and status derivation.
	results, err := r.runStages(ctx, plans)
	if err != nil {
		return r.finalize(ctx, models.BuildStatusFailure, err.Error())
	}
	r.mu.Lock()
	build.Stages = results
	status := models.DeriveBuildStatus(results)
	if ctx.Err() != nil {
		status = models.BuildStatusAborted
		if build.ErrorMessage == "" {
			build.ErrorMessage = "build cancelled"
		}
	}
	build.Status = status
	r.mu.Unlock()

	// The run context dies with cancellation, but the cancel path still
	// runs post-actions and notifications.
	finCtx := context.WithoutCancel(ctx)

	// 9. Post-actions see the finalized status.
	r.runPostActions(finCtx)

	// 10. Artifact collection honours cancellation: a cancelled build
	// collects nothing.
	r.collectArtifacts(ctx)

	// 11.-12. Supply-chain hooks, then notification dispatch.
	e.hooks.RunAll(finCtx, build)
	e.notifier.Dispatch(finCtx, build)

	// 13. Terminal event.
	return r.finalize(finCtx, status, build.ErrorMessage)
}

// runStages picks the execution mode: DAG when any stage declares
// dependencies and the feature is enabled, sequential otherwise.
func (r *buildRun) runStages(ctx context.Context, plans []matrix.StagePlan) ([]models.StageResult, error) {
	if withDependencies(plans) && r.ex.cfg.FeatureEnabled(config.FeatureParallelStages) {
		return r.runDAG(ctx, plans)
	}
	return r.runSequential(ctx, plans), nil
}

// runSequential executes stages in declared order and stops at the first
// failure or abort; stages never reached are absent from the results.
func (r *buildRun) runSequential(ctx context.Context, plans []matrix.StagePlan) []models.StageResult {
	results := make([]models.StageResult, 0, len(plans))
	for _, plan := range plans {
		if ctx.Err() != nil {
			break
		}
		result := r.runStage(ctx, plan)
		results = append(results, result)
		r.appendStage(result)
		if result.Status == models.StageStatusFailure || result.Status == models.StageStatusAborted {
			break
		}
	}
	return results
}

func withDependencies(plans []matrix.StagePlan) bool {
	for _, plan := range plans {
		if len(plan.Stage.DependsOn) > 0 {
			return true
		}
	}
	return false
}

func propagateContainer(p *models.Pipeline) {
	if p.Container == nil {
		return
	}
	for i := range p.Stages {
		if p.Stages[i].Container == nil {
			p.Stages[i].Container = p.Container
		}
	}
}

// finalize stamps the terminal status and emits build-completed. It is
// the single exit of Run, so the terminal event fires exactly once.
func (r *buildRun) finalize(ctx context.Context, status models.BuildStatus, errMsg string) *models.Build {
	now := time.Now().UTC()
	r.mu.Lock()
	r.build.Status = status
	if errMsg != "" {
		r.build.ErrorMessage = errMsg
	}
	r.build.CompletedAt = &now
	r.mu.Unlock()

	r.publish(ctx, events.TypeBuildCompleted, events.BuildPayload{
		Org:    r.build.Org,
		Job:    r.build.JobName,
		Number: r.build.Number,
		Status: string(status),
		Reason: errMsg,
	})
	logctx.From(ctx).Info("Build completed",
		"status", string(status),
		"duration", r.build.Duration().Round(time.Millisecond).String())
	return r.build
}

func (r *buildRun) publish(ctx context.Context, t events.Type, data any) {
	r.ex.bus.Publish(ctx, events.New(r.build.ID, t, data))
}

// setStatus flips the build's non-terminal status and persists it so
// observers see running and awaiting-approval transitions. Persistence
// failures are logged: a status flip is not worth failing a build over.
func (r *buildRun) setStatus(ctx context.Context, status models.BuildStatus) {
	r.mu.Lock()
	r.build.Status = status
	snapshot := *r.build
	r.mu.Unlock()

	if err := r.ex.builds.Update(ctx, &snapshot); err != nil {
		logctx.From(ctx).Warn("Failed to persist build status",
			"status", string(status),
			"error", err)
	}
}

// appendStage records a stage result under the run lock, keeping DAG
// dispatch appends safe against concurrent status snapshots.
func (r *buildRun) appendStage(result models.StageResult) {
	r.mu.Lock()
	r.build.Stages = append(r.build.Stages, result)
	r.mu.Unlock()
}
