package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiln-ci/kiln/pkg/approval"
	"github.com/kiln-ci/kiln/pkg/config"
	"github.com/kiln-ci/kiln/pkg/events"
	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/matrix"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

// runStage executes one planned stage through the fixed check pipeline:
// condition, result cache, policy, approval, cache restore, steps, cache
// save, result-cache store. Every exit funnels through finishStage so the
// stage-completed event fires exactly once per started stage.
func (r *buildRun) runStage(ctx context.Context, plan matrix.StagePlan) models.StageResult {
	stage := plan.Stage
	ctx = logctx.WithStage(ctx, stage.Name)
	logger := logctx.From(ctx)

	result := models.StageResult{
		Name:         stage.Name,
		MatrixValues: plan.Matrix,
		StartedAt:    time.Now().UTC(),
	}
	env := r.stageEnv(plan)

	r.publish(ctx, events.TypeStageStarted, events.StagePayload{Stage: stage.Name})
	logger.Info("Stage started")

	if ctx.Err() != nil {
		return r.finishStage(ctx, result, models.StageStatusAborted, "build cancelled")
	}

	if !conditionMet(stage.Condition, r.build) {
		r.publish(ctx, events.TypeStageSkipped, events.StagePayload{
			Stage:  stage.Name,
			Reason: "condition not met",
		})
		return r.finishStage(ctx, result, models.StageStatusSkipped, "condition not met")
	}

	// 1. Result cache. A fingerprinting failure only disables the cache
	// for this stage; the stage still runs.
	fingerprint, inputs, err := stageFingerprint(stage, env)
	if err != nil {
		logger.Warn("Stage fingerprinting failed, result cache disabled for this stage",
			"error", err)
	} else {
		result.Fingerprint = fingerprint
		result.FingerprintInputs = inputs
		if cached, ok := r.lookupStageResult(ctx, fingerprint); ok {
			logger.Info("Stage result reused from cache", "fingerprint", fingerprint)
			r.publish(ctx, events.TypeStageCached, events.StagePayload{
				Stage:       stage.Name,
				Cached:      true,
				Fingerprint: fingerprint,
			})
			result.Steps = cached.Steps
			result.Cached = true
			return r.finishStage(ctx, result, models.StageStatusSuccess, "")
		}
	}

	// 2. Policy.
	decision := r.ex.policies.Evaluate(ctx, r.build, stage.Name)
	if !decision.Allowed {
		r.publish(ctx, events.TypeStagePolicyDenied, events.StagePayload{
			Stage:  stage.Name,
			Reason: decision.Reason,
		})
		logger.Warn("Stage denied by policy",
			"policy", decision.DeniedBy,
			"reason", decision.Reason)
		return r.finishStage(ctx, result, models.StageStatusAborted, decision.Reason)
	}

	// 3.-4. Approval, with any policy override folded in. A policy can
	// force a gate onto a stage that declares none.
	spec := stage.Approval
	if spec == nil && decision.Override != nil {
		spec = &models.ApprovalSpec{
			Message:        fmt.Sprintf("approval required by policy for stage %q", stage.Name),
			TimeoutMinutes: approval.DefaultForcedTimeoutMinutes,
		}
	}
	if spec != nil {
		r.beginGateWait(ctx)
		gate := r.ex.approvals.Gate(ctx, r.build, stage.Name, *spec, decision.Override)
		r.endGateWait(ctx)
		if !gate.Proceed {
			return r.finishStage(ctx, result, models.StageStatusAborted, gate.Reason)
		}
		logger.Info("Stage approved", "approved_by", gate.ApprovedBy)
	}

	// 5. Cache restore.
	if len(stage.Caches) > 0 && ctx.Err() == nil {
		result.Restores = r.ex.caches.Restore(ctx, r.build.Workspace, r.build.Org, r.build.JobName, stage.Caches)
	}

	// 6. Steps.
	if stage.Parallel {
		result.Steps = r.runStepsParallel(ctx, stage, env)
	} else {
		result.Steps = r.runStepsSequential(ctx, stage, env)
	}
	status := models.DeriveStageStatus(result.Steps)

	// 7. Cache save, only when the stage succeeded.
	if status == models.StageStatusSuccess && len(stage.Caches) > 0 {
		r.ex.caches.Save(ctx, r.build.Workspace, r.build.Org, r.build.JobName, stage.Caches)
	}

	final := r.finishStage(ctx, result, status, "")

	// 8. Result-cache store.
	if status == models.StageStatusSuccess && final.Fingerprint != "" {
		r.storeStageResult(ctx, final)
	}
	return final
}

// stageEnv merges the stage's matrix assignments over the build env.
func (r *buildRun) stageEnv(plan matrix.StagePlan) map[string]string {
	if len(plan.Matrix) == 0 {
		return r.env
	}
	matrixEnv := make(map[string]string, len(plan.Matrix))
	for dim, value := range plan.Matrix {
		matrixEnv[matrix.EnvKey(dim)] = value
	}
	return mergeEnv(r.env, matrixEnv)
}

// finishStage stamps the terminal fields, emits stage-completed, and
// records the stage metric.
func (r *buildRun) finishStage(ctx context.Context, result models.StageResult, status models.StageStatus, reason string) models.StageResult {
	result.Status = status
	if reason != "" {
		result.Reason = reason
	}
	result.CompletedAt = time.Now().UTC()

	r.publish(ctx, events.TypeStageCompleted, events.StagePayload{
		Stage:       result.Name,
		Status:      string(status),
		Reason:      result.Reason,
		Cached:      result.Cached,
		Fingerprint: result.Fingerprint,
		DurationMs:  result.Duration().Milliseconds(),
	})
	r.ex.metrics.StageCompleted(r.build.Org, r.build.JobName, result.Name, string(status), result.Duration())
	logctx.From(ctx).Info("Stage completed",
		"status", string(status),
		"reason", result.Reason,
		"duration", result.Duration().Round(time.Millisecond).String())
	return result
}

// lookupStageResult checks the result cache for a prior successful run of
// this fingerprint. Lookup failures are a miss: the cache is an
// optimization, never a reason to fail a stage.
func (r *buildRun) lookupStageResult(ctx context.Context, fingerprint string) (*models.StageResult, bool) {
	cached, err := r.ex.stageCache.Get(ctx, r.build.Org, r.build.JobName, fingerprint)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logctx.From(ctx).Warn("Result cache lookup failed", "error", err)
		}
		r.ex.metrics.ResultCacheLookup(false)
		return nil, false
	}
	r.ex.metrics.ResultCacheLookup(true)
	return cached, true
}

func (r *buildRun) storeStageResult(ctx context.Context, result models.StageResult) {
	if err := r.ex.stageCache.Put(ctx, r.build.Org, r.build.JobName, result.Fingerprint, &result); err != nil {
		logctx.From(ctx).Warn("Failed to store stage result in cache",
			"fingerprint", result.Fingerprint,
			"error", err)
	}
}

// beginGateWait and endGateWait track how many stages are parked on
// approval gates. The build shows awaiting-approval while any stage
// waits; DAG mode can park several at once.
func (r *buildRun) beginGateWait(ctx context.Context) {
	if r.gateWaits.Add(1) == 1 {
		r.setStatus(ctx, models.BuildStatusAwaitingApproval)
	}
}

func (r *buildRun) endGateWait(ctx context.Context) {
	if r.gateWaits.Add(-1) == 0 && ctx.Err() == nil {
		r.setStatus(ctx, models.BuildStatusRunning)
	}
}

// maxParallelSteps resolves the step fan-out bound for parallel stages.
func (r *buildRun) maxParallelSteps() int64 {
	if max := r.ex.cfg.ThreadPools.MaxParallelSteps; max > 0 {
		return int64(max)
	}
	return int64(config.DefaultMaxParallelSteps)
}
