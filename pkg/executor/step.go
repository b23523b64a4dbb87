package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kiln-ci/kiln/pkg/events"
	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/plugin"
	"github.com/kiln-ci/kiln/pkg/process"
)

// runStepsSequential runs steps in declared order, stopping at the first
// failure or abort. Steps after the stop point are recorded as skipped so
// the stage result accounts for every declared step.
func (r *buildRun) runStepsSequential(ctx context.Context, stage models.Stage, env map[string]string) []models.StepResult {
	results := make([]models.StepResult, 0, len(stage.Steps))
	haltReason := ""
	for _, step := range stage.Steps {
		if haltReason != "" {
			results = append(results, skippedStep(step.Name, haltReason))
			continue
		}
		result := r.runStep(ctx, stage, step, env)
		results = append(results, result)
		switch result.Status {
		case models.StepStatusFailure:
			haltReason = "previous step failed"
		case models.StepStatusAborted:
			haltReason = "build cancelled"
		}
	}
	return results
}

// indexedStepResult carries a fan-out result back with its declaration
// position so collected results keep declared order.
type indexedStepResult struct {
	index  int
	result models.StepResult
}

// runStepsParallel fans steps out bounded by the step semaphore and waits
// for every one of them. The semaphore is acquired before spawning so a
// saturated pool blocks the dispatcher rather than piling up goroutines.
func (r *buildRun) runStepsParallel(ctx context.Context, stage models.Stage, env map[string]string) []models.StepResult {
	sem := semaphore.NewWeighted(r.maxParallelSteps())
	resultCh := make(chan indexedStepResult, len(stage.Steps))

	for i, step := range stage.Steps {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled while waiting for a slot: the step never starts.
			resultCh <- indexedStepResult{index: i, result: abortedStep(step.Name, "build cancelled")}
			continue
		}
		go func(index int, step models.Step) {
			defer sem.Release(1)
			resultCh <- indexedStepResult{index: index, result: r.runStep(ctx, stage, step, env)}
		}(i, step)
	}

	results := make([]models.StepResult, len(stage.Steps))
	for range stage.Steps {
		indexed := <-resultCh
		results[indexed.index] = indexed.result
	}
	return results
}

// runStep executes one step: cancel-flag check, condition, executor
// dispatch, then status derivation from the process result. Step events
// fire only for steps that were actually considered; steps skipped by a
// sequential halt never pass through here.
func (r *buildRun) runStep(ctx context.Context, stage models.Stage, step models.Step, env map[string]string) models.StepResult {
	ctx = logctx.WithStep(ctx, step.Name)
	logger := logctx.From(ctx)

	result := models.StepResult{
		Name:      step.Name,
		StartedAt: time.Now().UTC(),
	}

	if ctx.Err() != nil {
		result.Status = models.StepStatusAborted
		result.Reason = "build cancelled"
		result.CompletedAt = result.StartedAt
		return result
	}

	if !conditionMet(step.Condition, r.build) {
		result.Status = models.StepStatusSkipped
		result.Reason = "condition not met"
		result.CompletedAt = time.Now().UTC()
		logger.Info("Step skipped", "reason", result.Reason)
		return result
	}

	r.publish(ctx, events.TypeStepStarted, events.StepPayload{
		Stage: stage.Name,
		Step:  step.Name,
	})
	logger.Info("Step started", "kind", string(step.EffectiveKind()))

	procResult, err := r.executeStep(ctx, stage, step, env)
	result.CompletedAt = time.Now().UTC()

	if procResult != nil {
		result.ExitCode = procResult.ExitCode
		result.Stdout = procResult.Stdout
		result.Stderr = procResult.Stderr
		result.DurationMs = procResult.DurationMs
		result.TimedOut = procResult.TimedOut
	}

	switch {
	case err != nil:
		result.Status = models.StepStatusFailure
		result.ErrorMessage = err.Error()
		result.ExitCode = -1
	case procResult == nil:
		result.Status = models.StepStatusFailure
		result.ErrorMessage = "step executor returned no result"
		result.ExitCode = -1
	case procResult.Cancelled:
		result.Status = models.StepStatusAborted
		result.Reason = "build cancelled"
	case procResult.TimedOut:
		result.Status = models.StepStatusFailure
		result.Reason = fmt.Sprintf("step timed out after %s", stepTimeout(r.ex.cfg.Steps.DefaultTimeout(), step))
	case procResult.ExitCode == 0:
		result.Status = models.StepStatusSuccess
	default:
		result.Status = models.StepStatusFailure
	}

	r.publish(ctx, events.TypeStepCompleted, events.StepPayload{
		Stage:      stage.Name,
		Step:       step.Name,
		Status:     string(result.Status),
		ExitCode:   result.ExitCode,
		DurationMs: result.DurationMs,
	})
	r.ex.metrics.StepCompleted(r.build.Org, r.build.JobName, string(result.Status), time.Duration(result.DurationMs)*time.Millisecond)
	logger.Info("Step completed",
		"status", string(result.Status),
		"exit_code", result.ExitCode,
		"duration_ms", result.DurationMs)
	return result
}

// executeStep resolves the container overlay and dispatches to the
// registered executor for the step's kind. A stage container overlay
// promotes plain shell steps to container execution.
func (r *buildRun) executeStep(ctx context.Context, stage models.Stage, step models.Step, env map[string]string) (*process.Result, error) {
	container := step.Container
	if container == nil {
		container = stage.Container
	}
	kind := step.EffectiveKind()
	if kind == models.StepKindShell && container != nil {
		kind = models.StepKindContainer
	}
	if kind == models.StepKindContainer && container == nil {
		return nil, fmt.Errorf("container step %q declares no container", step.Name)
	}
	if kind == models.StepKindShell {
		container = nil
	}

	exec, err := r.ex.registry.StepExecutor(kind)
	if err != nil {
		return nil, err
	}

	return exec.Execute(ctx, plugin.StepRequest{
		Step:       step,
		Build:      r.build,
		Workspace:  r.build.Workspace,
		Env:        mergeEnv(env, step.Env),
		Container:  container,
		Timeout:    stepTimeout(r.ex.cfg.Steps.DefaultTimeout(), step),
		MaskValues: r.mask,
	})
}

// stepTimeout resolves the per-step timeout, falling back to the
// configured default.
func stepTimeout(defaultTimeout time.Duration, step models.Step) time.Duration {
	if step.TimeoutSeconds > 0 {
		return time.Duration(step.TimeoutSeconds) * time.Second
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return process.DefaultTimeout
}

func skippedStep(name, reason string) models.StepResult {
	now := time.Now().UTC()
	return models.StepResult{
		Name:        name,
		Status:      models.StepStatusSkipped,
		Reason:      reason,
		StartedAt:   now,
		CompletedAt: now,
	}
}

func abortedStep(name, reason string) models.StepResult {
	now := time.Now().UTC()
	return models.StepResult{
		Name:        name,
		Status:      models.StepStatusAborted,
		Reason:      reason,
		StartedAt:   now,
		CompletedAt: now,
	}
}
