package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kiln-ci/kiln/pkg/config"
	"github.com/kiln-ci/kiln/pkg/dag"
	"github.com/kiln-ci/kiln/pkg/events"
	"github.com/kiln-ci/kiln/pkg/matrix"
	"github.com/kiln-ci/kiln/pkg/models"
)

// runDAG executes stages respecting depends-on edges, bounded by the
// stage semaphore. Results land in completion order. A stage whose
// dependency failed or aborted is marked aborted without running; on
// cancellation, in-flight stages drain and unstarted stages are absent
// from the results.
func (r *buildRun) runDAG(ctx context.Context, plans []matrix.StagePlan) ([]models.StageResult, error) {
	names := make([]string, 0, len(plans))
	deps := make(map[string][]string, len(plans))
	planByName := make(map[string]matrix.StagePlan, len(plans))
	for _, plan := range plans {
		names = append(names, plan.Stage.Name)
		deps[plan.Stage.Name] = plan.Stage.DependsOn
		planByName[plan.Stage.Name] = plan
	}
	graph, err := dag.New(names, deps)
	if err != nil {
		return nil, fmt.Errorf("stage graph: %w", err)
	}

	maxConcurrent := r.ex.cfg.ParallelStages.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultMaxConcurrentStages
	}
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	done := make(chan models.StageResult, len(plans))

	pending := make(map[string]bool, len(names))
	for _, name := range names {
		pending[name] = true
	}
	completed := make(map[string]bool, len(names))
	failed := make(map[string]bool, len(names))
	inflight := 0

	results := make([]models.StageResult, 0, len(plans))
	record := func(result models.StageResult) {
		results = append(results, result)
		r.appendStage(result)
		if result.Status == models.StageStatusFailure || result.Status == models.StageStatusAborted {
			failed[result.Name] = true
		} else {
			completed[result.Name] = true
		}
	}

	for len(pending) > 0 || inflight > 0 {
		progressed := false
		for _, name := range names {
			if !pending[name] || ctx.Err() != nil {
				continue
			}
			switch {
			case anyIn(graph.Deps(name), failed):
				// Blocked: the stage never starts, so there is no
				// stage-started, only the terminal event.
				delete(pending, name)
				result := blockedStage(name, planByName[name].Matrix)
				r.publish(ctx, events.TypeStageCompleted, events.StagePayload{
					Stage:  name,
					Status: string(result.Status),
					Reason: result.Reason,
				})
				record(result)
				progressed = true
			case allIn(graph.Deps(name), completed):
				// Acquire before spawning so saturation blocks the
				// dispatcher, not a goroutine per waiting stage.
				if err := sem.Acquire(ctx, 1); err != nil {
					continue
				}
				delete(pending, name)
				inflight++
				go func(plan matrix.StagePlan) {
					defer sem.Release(1)
					done <- r.runStage(ctx, plan)
				}(planByName[name])
				progressed = true
			}
		}

		if inflight > 0 {
			record(<-done)
			inflight--
			continue
		}
		if !progressed {
			// Nothing runnable and nothing in flight: cancelled, or
			// every remaining stage waits on one that never ran.
			break
		}
	}
	return results, nil
}

func blockedStage(name string, matrixValues map[string]string) models.StageResult {
	now := time.Now().UTC()
	return models.StageResult{
		Name:         name,
		Status:       models.StageStatusAborted,
		Reason:       "Dependency failed",
		MatrixValues: matrixValues,
		StartedAt:    now,
		CompletedAt:  now,
	}
}

func anyIn(names []string, set map[string]bool) bool {
	for _, name := range names {
		if set[name] {
			return true
		}
	}
	return false
}

func allIn(names []string, set map[string]bool) bool {
	for _, name := range names {
		if !set[name] {
			return false
		}
	}
	return true
}
