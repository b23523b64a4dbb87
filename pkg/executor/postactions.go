package executor

import (
	"context"

	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/models"
)

// postActionsStageName labels post-action step events and logs; post
// actions belong to the build, not to any declared stage.
const postActionsStageName = "post-actions"

// runPostActions runs the always group, then the conditional group
// matching the final status. Aborted builds run the on-failure group:
// cleanup and alerting want to fire for any build that did not succeed.
// Failures are recorded and logged but never change the build status.
func (r *buildRun) runPostActions(ctx context.Context) {
	actions := r.build.Pipeline.PostActions
	if actions.Empty() {
		return
	}

	steps := make([]models.Step, 0, len(actions.Always)+len(actions.OnSuccess)+len(actions.OnFailure))
	steps = append(steps, actions.Always...)
	if r.build.Status == models.BuildStatusSuccess {
		steps = append(steps, actions.OnSuccess...)
	} else {
		steps = append(steps, actions.OnFailure...)
	}
	if len(steps) == 0 {
		return
	}

	logger := logctx.From(ctx)
	logger.Info("Running post-actions", "steps", len(steps), "build_status", string(r.build.Status))

	stage := models.Stage{Name: postActionsStageName}
	for _, step := range steps {
		result := r.runStep(ctx, stage, step, r.env)
		r.mu.Lock()
		r.build.PostActions = append(r.build.PostActions, result)
		r.mu.Unlock()
		if result.Status == models.StepStatusFailure {
			logger.Warn("Post-action failed",
				"step", step.Name,
				"exit_code", result.ExitCode,
				"error", result.ErrorMessage)
		}
	}
}
