package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/plugin"
	"github.com/kiln-ci/kiln/pkg/process"
	"github.com/kiln-ci/kiln/pkg/workspace"
)

// ShellExecutor runs shell steps through the process collaborator. The
// step command runs in the workspace, or in a work-dir confined to it.
type ShellExecutor struct {
	processes process.Executor
}

var _ plugin.StepExecutor = (*ShellExecutor)(nil)

// NewShellExecutor creates the default shell step executor.
func NewShellExecutor(processes process.Executor) *ShellExecutor {
	return &ShellExecutor{processes: processes}
}

// Kind returns the step kind this executor serves.
func (e *ShellExecutor) Kind() models.StepKind {
	return models.StepKindShell
}

// Execute runs the step command.
func (e *ShellExecutor) Execute(ctx context.Context, req plugin.StepRequest) (*process.Result, error) {
	if strings.TrimSpace(req.Step.Command) == "" {
		return nil, fmt.Errorf("shell step %q has no command", req.Step.Name)
	}

	dir := req.Workspace
	if req.Step.WorkDir != "" {
		resolved, err := workspace.Join(req.Workspace, req.Step.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("step work dir: %w", err)
		}
		dir = resolved
	}

	return e.processes.Execute(ctx, process.Request{
		Command:    req.Step.Command,
		Dir:        dir,
		Env:        req.Env,
		Timeout:    req.Timeout,
		MaskValues: req.MaskValues,
	})
}
