// Package plugin is the extension seam of the core. Step executors,
// notifiers, SCM status reporters, and pipeline-as-code formats register
// here at startup; the executor dispatches through the registry and never
// hard-codes an implementation.
package plugin

import (
	"context"
	"time"

	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/process"
)

// StepRequest is everything a step executor needs to run one step.
type StepRequest struct {
	Step      models.Step
	Build     *models.Build
	Workspace string
	// Env is the fully merged environment for the step.
	Env map[string]string
	// Container is the resolved container overlay, nil for plain shell
	// steps.
	Container  *models.ContainerSpec
	Timeout    time.Duration
	MaskValues []string
}

// StepExecutor runs steps of one kind. Returning an error means the step
// could not be run at all; a completed process with a non-zero exit comes
// back as a normal result.
type StepExecutor interface {
	Kind() models.StepKind
	Execute(ctx context.Context, req StepRequest) (*process.Result, error)
}

// Notification is one completed build offered to a notifier.
type Notification struct {
	Target models.NotifyTarget
	Build  *models.Build
}

// Notifier delivers build completion notifications for one target kind.
// Delivery is best-effort; failures are logged and never affect the build.
type Notifier interface {
	Kind() string
	Notify(ctx context.Context, n Notification) error
}

// StatusReporter pushes terminal build status back to an SCM provider.
type StatusReporter interface {
	Provider() string
	Report(ctx context.Context, build *models.Build) error
}

// PipelineFormat parses a workspace pipeline definition file.
type PipelineFormat interface {
	// Extensions lists the file extensions the format claims, with the
	// leading dot ("" never matches).
	Extensions() []string
	Parse(data []byte) (*models.Pipeline, error)
}
