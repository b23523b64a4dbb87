package models

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/kiln-ci/kiln/pkg/dag"
)

// Validate checks everything that can be decided without running the
// pipeline: names, references, graph shape, image formats, and the matrix
// cap. Validation is fail-fast and returns the first problem found; builds
// of an invalid pipeline fail before any stage starts.
func (p *Pipeline) Validate(maxMatrixCombinations int) error {
	if p.Name == "" {
		return NewValidationError(p.Name, "", "name", ErrMissingField)
	}
	if len(p.Stages) == 0 {
		return NewValidationError(p.Name, "", "stages", ErrMissingField)
	}

	names := make([]string, 0, len(p.Stages))
	deps := make(map[string][]string, len(p.Stages))
	seen := make(map[string]bool, len(p.Stages))
	for i := range p.Stages {
		stage := &p.Stages[i]
		if stage.Name == "" {
			return NewValidationError(p.Name, "", fmt.Sprintf("stages[%d].name", i), ErrMissingField)
		}
		if seen[stage.Name] {
			return NewValidationError(p.Name, stage.Name, "name", ErrDuplicateName)
		}
		seen[stage.Name] = true
		names = append(names, stage.Name)
		if len(stage.DependsOn) > 0 {
			deps[stage.Name] = stage.DependsOn
		}
		if err := p.validateStage(stage); err != nil {
			return err
		}
	}

	if _, err := dag.New(names, deps); err != nil {
		return NewValidationError(p.Name, "", "depends-on", err)
	}

	if p.Container != nil {
		if err := p.Container.validate(); err != nil {
			return NewValidationError(p.Name, "", "container", err)
		}
	}
	if p.Matrix != nil {
		if err := p.Matrix.validate(maxMatrixCombinations); err != nil {
			return NewValidationError(p.Name, "", "matrix", err)
		}
	}
	if p.PostActions != nil {
		for _, group := range [][]Step{p.PostActions.Always, p.PostActions.OnSuccess, p.PostActions.OnFailure} {
			for i := range group {
				if err := validateStep(&group[i]); err != nil {
					return NewValidationError(p.Name, "", "post-actions", err)
				}
			}
		}
	}
	return nil
}

func (p *Pipeline) validateStage(stage *Stage) error {
	if len(stage.Steps) == 0 {
		return NewValidationError(p.Name, stage.Name, "steps", ErrMissingField)
	}
	seen := make(map[string]bool, len(stage.Steps))
	for i := range stage.Steps {
		step := &stage.Steps[i]
		if step.Name == "" {
			return NewValidationError(p.Name, stage.Name, fmt.Sprintf("steps[%d].name", i), ErrMissingField)
		}
		if seen[step.Name] {
			return NewValidationError(p.Name, stage.Name, fmt.Sprintf("steps[%s]", step.Name), ErrDuplicateName)
		}
		seen[step.Name] = true
		if err := validateStep(step); err != nil {
			return NewValidationError(p.Name, stage.Name, fmt.Sprintf("steps[%s]", step.Name), err)
		}
	}
	if stage.Container != nil {
		if err := stage.Container.validate(); err != nil {
			return NewValidationError(p.Name, stage.Name, "container", err)
		}
	}
	if stage.Condition != nil && !stage.Condition.Kind.IsValid() {
		return NewValidationError(p.Name, stage.Name, "condition.kind", ErrInvalidValue)
	}
	for _, cache := range stage.Caches {
		if cache.Key == "" {
			return NewValidationError(p.Name, stage.Name, "caches.key", ErrMissingField)
		}
		if len(cache.Paths) == 0 {
			return NewValidationError(p.Name, stage.Name, "caches.paths", ErrMissingField)
		}
	}
	if stage.Approval != nil {
		if stage.Approval.TimeoutMinutes < 0 {
			return NewValidationError(p.Name, stage.Name, "approval.timeout-minutes", ErrInvalidValue)
		}
		if stage.Approval.MinApprovals < 0 {
			return NewValidationError(p.Name, stage.Name, "approval.min-approvals", ErrInvalidValue)
		}
	}
	return nil
}

func validateStep(step *Step) error {
	switch step.EffectiveKind() {
	case StepKindShell:
		if strings.TrimSpace(step.Command) == "" {
			return fmt.Errorf("command: %w", ErrMissingField)
		}
	case StepKindContainer:
		if step.Container == nil || step.Container.Image == "" {
			return fmt.Errorf("container.image: %w", ErrMissingField)
		}
		if err := step.Container.validate(); err != nil {
			return err
		}
	}
	if step.Condition != nil && !step.Condition.Kind.IsValid() {
		return fmt.Errorf("condition.kind: %w", ErrInvalidValue)
	}
	if step.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout-seconds: %w", ErrInvalidValue)
	}
	return nil
}

func (c *ContainerSpec) validate() error {
	if c.Image == "" {
		return fmt.Errorf("image: %w", ErrMissingField)
	}
	if _, err := name.ParseReference(c.Image); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidImage, c.Image, err)
	}
	return nil
}

func (m *MatrixSpec) validate(maxCombinations int) error {
	if len(m.Dimensions) == 0 {
		return fmt.Errorf("dimensions: %w", ErrMissingField)
	}
	product := 1
	for dim, values := range m.Dimensions {
		if len(values) == 0 {
			return fmt.Errorf("dimensions[%s]: %w", dim, ErrMissingField)
		}
		product *= len(values)
	}
	if maxCombinations > 0 && product > maxCombinations {
		return fmt.Errorf("%w: %d combinations, limit %d", ErrMatrixTooLarge, product, maxCombinations)
	}
	return nil
}
