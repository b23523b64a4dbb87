package models

import (
	"errors"
	"fmt"
)

// Pipeline validation sentinel errors. Wrap them with context using
// NewValidationError; callers match with errors.Is.
var (
	// ErrMissingField indicates a required field is empty.
	ErrMissingField = errors.New("required field is missing")

	// ErrDuplicateName indicates a stage or step name is not unique.
	ErrDuplicateName = errors.New("name is not unique")

	// ErrUnknownDependency indicates a depends-on reference to a stage
	// that does not exist.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDependencyCycle indicates the stage graph is not acyclic.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrInvalidImage indicates a container image reference that does not
	// parse.
	ErrInvalidImage = errors.New("invalid image reference")

	// ErrMatrixTooLarge indicates the cartesian expansion exceeds the
	// configured cap.
	ErrMatrixTooLarge = errors.New("matrix expansion exceeds limit")

	// ErrInvalidValue indicates a field value outside its valid set.
	ErrInvalidValue = errors.New("invalid value")
)

// ValidationError wraps a pipeline validation failure with enough context
// to point at the offending element.
type ValidationError struct {
	Pipeline string
	Stage    string
	Field    string
	Err      error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("pipeline %q", e.Pipeline)
	if e.Stage != "" {
		msg += fmt.Sprintf(", stage %q", e.Stage)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(", field %q", e.Field)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a ValidationError with context.
func NewValidationError(pipeline, stage, field string, err error) *ValidationError {
	return &ValidationError{
		Pipeline: pipeline,
		Stage:    stage,
		Field:    field,
		Err:      err,
	}
}
