package models

import "time"

// Build is one execution of a job's pipeline. The build owns its stage and
// step results; the pipeline it executed is embedded by value as a
// snapshot. Status transitions happen only through the build executor, and
// the terminal record is persisted exactly once.
type Build struct {
	ID             string            `json:"id"`
	Org            string            `json:"org"`
	JobName        string            `json:"job_name"`
	Number         int64             `json:"number"`
	Status         BuildStatus       `json:"status"`
	Trigger        TriggerInfo       `json:"trigger"`
	Params         map[string]string `json:"params,omitempty"`
	Pipeline       Pipeline          `json:"pipeline"`
	PipelineSource PipelineSource    `json:"pipeline_source"`
	Workspace      string            `json:"workspace,omitempty"`
	Git            *GitInfo          `json:"git,omitempty"`
	Stages         []StageResult     `json:"stages,omitempty"`
	PostActions    []StepResult      `json:"post_actions,omitempty"`
	Artifacts      []Artifact        `json:"artifacts,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	QueuedAt       time.Time         `json:"queued_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// Duration is the wall-clock time between start and completion, zero until
// the build is terminal.
func (b *Build) Duration() time.Duration {
	if b.StartedAt == nil || b.CompletedAt == nil {
		return 0
	}
	return b.CompletedAt.Sub(*b.StartedAt)
}

// StageNames lists the names of the recorded stage results in order.
func (b *Build) StageNames() []string {
	names := make([]string, 0, len(b.Stages))
	for _, s := range b.Stages {
		names = append(names, s.Name)
	}
	return names
}

// StageResult finds a recorded stage result by name.
func (b *Build) StageResult(name string) (*StageResult, bool) {
	for i := range b.Stages {
		if b.Stages[i].Name == name {
			return &b.Stages[i], true
		}
	}
	return nil, false
}

// TriggerInfo records what caused a build.
type TriggerInfo struct {
	Kind     TriggerKind       `json:"kind"`
	By       string            `json:"by,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GitInfo is the commit metadata captured after a successful checkout.
type GitInfo struct {
	Branch      string `json:"branch"`
	Commit      string `json:"commit"`
	CommitShort string `json:"commit_short"`
	Author      string `json:"author"`
	Message     string `json:"message"`
}

// StageResult is the recorded outcome of one stage.
type StageResult struct {
	Name         string            `json:"name"`
	Status       StageStatus       `json:"status"`
	Reason       string            `json:"reason,omitempty"`
	Steps        []StepResult      `json:"steps,omitempty"`
	MatrixValues map[string]string `json:"matrix_values,omitempty"`
	Cached       bool              `json:"cached,omitempty"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
	// FingerprintInputs lists what went into the fingerprint, for
	// diagnosing unexpected result-cache hits and misses.
	FingerprintInputs []string       `json:"fingerprint_inputs,omitempty"`
	Restores          []CacheRestore `json:"restores,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	CompletedAt       time.Time      `json:"completed_at"`
}

// Duration is the stage's wall-clock time.
func (r *StageResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// StepResult finds a recorded step result by name.
func (r *StageResult) StepResult(name string) (*StepResult, bool) {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// CacheRestore records the outcome of one cache restore attempt.
// EffectiveKey is the key that actually hit, which differs from Key when a
// restore-key prefix matched.
type CacheRestore struct {
	Key          string `json:"key"`
	EffectiveKey string `json:"effective_key,omitempty"`
	Hit          bool   `json:"hit"`
}

// StepResult is the recorded outcome of one step. Stdout and stderr are
// captured with secret values already masked.
type StepResult struct {
	Name         string      `json:"name"`
	Status       StepStatus  `json:"status"`
	Reason       string      `json:"reason,omitempty"`
	ExitCode     int         `json:"exit_code"`
	Stdout       string      `json:"stdout,omitempty"`
	Stderr       string      `json:"stderr,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	TimedOut     bool        `json:"timed_out,omitempty"`
	DurationMs   int64       `json:"duration_ms"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  time.Time   `json:"completed_at"`
}

// Artifact is the metadata of one collected build output file.
type Artifact struct {
	ID          string    `json:"id"`
	BuildID     string    `json:"build_id"`
	FileName    string    `json:"file_name"`
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeriveStageStatus folds step results into a stage status: aborted if any
// step aborted, else failure if any step failed, else skipped if every
// step was skipped, else success.
func DeriveStageStatus(steps []StepResult) StageStatus {
	if len(steps) == 0 {
		return StageStatusSkipped
	}
	allSkipped := true
	sawFailure := false
	for _, s := range steps {
		switch s.Status {
		case StepStatusAborted:
			return StageStatusAborted
		case StepStatusFailure:
			sawFailure = true
			allSkipped = false
		case StepStatusSuccess:
			allSkipped = false
		}
	}
	if sawFailure {
		return StageStatusFailure
	}
	if allSkipped {
		return StageStatusSkipped
	}
	return StageStatusSuccess
}

// DeriveBuildStatus folds stage results into a terminal build status:
// aborted if any stage aborted, else failure if any stage failed, else
// success. Post-action outcomes are not part of the derivation.
func DeriveBuildStatus(stages []StageResult) BuildStatus {
	status := BuildStatusSuccess
	for _, s := range stages {
		switch s.Status {
		case StageStatusAborted:
			return BuildStatusAborted
		case StageStatusFailure:
			status = BuildStatusFailure
		}
	}
	return status
}
