package models

// Pipeline is an immutable description of what a build should do. It is
// copied by value into each Build so that later edits to the registered
// pipeline never affect builds already in flight.
type Pipeline struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Source      *GitSource        `yaml:"source,omitempty" json:"source,omitempty"`
	Params      map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	Stages      []Stage           `yaml:"stages" json:"stages"`
	Matrix      *MatrixSpec       `yaml:"matrix,omitempty" json:"matrix,omitempty"`
	Container   *ContainerSpec    `yaml:"container,omitempty" json:"container,omitempty"`
	Artifacts   []string          `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	Notify      []NotifyTarget    `yaml:"notify,omitempty" json:"notify,omitempty"`
	PostActions *PostActions      `yaml:"post-actions,omitempty" json:"post_actions,omitempty"`
}

// Stage is an ordered group of steps. Stages run sequentially by default;
// declaring depends-on edges switches the build into DAG mode when the
// parallel-stages feature is enabled.
type Stage struct {
	Name      string         `yaml:"name" json:"name"`
	Steps     []Step         `yaml:"steps" json:"steps"`
	Parallel  bool           `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Condition *Condition     `yaml:"condition,omitempty" json:"condition,omitempty"`
	DependsOn []string       `yaml:"depends-on,omitempty" json:"depends_on,omitempty"`
	Container *ContainerSpec `yaml:"container,omitempty" json:"container,omitempty"`
	Caches    []CacheSpec    `yaml:"caches,omitempty" json:"caches,omitempty"`
	Approval  *ApprovalSpec  `yaml:"approval,omitempty" json:"approval,omitempty"`
}

// Step is a single unit of work inside a stage.
//
// Shell steps carry a command; container steps carry a container spec and
// an optional command to run inside the image. An empty kind means shell.
type Step struct {
	Name           string            `yaml:"name" json:"name"`
	Kind           StepKind          `yaml:"kind,omitempty" json:"kind,omitempty"`
	Command        string            `yaml:"command,omitempty" json:"command,omitempty"`
	TimeoutSeconds int               `yaml:"timeout-seconds,omitempty" json:"timeout_seconds,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	WorkDir        string            `yaml:"work-dir,omitempty" json:"work_dir,omitempty"`
	Container      *ContainerSpec    `yaml:"container,omitempty" json:"container,omitempty"`
	Condition      *Condition        `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// EffectiveKind resolves the step kind, defaulting to shell.
func (s Step) EffectiveKind() StepKind {
	if s.Kind == "" {
		return StepKindShell
	}
	return s.Kind
}

// Condition guards execution of a stage or step. A nil condition always
// passes.
type Condition struct {
	Kind      ConditionKind `yaml:"kind" json:"kind"`
	Parameter string        `yaml:"parameter,omitempty" json:"parameter,omitempty"`
	Value     string        `yaml:"value,omitempty" json:"value,omitempty"`
}

// MatrixSpec declares the axes a pipeline's stages are expanded over, plus
// combinations to exclude. An exclusion matches a combination when every
// dimension it names carries the listed value.
type MatrixSpec struct {
	Dimensions map[string][]string `yaml:"dimensions" json:"dimensions"`
	Exclude    []map[string]string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// ContainerSpec describes the container a step runs in, either directly
// (container steps) or as an overlay wrapping shell steps.
type ContainerSpec struct {
	Image      string        `yaml:"image" json:"image"`
	Volumes    []VolumeMount `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	WorkDir    string        `yaml:"work-dir,omitempty" json:"work_dir,omitempty"`
	Network    string        `yaml:"network,omitempty" json:"network,omitempty"`
	PullPolicy string        `yaml:"pull-policy,omitempty" json:"pull_policy,omitempty"`
	ExtraArgs  []string      `yaml:"extra-args,omitempty" json:"extra_args,omitempty"`
}

// VolumeMount mounts a named cache volume into a container step.
type VolumeMount struct {
	Name      string `yaml:"name" json:"name"`
	MountPath string `yaml:"mount-path" json:"mount_path"`
}

// CacheSpec declares one dependency cache used by a stage. Key is a
// template that may contain {{ hashFiles('<path>') }} expressions; restore
// keys are prefixes tried in order when the exact key misses.
type CacheSpec struct {
	Key         string   `yaml:"key" json:"key"`
	Paths       []string `yaml:"paths" json:"paths"`
	RestoreKeys []string `yaml:"restore-keys,omitempty" json:"restore_keys,omitempty"`
}

// ApprovalSpec declares that a stage must be approved before running.
type ApprovalSpec struct {
	Message        string `yaml:"message,omitempty" json:"message,omitempty"`
	RequiredRole   string `yaml:"required-role,omitempty" json:"required_role,omitempty"`
	ApproverGroup  string `yaml:"approver-group,omitempty" json:"approver_group,omitempty"`
	MinApprovals   int    `yaml:"min-approvals,omitempty" json:"min_approvals,omitempty"`
	TimeoutMinutes int    `yaml:"timeout-minutes" json:"timeout_minutes"`
}

// PostActions are steps that run after the stages finish. The always group
// runs unconditionally; exactly one of the conditional groups runs,
// matching the final build status. Post-action failures never change the
// build status.
type PostActions struct {
	Always    []Step `yaml:"always,omitempty" json:"always,omitempty"`
	OnSuccess []Step `yaml:"on-success,omitempty" json:"on_success,omitempty"`
	OnFailure []Step `yaml:"on-failure,omitempty" json:"on_failure,omitempty"`
}

// Empty reports whether no post-action group declares any steps.
func (p *PostActions) Empty() bool {
	return p == nil || (len(p.Always) == 0 && len(p.OnSuccess) == 0 && len(p.OnFailure) == 0)
}

// NotifyTarget names a notifier plug-in and its destination, e.g. kind
// "slack" with target "#builds". Dispatch is best-effort on completion.
type NotifyTarget struct {
	Kind   string `yaml:"kind" json:"kind"`
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
}

// GitSource binds a pipeline to a git repository to check out before the
// stages run.
type GitSource struct {
	URL      string `yaml:"url" json:"url"`
	Branch   string `yaml:"branch,omitempty" json:"branch,omitempty"`
	Commit   string `yaml:"commit,omitempty" json:"commit,omitempty"`
	Depth    int    `yaml:"depth,omitempty" json:"depth,omitempty"`
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
}

// Job is a registered, runnable unit: a named pipeline owned by an org.
type Job struct {
	Name     string            `yaml:"name" json:"name"`
	Org      string            `yaml:"org" json:"org"`
	Pipeline Pipeline          `yaml:"pipeline" json:"pipeline"`
	Params   map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	Disabled bool              `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}
