package models

// BuildStatus is the lifecycle status of a build.
//
// In memory the status is always one of these values; persistence adapters
// normalise whatever stringly-typed form they store back into this enum at
// the boundary.
type BuildStatus string

const (
	// BuildStatusQueued means the build record exists but no worker has picked it up.
	BuildStatusQueued BuildStatus = "queued"
	// BuildStatusRunning means a worker is executing the pipeline.
	BuildStatusRunning BuildStatus = "running"
	// BuildStatusSuccess is the terminal status for a build whose stages all succeeded.
	BuildStatusSuccess BuildStatus = "success"
	// BuildStatusFailure is the terminal status for a build with at least one failed stage.
	BuildStatusFailure BuildStatus = "failure"
	// BuildStatusAborted is the terminal status for a cancelled, denied, or dependency-blocked build.
	BuildStatusAborted BuildStatus = "aborted"
	// BuildStatusAwaitingApproval means the build is parked on an approval gate.
	BuildStatusAwaitingApproval BuildStatus = "awaiting-approval"
)

// IsValid checks if the build status is valid.
func (s BuildStatus) IsValid() bool {
	switch s {
	case BuildStatusQueued,
		BuildStatusRunning,
		BuildStatusSuccess,
		BuildStatusFailure,
		BuildStatusAborted,
		BuildStatusAwaitingApproval:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is a terminal build status.
func (s BuildStatus) Terminal() bool {
	return s == BuildStatusSuccess || s == BuildStatusFailure || s == BuildStatusAborted
}

// StageStatus is the outcome of a single stage execution.
type StageStatus string

// Stage status constants.
const (
	StageStatusSuccess StageStatus = "success"
	StageStatusFailure StageStatus = "failure"
	StageStatusAborted StageStatus = "aborted"
	StageStatusSkipped StageStatus = "skipped"
)

// IsValid checks if the stage status is valid.
func (s StageStatus) IsValid() bool {
	return s == StageStatusSuccess || s == StageStatusFailure ||
		s == StageStatusAborted || s == StageStatusSkipped
}

// StepStatus is the outcome of a single step execution.
type StepStatus string

// Step status constants.
const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailure StepStatus = "failure"
	StepStatusAborted StepStatus = "aborted"
	StepStatusSkipped StepStatus = "skipped"
)

// IsValid checks if the step status is valid.
func (s StepStatus) IsValid() bool {
	return s == StepStatusSuccess || s == StepStatusFailure ||
		s == StepStatusAborted || s == StepStatusSkipped
}

// TriggerKind identifies what caused a build.
type TriggerKind string

const (
	// TriggerManual is a user-initiated build.
	TriggerManual TriggerKind = "manual"
	// TriggerCron is a build fired by the scheduler.
	TriggerCron TriggerKind = "cron"
	// TriggerWebhook is a build fired by an SCM webhook.
	TriggerWebhook TriggerKind = "webhook"
	// TriggerUpstream is a build fired by an upstream job's completion.
	TriggerUpstream TriggerKind = "upstream"
)

// IsValid checks if the trigger kind is valid.
func (t TriggerKind) IsValid() bool {
	return t == TriggerManual || t == TriggerCron || t == TriggerWebhook || t == TriggerUpstream
}

// PipelineSource records which pipeline definition a build executed:
// the server-registered one or a workspace-local pipeline-as-code file.
type PipelineSource string

// Pipeline source constants.
const (
	PipelineSourceServer        PipelineSource = "server"
	PipelineSourceWorkspaceEDN  PipelineSource = "workspace-edn"
	PipelineSourceWorkspaceYAML PipelineSource = "workspace-yaml"
)

// IsValid checks if the pipeline source is valid.
func (s PipelineSource) IsValid() bool {
	return s == PipelineSourceServer || s == PipelineSourceWorkspaceEDN || s == PipelineSourceWorkspaceYAML
}

// GateStatus is the lifecycle status of an approval gate.
type GateStatus string

// Gate status constants.
const (
	GateStatusPending  GateStatus = "pending"
	GateStatusApproved GateStatus = "approved"
	GateStatusRejected GateStatus = "rejected"
	GateStatusTimedOut GateStatus = "timed-out"
)

// IsValid checks if the gate status is valid.
func (s GateStatus) IsValid() bool {
	return s == GateStatusPending || s == GateStatusApproved ||
		s == GateStatusRejected || s == GateStatusTimedOut
}

// Resolved reports whether the gate has reached a terminal status.
func (s GateStatus) Resolved() bool {
	return s == GateStatusApproved || s == GateStatusRejected || s == GateStatusTimedOut
}

// PolicyKind identifies the rule family a policy belongs to.
type PolicyKind string

// Policy kind constants.
const (
	PolicyBranchRestriction    PolicyKind = "branch-restriction"
	PolicyRequiredApproval     PolicyKind = "required-approval"
	PolicyAuthorRestriction    PolicyKind = "author-restriction"
	PolicyTimeWindow           PolicyKind = "time-window"
	PolicyParameterRestriction PolicyKind = "parameter-restriction"
)

// IsValid checks if the policy kind is valid.
func (k PolicyKind) IsValid() bool {
	switch k {
	case PolicyBranchRestriction,
		PolicyRequiredApproval,
		PolicyAuthorRestriction,
		PolicyTimeWindow,
		PolicyParameterRestriction:
		return true
	default:
		return false
	}
}

// PolicyAction is what a matching restriction rule does.
type PolicyAction string

// Policy action constants. Allow/Deny apply to pattern rules;
// AllowOnly/DenyDuring apply to time-window rules.
const (
	PolicyActionAllow      PolicyAction = "allow"
	PolicyActionDeny       PolicyAction = "deny"
	PolicyActionAllowOnly  PolicyAction = "allow-only"
	PolicyActionDenyDuring PolicyAction = "deny-during"
)

// ParamOperator is the comparison operator of a parameter-restriction rule.
type ParamOperator string

// Parameter operator constants.
const (
	ParamOpEquals    ParamOperator = "equals"
	ParamOpNotEquals ParamOperator = "not-equals"
	ParamOpContains  ParamOperator = "contains"
	ParamOpExists    ParamOperator = "exists"
	ParamOpNotExists ParamOperator = "not-exists"
)

// IsValid checks if the parameter operator is valid.
func (o ParamOperator) IsValid() bool {
	switch o {
	case ParamOpEquals, ParamOpNotEquals, ParamOpContains, ParamOpExists, ParamOpNotExists:
		return true
	default:
		return false
	}
}

// ConditionKind identifies the variant of a stage/step condition.
type ConditionKind string

// Condition kind constants.
const (
	ConditionBranchEquals    ConditionKind = "branch-equals"
	ConditionParameterEquals ConditionKind = "parameter-equals"
	ConditionAlways          ConditionKind = "always"
)

// IsValid checks if the condition kind is valid.
func (k ConditionKind) IsValid() bool {
	return k == ConditionBranchEquals || k == ConditionParameterEquals || k == ConditionAlways
}

// StepKind selects the executor for a step. Additional kinds may be
// registered through the plug-in registry at startup.
type StepKind string

// Built-in step kinds.
const (
	StepKindShell     StepKind = "shell"
	StepKindContainer StepKind = "container"
)

// IsValid checks if the step kind is valid.
func (k StepKind) IsValid() bool {
	return k == StepKindShell || k == StepKindContainer
}

// CronRunOutcome records what the scheduler did for one due schedule.
type CronRunOutcome string

// Cron run outcome constants.
const (
	CronRunTriggered CronRunOutcome = "triggered"
	CronRunMissed    CronRunOutcome = "missed"
	CronRunError     CronRunOutcome = "error"
)

// IsValid checks if the cron run outcome is valid.
func (o CronRunOutcome) IsValid() bool {
	return o == CronRunTriggered || o == CronRunMissed || o == CronRunError
}
