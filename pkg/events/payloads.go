package events

// BuildPayload rides on build-queued, build-started, build-completed, and
// build-cancelled events.
type BuildPayload struct {
	Org     string `json:"org"`
	Job     string `json:"job"`
	Number  int64  `json:"number"`
	Trigger string `json:"trigger,omitempty"`
	Status  string `json:"status,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// StagePayload rides on the stage-* events.
type StagePayload struct {
	Stage       string `json:"stage"`
	Status      string `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
}

// StepPayload rides on step-started and step-completed.
type StepPayload struct {
	Stage      string `json:"stage"`
	Step       string `json:"step"`
	Status     string `json:"status,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// GitPayload rides on git-started, git-completed, and git-failed.
type GitPayload struct {
	URL    string `json:"url,omitempty"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ApprovalPayload rides on approval-requested.
type ApprovalPayload struct {
	GateID         string   `json:"gate_id"`
	Stage          string   `json:"stage"`
	Message        string   `json:"message,omitempty"`
	RequiredRole   string   `json:"required_role,omitempty"`
	ApproverGroups []string `json:"approver_groups,omitempty"`
	MinApprovals   int      `json:"min_approvals"`
	TimeoutMinutes int      `json:"timeout_minutes"`
}
