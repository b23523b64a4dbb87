package models

// Policy is one org-scoped governance rule evaluated before each stage.
// Policies run in priority order (highest first); the first deny wins.
type Policy struct {
	ID       string     `yaml:"id" json:"id"`
	Org      string     `yaml:"org" json:"org"`
	Name     string     `yaml:"name" json:"name"`
	Kind     PolicyKind `yaml:"kind" json:"kind"`
	Enabled  bool       `yaml:"enabled" json:"enabled"`
	Priority int        `yaml:"priority" json:"priority"`
	Rule     PolicyRule `yaml:"rule" json:"rule"`
}

// PolicyRule carries the kind-specific payload. Only the fields matching
// the policy kind are consulted.
type PolicyRule struct {
	// branch-restriction: Branches globs matched against the checked-out
	// branch. author-restriction: Authors matched against the commit
	// author. In both, `*` matches within a path segment and `**` spans
	// segments.
	Branches []string     `yaml:"branches,omitempty" json:"branches,omitempty"`
	Authors  []string     `yaml:"authors,omitempty" json:"authors,omitempty"`
	Action   PolicyAction `yaml:"action,omitempty" json:"action,omitempty"`

	// time-window: Days are MON..SUN; hours form a half-open local-time
	// window [StartHour, EndHour).
	Timezone  string   `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	Days      []string `yaml:"days,omitempty" json:"days,omitempty"`
	StartHour int      `yaml:"start-hour,omitempty" json:"start_hour,omitempty"`
	EndHour   int      `yaml:"end-hour,omitempty" json:"end_hour,omitempty"`

	// parameter-restriction.
	Parameter string        `yaml:"parameter,omitempty" json:"parameter,omitempty"`
	Operator  ParamOperator `yaml:"operator,omitempty" json:"operator,omitempty"`
	Value     string        `yaml:"value,omitempty" json:"value,omitempty"`

	// required-approval: Stages globs select which stages the override
	// applies to.
	Stages        []string `yaml:"stages,omitempty" json:"stages,omitempty"`
	MinApprovals  int      `yaml:"min-approvals,omitempty" json:"min_approvals,omitempty"`
	ApproverGroup string   `yaml:"approver-group,omitempty" json:"approver_group,omitempty"`
}

// ApprovalOverride is the folded result of required-approval policies
// matching a stage: the strictest minimum and the union of groups.
type ApprovalOverride struct {
	MinApprovals   int      `json:"min_approvals"`
	ApproverGroups []string `json:"approver_groups,omitempty"`
}
