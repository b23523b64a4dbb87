package models

import "time"

// ApprovalGate is a persisted request for human sign-off before a stage
// runs. Gates resolve exactly once: approved, rejected, or timed-out.
type ApprovalGate struct {
	ID             string     `json:"id"`
	BuildID        string     `json:"build_id"`
	Org            string     `json:"org"`
	JobName        string     `json:"job_name"`
	Stage          string     `json:"stage"`
	Message        string     `json:"message,omitempty"`
	RequiredRole   string     `json:"required_role,omitempty"`
	ApproverGroups []string   `json:"approver_groups,omitempty"`
	MinApprovals   int        `json:"min_approvals"`
	TimeoutMinutes int        `json:"timeout_minutes"`
	Status         GateStatus `json:"status"`
	Approvals      []Approval `json:"approvals,omitempty"`
	RejectedBy     string     `json:"rejected_by,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Approval is one recorded sign-off on a gate.
type Approval struct {
	User string    `json:"user"`
	At   time.Time `json:"at"`
}

// ApprovedBy lists the users who approved the gate, in approval order.
func (g *ApprovalGate) ApprovedBy() []string {
	users := make([]string, 0, len(g.Approvals))
	for _, a := range g.Approvals {
		users = append(users, a.User)
	}
	return users
}

// HasApproval reports whether the user already approved the gate.
func (g *ApprovalGate) HasApproval(user string) bool {
	for _, a := range g.Approvals {
		if a.User == user {
			return true
		}
	}
	return false
}

// Timeout is the gate's wait budget. A zero budget times out on the first
// waiter poll.
func (g *ApprovalGate) Timeout() time.Duration {
	return time.Duration(g.TimeoutMinutes) * time.Minute
}
