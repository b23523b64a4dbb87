package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store/memory"
)

func testBuild() *models.Build {
	return &models.Build{
		ID:      "b-1",
		Org:     "acme",
		JobName: "deploy",
		Params:  map[string]string{"env": "staging", "confirm": "yes"},
		Git: &models.GitInfo{
			Branch: "release/1.2",
			Author: "dev@example.com",
		},
	}
}

// newEngine seeds a policy store and pins the clock to a Wednesday 14:00
// UTC so time-window tests are deterministic.
func newEngine(t *testing.T, policies ...*models.Policy) *Engine {
	t.Helper()
	s := memory.NewPolicies()
	for _, p := range policies {
		require.NoError(t, s.Put(context.Background(), p))
	}
	e := NewEngine(s)
	e.now = func() time.Time {
		return time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC)
	}
	return e
}

func TestEvaluateNoPoliciesAllows(t *testing.T) {
	e := newEngine(t)

	decision := e.Evaluate(context.Background(), testBuild(), "Deploy")

	assert.True(t, decision.Allowed)
	assert.Nil(t, decision.Override)
}

func TestEvaluateBranchRestriction(t *testing.T) {
	tests := []struct {
		name     string
		branches []string
		action   models.PolicyAction
		branch   string
		allowed  bool
	}{
		{"allow with match", []string{"main", "release/*"}, models.PolicyActionAllow, "release/1.2", true},
		{"allow without match", []string{"main"}, models.PolicyActionAllow, "release/1.2", false},
		{"star does not span separator", []string{"release/*"}, models.PolicyActionAllow, "release/1/2", false},
		{"double star spans separator", []string{"release/**"}, models.PolicyActionAllow, "release/1/2", true},
		{"deny with match", []string{"release/*"}, models.PolicyActionDeny, "release/1.2", false},
		{"deny without match", []string{"experimental/*"}, models.PolicyActionDeny, "release/1.2", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, &models.Policy{
				ID:      "p-1",
				Org:     "acme",
				Name:    "branch-gate",
				Kind:    models.PolicyBranchRestriction,
				Enabled: true,
				Rule:    models.PolicyRule{Branches: tt.branches, Action: tt.action},
			})
			build := testBuild()
			build.Git.Branch = tt.branch

			decision := e.Evaluate(context.Background(), build, "Deploy")

			assert.Equal(t, tt.allowed, decision.Allowed)
			if !tt.allowed {
				assert.Equal(t, "branch-gate", decision.DeniedBy)
				assert.NotEmpty(t, decision.Reason)
			}
		})
	}
}

func TestEvaluateBranchRestrictionWithoutGitInfo(t *testing.T) {
	e := newEngine(t, &models.Policy{
		ID:      "p-1",
		Org:     "acme",
		Name:    "branch-gate",
		Kind:    models.PolicyBranchRestriction,
		Enabled: true,
		Rule:    models.PolicyRule{Branches: []string{"main"}, Action: models.PolicyActionAllow},
	})
	build := testBuild()
	build.Git = nil

	decision := e.Evaluate(context.Background(), build, "Deploy")

	assert.False(t, decision.Allowed, "no branch cannot satisfy an allow list")
}

func TestEvaluateAuthorRestriction(t *testing.T) {
	e := newEngine(t, &models.Policy{
		ID:      "p-1",
		Org:     "acme",
		Name:    "author-gate",
		Kind:    models.PolicyAuthorRestriction,
		Enabled: true,
		Rule:    models.PolicyRule{Authors: []string{"*@example.com"}, Action: models.PolicyActionAllow},
	})

	decision := e.Evaluate(context.Background(), testBuild(), "Deploy")
	assert.True(t, decision.Allowed)

	build := testBuild()
	build.Git.Author = "someone@evil.net"
	decision = e.Evaluate(context.Background(), build, "Deploy")
	assert.False(t, decision.Allowed)
}

func TestEvaluateTimeWindow(t *testing.T) {
	// Engine clock is Wednesday 14:00 UTC.
	tests := []struct {
		name    string
		rule    models.PolicyRule
		allowed bool
	}{
		{
			name:    "allow-only inside window",
			rule:    models.PolicyRule{Days: []string{"MON", "WED", "FRI"}, StartHour: 9, EndHour: 17, Action: models.PolicyActionAllowOnly},
			allowed: true,
		},
		{
			name:    "allow-only outside hours",
			rule:    models.PolicyRule{Days: []string{"WED"}, StartHour: 15, EndHour: 17, Action: models.PolicyActionAllowOnly},
			allowed: false,
		},
		{
			name:    "allow-only wrong day",
			rule:    models.PolicyRule{Days: []string{"SAT", "SUN"}, StartHour: 0, EndHour: 24, Action: models.PolicyActionAllowOnly},
			allowed: false,
		},
		{
			name:    "deny-during inside window",
			rule:    models.PolicyRule{Days: []string{"WED"}, StartHour: 12, EndHour: 18, Action: models.PolicyActionDenyDuring},
			allowed: false,
		},
		{
			name:    "deny-during outside window",
			rule:    models.PolicyRule{Days: []string{"WED"}, StartHour: 0, EndHour: 6, Action: models.PolicyActionDenyDuring},
			allowed: true,
		},
		{
			name:    "end hour is exclusive",
			rule:    models.PolicyRule{Days: []string{"WED"}, StartHour: 9, EndHour: 14, Action: models.PolicyActionAllowOnly},
			allowed: false,
		},
		{
			name:    "window wrapping midnight",
			rule:    models.PolicyRule{Days: []string{"WED"}, StartHour: 22, EndHour: 15, Action: models.PolicyActionAllowOnly},
			allowed: true,
		},
		{
			name:    "full day names accepted",
			rule:    models.PolicyRule{Days: []string{"Wednesday"}, StartHour: 0, EndHour: 24, Action: models.PolicyActionAllowOnly},
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, &models.Policy{
				ID:      "p-1",
				Org:     "acme",
				Name:    "window",
				Kind:    models.PolicyTimeWindow,
				Enabled: true,
				Rule:    tt.rule,
			})

			decision := e.Evaluate(context.Background(), testBuild(), "Deploy")
			assert.Equal(t, tt.allowed, decision.Allowed)
		})
	}
}

func TestEvaluateTimeWindowHonorsTimezone(t *testing.T) {
	// 14:00 UTC on 2025-03-12 is 10:00 in New York (UTC-4 after the
	// March 9 DST switch), inside the 09:00-12:00 window.
	e := newEngine(t, &models.Policy{
		ID:      "p-1",
		Org:     "acme",
		Name:    "ny-hours",
		Kind:    models.PolicyTimeWindow,
		Enabled: true,
		Rule: models.PolicyRule{
			Timezone:  "America/New_York",
			Days:      []string{"WED"},
			StartHour: 9,
			EndHour:   12,
			Action:    models.PolicyActionAllowOnly,
		},
	})

	decision := e.Evaluate(context.Background(), testBuild(), "Deploy")
	assert.True(t, decision.Allowed)
}

func TestEvaluateParameterRestriction(t *testing.T) {
	tests := []struct {
		name    string
		rule    models.PolicyRule
		allowed bool
	}{
		{
			name:    "deny equals match",
			rule:    models.PolicyRule{Parameter: "env", Operator: models.ParamOpEquals, Value: "staging", Action: models.PolicyActionDeny},
			allowed: false,
		},
		{
			name:    "deny equals mismatch",
			rule:    models.PolicyRule{Parameter: "env", Operator: models.ParamOpEquals, Value: "prod", Action: models.PolicyActionDeny},
			allowed: true,
		},
		{
			name:    "allow requires exists",
			rule:    models.PolicyRule{Parameter: "ticket", Operator: models.ParamOpExists, Action: models.PolicyActionAllow},
			allowed: false,
		},
		{
			name:    "not-exists matches missing",
			rule:    models.PolicyRule{Parameter: "ticket", Operator: models.ParamOpNotExists, Action: models.PolicyActionAllow},
			allowed: true,
		},
		{
			name:    "contains",
			rule:    models.PolicyRule{Parameter: "env", Operator: models.ParamOpContains, Value: "stag", Action: models.PolicyActionDeny},
			allowed: false,
		},
		{
			name:    "not-equals on missing parameter matches",
			rule:    models.PolicyRule{Parameter: "ticket", Operator: models.ParamOpNotEquals, Value: "x", Action: models.PolicyActionDeny},
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, &models.Policy{
				ID:      "p-1",
				Org:     "acme",
				Name:    "param-gate",
				Kind:    models.PolicyParameterRestriction,
				Enabled: true,
				Rule:    tt.rule,
			})

			decision := e.Evaluate(context.Background(), testBuild(), "Deploy")
			assert.Equal(t, tt.allowed, decision.Allowed)
		})
	}
}

func TestEvaluateRequiredApprovalOverride(t *testing.T) {
	e := newEngine(t,
		&models.Policy{
			ID:      "p-1",
			Org:     "acme",
			Name:    "prod-approvals",
			Kind:    models.PolicyRequiredApproval,
			Enabled: true,
			Rule:    models.PolicyRule{Stages: []string{"Deploy*"}, MinApprovals: 2, ApproverGroup: "release-managers"},
		},
		&models.Policy{
			ID:      "p-2",
			Org:     "acme",
			Name:    "security-approvals",
			Kind:    models.PolicyRequiredApproval,
			Enabled: true,
			Rule:    models.PolicyRule{Stages: []string{"**"}, MinApprovals: 1, ApproverGroup: "security"},
		},
	)

	decision := e.Evaluate(context.Background(), testBuild(), "Deploy to prod")

	require.True(t, decision.Allowed)
	require.NotNil(t, decision.Override)
	assert.Equal(t, 2, decision.Override.MinApprovals, "strictest wins")
	assert.Equal(t, []string{"release-managers", "security"}, decision.Override.ApproverGroups, "groups union, sorted")

	// A stage matching only the catch-all gets just that override.
	decision = e.Evaluate(context.Background(), testBuild(), "Build")
	require.True(t, decision.Allowed)
	require.NotNil(t, decision.Override)
	assert.Equal(t, 1, decision.Override.MinApprovals)
	assert.Equal(t, []string{"security"}, decision.Override.ApproverGroups)
}

func TestEvaluateFirstDenyWinsByPriority(t *testing.T) {
	e := newEngine(t,
		&models.Policy{
			ID:       "p-low",
			Org:      "acme",
			Name:     "low-priority-deny",
			Kind:     models.PolicyBranchRestriction,
			Enabled:  true,
			Priority: 1,
			Rule:     models.PolicyRule{Branches: []string{"**"}, Action: models.PolicyActionDeny},
		},
		&models.Policy{
			ID:       "p-high",
			Org:      "acme",
			Name:     "high-priority-deny",
			Kind:     models.PolicyParameterRestriction,
			Enabled:  true,
			Priority: 10,
			Rule:     models.PolicyRule{Parameter: "env", Operator: models.ParamOpExists, Action: models.PolicyActionDeny},
		},
	)

	decision := e.Evaluate(context.Background(), testBuild(), "Deploy")

	assert.False(t, decision.Allowed)
	assert.Equal(t, "high-priority-deny", decision.DeniedBy, "higher priority evaluates first")
}

func TestEvaluateIgnoresOtherOrgsAndDisabled(t *testing.T) {
	e := newEngine(t,
		&models.Policy{
			ID:      "p-other",
			Org:     "globex",
			Name:    "other-org",
			Kind:    models.PolicyBranchRestriction,
			Enabled: true,
			Rule:    models.PolicyRule{Branches: []string{"**"}, Action: models.PolicyActionDeny},
		},
		&models.Policy{
			ID:      "p-off",
			Org:     "acme",
			Name:    "disabled",
			Kind:    models.PolicyBranchRestriction,
			Enabled: false,
			Rule:    models.PolicyRule{Branches: []string{"**"}, Action: models.PolicyActionDeny},
		},
	)

	decision := e.Evaluate(context.Background(), testBuild(), "Deploy")
	assert.True(t, decision.Allowed)
}

type failingPolicies struct{}

func (failingPolicies) Put(context.Context, *models.Policy) error { return nil }
func (failingPolicies) Delete(context.Context, string) error      { return nil }
func (failingPolicies) ListEnabled(context.Context, string) ([]*models.Policy, error) {
	return nil, errors.New("connection refused")
}

func TestEvaluateFailsClosedOnStoreError(t *testing.T) {
	e := NewEngine(failingPolicies{})

	decision := e.Evaluate(context.Background(), testBuild(), "Deploy")

	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "policy lookup failed")
}

func TestEvaluateFailsClosedOnBadRule(t *testing.T) {
	e := newEngine(t, &models.Policy{
		ID:      "p-1",
		Org:     "acme",
		Name:    "bad-window",
		Kind:    models.PolicyTimeWindow,
		Enabled: true,
		Rule:    models.PolicyRule{Timezone: "Mars/Olympus", Days: []string{"MON"}, Action: models.PolicyActionAllowOnly},
	})

	decision := e.Evaluate(context.Background(), testBuild(), "Deploy")

	assert.False(t, decision.Allowed)
	assert.Equal(t, "bad-window", decision.DeniedBy)
	assert.Contains(t, decision.Reason, "evaluation failed")
}
