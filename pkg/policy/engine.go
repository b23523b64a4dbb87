// Package policy evaluates org-scoped governance rules before each stage.
// Policies run highest priority first; the first deny ends the build's
// stage, and required-approval matches accumulate into a single folded
// override instead of denying.
package policy

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

// Decision is the outcome of evaluating every enabled policy for one
// stage entry.
type Decision struct {
	Allowed bool
	// DeniedBy names the policy behind a denial.
	DeniedBy string
	Reason   string
	// Override carries folded required-approval amplification: the
	// strictest min-approvals and the union of approver groups.
	Override *models.ApprovalOverride
}

// Engine evaluates policies loaded from the store.
type Engine struct {
	policies store.Policies
	now      func() time.Time
}

// NewEngine creates a policy engine.
func NewEngine(policies store.Policies) *Engine {
	return &Engine{policies: policies, now: time.Now}
}

// Evaluate runs every enabled policy for the build's org against one
// stage. A store failure denies: governance must not silently disappear
// when persistence is down.
func (e *Engine) Evaluate(ctx context.Context, build *models.Build, stageName string) Decision {
	logger := logctx.From(ctx)

	policies, err := e.policies.ListEnabled(ctx, build.Org)
	if err != nil {
		logger.Error("Failed to load policies, denying stage",
			"org", build.Org,
			"stage", stageName,
			"error", err)
		return Decision{Allowed: false, Reason: fmt.Sprintf("policy lookup failed: %v", err)}
	}

	var override *models.ApprovalOverride
	for _, p := range policies {
		allowed, reason, ov, err := e.evaluateOne(p, build, stageName)
		if err != nil {
			logger.Error("Policy evaluation failed, denying stage",
				"policy", p.Name,
				"kind", string(p.Kind),
				"build_id", build.ID,
				"stage", stageName,
				"error", err)
			return Decision{
				Allowed:  false,
				DeniedBy: p.Name,
				Reason:   fmt.Sprintf("policy %q evaluation failed: %v", p.Name, err),
			}
		}

		logger.Info("Evaluated policy",
			"policy", p.Name,
			"kind", string(p.Kind),
			"priority", p.Priority,
			"build_id", build.ID,
			"stage", stageName,
			"allowed", allowed,
			"reason", reason,
			"override", ov != nil)

		if !allowed {
			return Decision{Allowed: false, DeniedBy: p.Name, Reason: reason}
		}
		if ov != nil {
			override = foldOverride(override, ov)
		}
	}

	return Decision{Allowed: true, Override: override}
}

// evaluateOne dispatches on policy kind. It returns whether the stage may
// proceed, a human-readable reason for denials, and any approval override.
func (e *Engine) evaluateOne(p *models.Policy, build *models.Build, stageName string) (bool, string, *models.ApprovalOverride, error) {
	switch p.Kind {
	case models.PolicyBranchRestriction:
		branch := ""
		if build.Git != nil {
			branch = build.Git.Branch
		}
		return evaluateRestriction(p.Rule.Branches, p.Rule.Action, "branch", branch)
	case models.PolicyAuthorRestriction:
		author := ""
		if build.Git != nil {
			author = build.Git.Author
		}
		return evaluateRestriction(p.Rule.Authors, p.Rule.Action, "author", author)
	case models.PolicyTimeWindow:
		return e.evaluateTimeWindow(p.Rule)
	case models.PolicyParameterRestriction:
		return evaluateParameter(p.Rule, build.Params)
	case models.PolicyRequiredApproval:
		return evaluateRequiredApproval(p.Rule, stageName)
	default:
		return false, "", nil, fmt.Errorf("unknown policy kind %q", p.Kind)
	}
}

// evaluateRestriction implements the shared branch/author semantics:
// allow requires some pattern to match, deny fires when any pattern
// matches.
func evaluateRestriction(patterns []string, action models.PolicyAction, subject, value string) (bool, string, *models.ApprovalOverride, error) {
	matched, pattern, err := matchAny(patterns, value)
	if err != nil {
		return false, "", nil, err
	}

	switch action {
	case models.PolicyActionAllow:
		if !matched {
			return false, fmt.Sprintf("%s %q is not in the allowed list", subject, value), nil, nil
		}
		return true, "", nil, nil
	case models.PolicyActionDeny:
		if matched {
			return false, fmt.Sprintf("%s %q is denied by pattern %q", subject, value, pattern), nil, nil
		}
		return true, "", nil, nil
	default:
		return false, "", nil, fmt.Errorf("invalid action %q for %s restriction", action, subject)
	}
}

func (e *Engine) evaluateTimeWindow(rule models.PolicyRule) (bool, string, *models.ApprovalOverride, error) {
	loc := time.UTC
	if rule.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(rule.Timezone)
		if err != nil {
			return false, "", nil, fmt.Errorf("invalid timezone %q: %w", rule.Timezone, err)
		}
	}

	now := e.now().In(loc)
	inDays, err := dayMatches(rule.Days, now.Weekday())
	if err != nil {
		return false, "", nil, err
	}
	inside := inDays && hourInWindow(now.Hour(), rule.StartHour, rule.EndHour)

	switch rule.Action {
	case models.PolicyActionAllowOnly:
		if !inside {
			return false, fmt.Sprintf("outside allowed time window (%s %02d:00-%02d:00 %s)",
				strings.Join(rule.Days, ","), rule.StartHour, rule.EndHour, loc), nil, nil
		}
		return true, "", nil, nil
	case models.PolicyActionDenyDuring:
		if inside {
			return false, fmt.Sprintf("inside denied time window (%s %02d:00-%02d:00 %s)",
				strings.Join(rule.Days, ","), rule.StartHour, rule.EndHour, loc), nil, nil
		}
		return true, "", nil, nil
	default:
		return false, "", nil, fmt.Errorf("invalid action %q for time window", rule.Action)
	}
}

func evaluateParameter(rule models.PolicyRule, params map[string]string) (bool, string, *models.ApprovalOverride, error) {
	value, exists := params[rule.Parameter]

	var matched bool
	switch rule.Operator {
	case models.ParamOpEquals:
		matched = exists && value == rule.Value
	case models.ParamOpNotEquals:
		matched = !exists || value != rule.Value
	case models.ParamOpContains:
		matched = exists && strings.Contains(value, rule.Value)
	case models.ParamOpExists:
		matched = exists
	case models.ParamOpNotExists:
		matched = !exists
	default:
		return false, "", nil, fmt.Errorf("invalid parameter operator %q", rule.Operator)
	}

	switch rule.Action {
	case models.PolicyActionAllow:
		if !matched {
			return false, fmt.Sprintf("parameter %q does not satisfy %s check", rule.Parameter, rule.Operator), nil, nil
		}
		return true, "", nil, nil
	case models.PolicyActionDeny:
		if matched {
			return false, fmt.Sprintf("parameter %q matches denied %s check", rule.Parameter, rule.Operator), nil, nil
		}
		return true, "", nil, nil
	default:
		return false, "", nil, fmt.Errorf("invalid action %q for parameter restriction", rule.Action)
	}
}

// evaluateRequiredApproval returns an override when the stage matches; it
// never denies.
func evaluateRequiredApproval(rule models.PolicyRule, stageName string) (bool, string, *models.ApprovalOverride, error) {
	matched, _, err := matchAny(rule.Stages, stageName)
	if err != nil {
		return false, "", nil, err
	}
	if !matched {
		return true, "", nil, nil
	}

	override := &models.ApprovalOverride{MinApprovals: rule.MinApprovals}
	if rule.ApproverGroup != "" {
		override.ApproverGroups = []string{rule.ApproverGroup}
	}
	return true, "", override, nil
}

// matchAny matches a value against glob patterns: `*` spans anything but
// `/`, `**` spans everything.
func matchAny(patterns []string, value string) (bool, string, error) {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, value)
		if err != nil {
			return false, "", fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if ok {
			return true, pattern, nil
		}
	}
	return false, "", nil
}

var dayNames = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// dayMatches checks weekday membership against MON..SUN day names; longer
// spellings are accepted by their first three letters.
func dayMatches(days []string, weekday time.Weekday) (bool, error) {
	for _, day := range days {
		name := strings.ToUpper(strings.TrimSpace(day))
		if len(name) > 3 {
			name = name[:3]
		}
		wd, ok := dayNames[name]
		if !ok {
			return false, fmt.Errorf("invalid day %q", day)
		}
		if wd == weekday {
			return true, nil
		}
	}
	return false, nil
}

// hourInWindow checks the half-open window [start, end). A window with
// end < start wraps past midnight.
func hourInWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// foldOverride merges one required-approval override into the
// accumulated result: strictest min-approvals, union of groups.
func foldOverride(acc, next *models.ApprovalOverride) *models.ApprovalOverride {
	if acc == nil {
		folded := &models.ApprovalOverride{
			MinApprovals:   next.MinApprovals,
			ApproverGroups: append([]string(nil), next.ApproverGroups...),
		}
		sort.Strings(folded.ApproverGroups)
		return folded
	}

	if next.MinApprovals > acc.MinApprovals {
		acc.MinApprovals = next.MinApprovals
	}
	for _, group := range next.ApproverGroups {
		if !slices.Contains(acc.ApproverGroups, group) {
			acc.ApproverGroups = append(acc.ApproverGroups, group)
		}
	}
	sort.Strings(acc.ApproverGroups)
	return acc
}
