package executor

import (
	"github.com/kiln-ci/kiln/pkg/models"
)

// conditionMet evaluates a stage or step condition against the build. A
// nil condition and the always kind both pass; an unknown kind fails
// closed so a typo never silently runs a guarded step.
func conditionMet(cond *models.Condition, build *models.Build) bool {
	if cond == nil {
		return true
	}
	switch cond.Kind {
	case models.ConditionAlways:
		return true
	case models.ConditionBranchEquals:
		if build.Git == nil {
			return false
		}
		return build.Git.Branch == cond.Value
	case models.ConditionParameterEquals:
		return build.Params[cond.Parameter] == cond.Value
	default:
		return false
	}
}
