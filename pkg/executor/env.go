package executor

import (
	"strconv"
	"strings"

	"github.com/kiln-ci/kiln/pkg/models"
)

// buildEnv assembles the base environment every step of a build sees:
// build coordinates, git metadata when a checkout happened, PARAM_*
// entries, secrets injected by name, and finally the caller-supplied
// overlay. Matrix entries are stage-scoped and merged in per stage.
func buildEnv(build *models.Build, secretValues, extraEnv map[string]string) map[string]string {
	env := map[string]string{
		"BUILD_ID":     build.ID,
		"BUILD_NUMBER": strconv.FormatInt(build.Number, 10),
		"JOB_NAME":     build.JobName,
		"WORKSPACE":    build.Workspace,
	}
	if git := build.Git; git != nil {
		env["GIT_BRANCH"] = git.Branch
		env["GIT_COMMIT"] = git.Commit
		env["GIT_COMMIT_SHORT"] = git.CommitShort
		env["GIT_AUTHOR"] = git.Author
		env["GIT_MESSAGE"] = git.Message
	}
	for name, value := range build.Params {
		env[paramEnvKey(name)] = value
	}
	for name, value := range secretValues {
		env[name] = value
	}
	for name, value := range extraEnv {
		env[name] = value
	}
	return env
}

// paramEnvKey renders a parameter name as its env entry: upper-cased with
// dashes as underscores, e.g. "deploy-target" becomes PARAM_DEPLOY_TARGET.
func paramEnvKey(name string) string {
	return "PARAM_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// mergeEnv layers overlays over base, later entries winning. Neither input
// is mutated.
func mergeEnv(base map[string]string, overlays ...map[string]string) map[string]string {
	merged := make(map[string]string, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for _, overlay := range overlays {
		for k, v := range overlay {
			merged[k] = v
		}
	}
	return merged
}
