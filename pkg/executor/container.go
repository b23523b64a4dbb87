package executor

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/plugin"
	"github.com/kiln-ci/kiln/pkg/process"
)

// defaultContainerWorkDir is where the workspace is bind-mounted when the
// container spec declares no work dir.
const defaultContainerWorkDir = "/workspace"

// volumeNamePattern and networkPattern bound what reaches the container
// runtime command line. Everything else is single-quoted, so these are the
// only values that need their own validation.
var (
	volumeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
	networkPattern    = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
)

// ContainerExecutor materializes container steps as container-run
// invocations through the process collaborator. The image reference is
// validated before anything runs; a pull failure surfaces as a non-zero
// exit and therefore a step failure.
type ContainerExecutor struct {
	processes process.Executor
	runtime   string
}

var _ plugin.StepExecutor = (*ContainerExecutor)(nil)

// NewContainerExecutor creates a container step executor driving the
// given runtime binary; empty means docker.
func NewContainerExecutor(processes process.Executor, runtime string) *ContainerExecutor {
	if runtime == "" {
		runtime = "docker"
	}
	return &ContainerExecutor{processes: processes, runtime: runtime}
}

// Kind returns the step kind this executor serves.
func (e *ContainerExecutor) Kind() models.StepKind {
	return models.StepKindContainer
}

// Execute builds and runs the container invocation for one step.
func (e *ContainerExecutor) Execute(ctx context.Context, req plugin.StepRequest) (*process.Result, error) {
	invocation, err := containerInvocation(e.runtime, req)
	if err != nil {
		return nil, err
	}
	return e.processes.Execute(ctx, process.Request{
		Command:    invocation,
		Dir:        req.Workspace,
		Timeout:    req.Timeout,
		MaskValues: req.MaskValues,
	})
}

// containerInvocation renders the full run command: validated image,
// workspace bind-mount at the work dir, validated cache volumes, merged
// env, then the step command under sh -c. Every interpolated value is
// single-quoted.
func containerInvocation(runtime string, req plugin.StepRequest) (string, error) {
	spec := req.Container
	if spec == nil {
		return "", fmt.Errorf("container step %q has no container spec", req.Step.Name)
	}
	if _, err := name.ParseReference(spec.Image); err != nil {
		return "", fmt.Errorf("invalid container image %q: %w", spec.Image, err)
	}

	workDir := spec.WorkDir
	if workDir == "" {
		workDir = defaultContainerWorkDir
	}
	if err := validMountPath(workDir); err != nil {
		return "", fmt.Errorf("container work dir: %w", err)
	}

	args := []string{runtime, "run", "--rm"}
	args = append(args, "-v", shellQuote(req.Workspace+":"+workDir))
	args = append(args, "-w", shellQuote(workDir))

	for _, vol := range spec.Volumes {
		if !volumeNamePattern.MatchString(vol.Name) {
			return "", fmt.Errorf("invalid cache volume name %q", vol.Name)
		}
		if err := validMountPath(vol.MountPath); err != nil {
			return "", fmt.Errorf("cache volume %q: %w", vol.Name, err)
		}
		args = append(args, "-v", shellQuote(vol.Name+":"+vol.MountPath))
	}

	if spec.Network != "" {
		if !networkPattern.MatchString(spec.Network) {
			return "", fmt.Errorf("invalid container network %q", spec.Network)
		}
		args = append(args, "--network", spec.Network)
	}

	switch spec.PullPolicy {
	case "":
	case "always", "missing", "never":
		args = append(args, "--pull", spec.PullPolicy)
	default:
		return "", fmt.Errorf("invalid pull policy %q", spec.PullPolicy)
	}

	for _, key := range sortedKeys(req.Env) {
		args = append(args, "-e", shellQuote(key+"="+req.Env[key]))
	}

	args = append(args, spec.ExtraArgs...)
	args = append(args, shellQuote(spec.Image))

	if cmd := strings.TrimSpace(req.Step.Command); cmd != "" {
		args = append(args, "sh", "-c", shellQuote(cmd))
	}
	return strings.Join(args, " "), nil
}

// validMountPath requires an absolute path without any .. segment.
func validMountPath(p string) error {
	if !path.IsAbs(p) {
		return fmt.Errorf("mount path %q must be absolute", p)
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return fmt.Errorf("mount path %q must not contain ..", p)
		}
	}
	return nil
}

// shellQuote single-quotes a value for /bin/sh, escaping embedded quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
