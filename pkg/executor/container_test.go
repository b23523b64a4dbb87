package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/plugin"
)

func containerRequest() plugin.StepRequest {
	return plugin.StepRequest{
		Step:      models.Step{Name: "test", Kind: models.StepKindContainer, Command: "make test"},
		Workspace: "/ws/b1",
		Container: &models.ContainerSpec{Image: "alpine:3.20"},
	}
}

func TestContainerInvocationMinimal(t *testing.T) {
	got, err := containerInvocation("docker", containerRequest())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "docker run --rm "), got)
	assert.Contains(t, got, "-v '/ws/b1:/workspace'")
	assert.Contains(t, got, "-w '/workspace'")
	assert.Contains(t, got, "'alpine:3.20'")
	assert.Contains(t, got, "sh -c 'make test'")
}

func TestContainerInvocationCustomWorkDir(t *testing.T) {
	req := containerRequest()
	req.Container.WorkDir = "/src"

	got, err := containerInvocation("docker", req)
	require.NoError(t, err)

	assert.Contains(t, got, "-v '/ws/b1:/src'")
	assert.Contains(t, got, "-w '/src'")
}

func TestContainerInvocationRejectsBadWorkDir(t *testing.T) {
	for _, dir := range []string{"relative/path", "/src/../../etc"} {
		req := containerRequest()
		req.Container.WorkDir = dir

		_, err := containerInvocation("docker", req)
		assert.Error(t, err, "work dir %q must be rejected", dir)
	}
}

func TestContainerInvocationRejectsInvalidImage(t *testing.T) {
	req := containerRequest()
	req.Container.Image = "registry.example.com/has space:tag"

	_, err := containerInvocation("docker", req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid container image")
}

func TestContainerInvocationRequiresSpec(t *testing.T) {
	req := containerRequest()
	req.Container = nil

	_, err := containerInvocation("docker", req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no container spec")
}

func TestContainerInvocationVolumes(t *testing.T) {
	req := containerRequest()
	req.Container.Volumes = []models.VolumeMount{
		{Name: "go-mod-cache", MountPath: "/go/pkg/mod"},
	}

	got, err := containerInvocation("docker", req)
	require.NoError(t, err)
	assert.Contains(t, got, "-v 'go-mod-cache:/go/pkg/mod'")
}

func TestContainerInvocationRejectsBadVolumes(t *testing.T) {
	tests := []struct {
		name   string
		volume models.VolumeMount
	}{
		{"shell metacharacters in name", models.VolumeMount{Name: "cache;rm -rf /", MountPath: "/cache"}},
		{"leading dash in name", models.VolumeMount{Name: "-cache", MountPath: "/cache"}},
		{"relative mount path", models.VolumeMount{Name: "cache", MountPath: "cache"}},
		{"dotdot mount path", models.VolumeMount{Name: "cache", MountPath: "/cache/../secrets"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := containerRequest()
			req.Container.Volumes = []models.VolumeMount{tt.volume}

			_, err := containerInvocation("docker", req)
			assert.Error(t, err)
		})
	}
}

func TestContainerInvocationNetwork(t *testing.T) {
	req := containerRequest()
	req.Container.Network = "build-net"

	got, err := containerInvocation("docker", req)
	require.NoError(t, err)
	assert.Contains(t, got, "--network build-net")

	req.Container.Network = "net;evil"
	_, err = containerInvocation("docker", req)
	assert.Error(t, err)
}

func TestContainerInvocationPullPolicy(t *testing.T) {
	for _, policy := range []string{"always", "missing", "never"} {
		req := containerRequest()
		req.Container.PullPolicy = policy

		got, err := containerInvocation("docker", req)
		require.NoError(t, err)
		assert.Contains(t, got, "--pull "+policy)
	}

	req := containerRequest()
	req.Container.PullPolicy = "sometimes"
	_, err := containerInvocation("docker", req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pull policy")
}

func TestContainerInvocationEnvSortedAndQuoted(t *testing.T) {
	req := containerRequest()
	req.Env = map[string]string{"ZETA": "z", "ALPHA": "a value"}

	got, err := containerInvocation("docker", req)
	require.NoError(t, err)

	alpha := strings.Index(got, "-e 'ALPHA=a value'")
	zeta := strings.Index(got, "-e 'ZETA=z'")
	require.NotEqual(t, -1, alpha)
	require.NotEqual(t, -1, zeta)
	assert.Less(t, alpha, zeta)
}

func TestContainerInvocationExtraArgsAndNoCommand(t *testing.T) {
	req := containerRequest()
	req.Step.Command = ""
	req.Container.ExtraArgs = []string{"--memory", "512m"}

	got, err := containerInvocation("docker", req)
	require.NoError(t, err)

	assert.Contains(t, got, "--memory 512m 'alpine:3.20'")
	assert.NotContains(t, got, "sh -c")
	assert.True(t, strings.HasSuffix(got, "'alpine:3.20'"), got)
}

func TestShellQuoteEscapesEmbeddedQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s fine'`, shellQuote("it's fine"))
}

func TestContainerExecutorRunsInvocation(t *testing.T) {
	procs := newFakeProcess()
	exec := NewContainerExecutor(procs, "podman")

	req := containerRequest()
	req.Timeout = 90 * time.Second
	req.MaskValues = []string{"hunter2"}

	result, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)

	calls := procs.calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].Command, "podman run --rm"), calls[0].Command)
	assert.Equal(t, "/ws/b1", calls[0].Dir)
	assert.Equal(t, 90*time.Second, calls[0].Timeout)
	assert.Equal(t, []string{"hunter2"}, calls[0].MaskValues)
	// Env reaches the container through -e flags, not the runtime process.
	assert.Empty(t, calls[0].Env)
}

func TestContainerExecutorKind(t *testing.T) {
	exec := NewContainerExecutor(newFakeProcess(), "")
	assert.Equal(t, models.StepKindContainer, exec.Kind())
}
