package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/masking"
)

// killGracePeriod is how long a terminated process group gets to exit
// before it is force-killed.
const killGracePeriod = 5 * time.Second

// Local runs commands through the local shell. Each command gets its own
// process group so timeouts and cancellation tear down the whole tree, not
// just the shell.
type Local struct {
	// Shell is the interpreter; empty means /bin/sh.
	Shell string
}

var _ Executor = (*Local)(nil)

// NewLocal returns a local shell executor.
func NewLocal() *Local {
	return &Local{}
}

// Execute runs the command and captures masked stdout/stderr. The command
// is terminated when the timeout elapses or the context is cancelled:
// SIGTERM to the process group, then SIGKILL after the grace period.
func (l *Local) Execute(ctx context.Context, req Request) (*Result, error) {
	shell := l.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cmd := exec.Command(shell, "-c", req.Command)
	cmd.Dir = req.Dir
	cmd.Env = mergedEnv(req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting command: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	result := &Result{}
	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		result.TimedOut = true
		l.terminate(ctx, cmd, waitCh)
		waitErr = nil
	case <-ctx.Done():
		result.Cancelled = true
		l.terminate(ctx, cmd, waitCh)
		waitErr = nil
	}

	result.DurationMs = time.Since(start).Milliseconds()
	result.ExitCode = exitCode(cmd, waitErr)

	masker := masking.NewValueMasker(req.MaskValues)
	result.Stdout = masker.Mask(stdout.String())
	result.Stderr = masker.Mask(stderr.String())

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result, fmt.Errorf("waiting for command: %w", waitErr)
		}
	}
	return result, nil
}

// terminate tears down the process group: SIGTERM, grace period, SIGKILL.
// It returns once the process has been reaped.
func (l *Local) terminate(ctx context.Context, cmd *exec.Cmd, waitCh <-chan error) {
	logger := logctx.From(ctx)
	pgid := cmd.Process.Pid

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		logger.Debug("Failed to signal process group", "pgid", pgid, "error", err)
	}

	select {
	case <-waitCh:
		return
	case <-time.After(killGracePeriod):
	}

	logger.Warn("Process ignored SIGTERM, force killing", "pgid", pgid)
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
		logger.Debug("Failed to kill process group", "pgid", pgid, "error", err)
	}
	<-waitCh
}

// exitCode extracts the exit code after Wait. Killed processes report -1.
func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// mergedEnv overlays the request environment on the parent environment.
// Keys are emitted sorted so repeated runs produce identical commands.
func mergedEnv(overlay map[string]string) []string {
	if len(overlay) == 0 {
		return os.Environ()
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := os.Environ()
	for _, k := range keys {
		env = append(env, k+"="+overlay[k])
	}
	return env
}
