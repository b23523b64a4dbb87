// Package process runs external commands for steps, git operations, and
// container invocations. The executor owns timeout enforcement, process
// group termination, and secret masking of captured output, so callers get
// a uniform contract regardless of what ran.
package process

import (
	"context"
	"time"
)

// DefaultTimeout bounds commands whose request carries no timeout.
const DefaultTimeout = 5 * time.Minute

// Request describes one command execution.
type Request struct {
	// Command is passed to the shell as a single string.
	Command string
	// Dir is the working directory; empty means the process default.
	Dir string
	// Env entries are merged over the parent environment.
	Env map[string]string
	// Timeout bounds the run; zero means DefaultTimeout.
	Timeout time.Duration
	// MaskValues are secret values to redact from captured output.
	MaskValues []string
}

// Result is the outcome of one command execution. A non-zero exit code is
// a normal result, not an error; errors mean the command could not be run
// at all.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMs int64
	TimedOut   bool
	Cancelled  bool
}

// Executor runs commands. Implementations honour context cancellation at
// every suspension point and never leave process groups behind.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}
