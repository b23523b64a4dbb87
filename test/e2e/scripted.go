package e2e

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiln-ci/kiln/pkg/masking"
	"github.com/kiln-ci/kiln/pkg/process"
)

// procHandler pairs a command substring with its scripted behaviour.
type procHandler struct {
	match string
	run   func(ctx context.Context, req process.Request) (*process.Result, error)
}

// ScriptedProcesses is a process.Executor whose responses are scripted by
// command substring. Unmatched commands succeed with exit 0. Every request
// is recorded, so tests can assert on commands, env, and directories
// without spawning anything.
type ScriptedProcesses struct {
	mu       sync.Mutex
	requests []process.Request
	handlers []procHandler
}

var _ process.Executor = (*ScriptedProcesses)(nil)

// NewScriptedProcesses creates an empty scripted executor.
func NewScriptedProcesses() *ScriptedProcesses {
	return &ScriptedProcesses{}
}

// On scripts a response for commands containing match. Handlers are
// consulted in registration order; the first match wins.
func (p *ScriptedProcesses) On(match string, run func(ctx context.Context, req process.Request) (*process.Result, error)) *ScriptedProcesses {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, procHandler{match: match, run: run})
	return p
}

// FailOn scripts a non-zero exit for commands containing match.
func (p *ScriptedProcesses) FailOn(match string, exitCode int, stderr string) *ScriptedProcesses {
	return p.On(match, func(context.Context, process.Request) (*process.Result, error) {
		return &process.Result{ExitCode: exitCode, Stderr: stderr}, nil
	})
}

// BlockOn parks commands containing match until their context is
// cancelled, closing started once the command begins.
func (p *ScriptedProcesses) BlockOn(match string, started chan<- struct{}) *ScriptedProcesses {
	var once sync.Once
	return p.On(match, func(ctx context.Context, _ process.Request) (*process.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return &process.Result{ExitCode: -1, Cancelled: true}, nil
	})
}

// TouchOn makes commands containing match write a file under the request
// directory before succeeding, standing in for a step that produces
// output files.
func (p *ScriptedProcesses) TouchOn(match, rel, content string) *ScriptedProcesses {
	return p.On(match, func(_ context.Context, req process.Request) (*process.Result, error) {
		path := filepath.Join(req.Dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
		return &process.Result{ExitCode: 0}, nil
	})
}

// Execute records the request and runs the first matching handler. Like
// the real executor, captured output comes back with mask values already
// redacted.
func (p *ScriptedProcesses) Execute(ctx context.Context, req process.Request) (*process.Result, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	handlers := make([]procHandler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()

	for _, h := range handlers {
		if strings.Contains(req.Command, h.match) {
			result, err := h.run(ctx, req)
			if result != nil {
				masker := masking.NewValueMasker(req.MaskValues)
				result.Stdout = masker.Mask(result.Stdout)
				result.Stderr = masker.Mask(result.Stderr)
			}
			return result, err
		}
	}
	return &process.Result{ExitCode: 0, Stdout: "ok"}, nil
}

// Commands returns every executed command in order.
func (p *ScriptedProcesses) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.requests))
	for i, req := range p.requests {
		out[i] = req.Command
	}
	return out
}

// Requests returns a copy of every recorded request.
func (p *ScriptedProcesses) Requests() []process.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]process.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// RequestFor returns the first recorded request whose command contains
// match, failing the test when none does.
func (p *ScriptedProcesses) RequestFor(t *testing.T, match string) process.Request {
	t.Helper()
	for _, req := range p.Requests() {
		if strings.Contains(req.Command, match) {
			return req
		}
	}
	require.Failf(t, "no request matched", "no executed command contains %q", match)
	return process.Request{}
}
