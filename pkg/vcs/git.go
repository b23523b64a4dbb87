package vcs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/process"
)

// checkoutTimeout bounds the whole clone; large repos that exceed it fail
// the build rather than wedging a worker.
const checkoutTimeout = 10 * time.Minute

// Git checks sources out with the git CLI through the process executor,
// which gives clone output the same masking treatment as step output.
type Git struct {
	exec process.Executor
	// MaskValues are redacted from any captured git output, e.g. URLs
	// carrying credentials.
	MaskValues []string
}

var _ Checkout = (*Git)(nil)

// NewGit returns a git CLI checkout adapter.
func NewGit(exec process.Executor) *Git {
	return &Git{exec: exec}
}

// Checkout clones the source into the workspace and returns the commit
// metadata. A configured commit is checked out after the clone; otherwise
// the branch head is used.
func (g *Git) Checkout(ctx context.Context, src models.GitSource, workspaceDir string) (*models.GitInfo, error) {
	logger := logctx.From(ctx).With("url", src.URL, "branch", src.Branch)
	logger.Info("Checking out source")

	clone := []string{"git", "clone"}
	if src.Depth > 0 && src.Commit == "" {
		clone = append(clone, "--depth", fmt.Sprintf("%d", src.Depth))
	}
	if src.Branch != "" {
		clone = append(clone, "--branch", shellQuote(src.Branch), "--single-branch")
	}
	clone = append(clone, shellQuote(src.URL), ".")

	if err := g.run(ctx, workspaceDir, strings.Join(clone, " ")); err != nil {
		return nil, err
	}
	if src.Commit != "" {
		if err := g.run(ctx, workspaceDir, "git checkout --detach "+shellQuote(src.Commit)); err != nil {
			return nil, err
		}
	}

	info, err := g.headInfo(ctx, workspaceDir)
	if err != nil {
		return nil, err
	}
	if info.Branch == "HEAD" && src.Branch != "" {
		info.Branch = src.Branch
	}
	logger.Info("Checkout complete", "commit", info.CommitShort, "author", info.Author)
	return info, nil
}

// headInfo reads the checked-out commit's metadata.
func (g *Git) headInfo(ctx context.Context, dir string) (*models.GitInfo, error) {
	info := &models.GitInfo{}
	queries := map[*string]string{
		&info.Commit:  "git rev-parse HEAD",
		&info.Branch:  "git rev-parse --abbrev-ref HEAD",
		&info.Author:  "git log -1 --pretty=%an",
		&info.Message: "git log -1 --pretty=%s",
	}
	for dest, command := range queries {
		out, err := g.capture(ctx, dir, command)
		if err != nil {
			return nil, err
		}
		*dest = out
	}
	if len(info.Commit) >= 7 {
		info.CommitShort = info.Commit[:7]
	} else {
		info.CommitShort = info.Commit
	}
	return info, nil
}

func (g *Git) run(ctx context.Context, dir, command string) error {
	_, err := g.capture(ctx, dir, command)
	return err
}

func (g *Git) capture(ctx context.Context, dir, command string) (string, error) {
	result, err := g.exec.Execute(ctx, process.Request{
		Command:    command,
		Dir:        dir,
		Timeout:    checkoutTimeout,
		MaskValues: g.MaskValues,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	if result.Cancelled {
		return "", fmt.Errorf("%w: cancelled", ErrCheckoutFailed)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("%w: %s (exit %d): %s",
			ErrCheckoutFailed, firstLine(command), result.ExitCode, tail(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}

// shellQuote single-quotes a value for safe interpolation into a shell
// command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// tail keeps error messages readable by returning only the last few lines
// of command output.
func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) <= 3 {
		return s
	}
	return strings.Join(lines[len(lines)-3:], "\n")
}
