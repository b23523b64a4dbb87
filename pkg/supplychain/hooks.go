// Package supplychain runs the post-build hook set: provenance, SBOM,
// vulnerability scan, license check, artifact signing. Each hook hides
// behind its own feature flag, and hook failure never changes a build.
package supplychain

import (
	"context"

	"github.com/kiln-ci/kiln/pkg/config"
	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/models"
)

// Hook is one post-build supply-chain action. Run receives the completed
// build, including its collected artifacts.
type Hook interface {
	Name() string
	// Flag names the feature toggle that enables the hook.
	Flag() string
	Run(ctx context.Context, build *models.Build) error
}

// Hooks is the ordered hook set invoked after every build. Errors and
// panics are logged and swallowed.
type Hooks struct {
	cfg   *config.Config
	hooks []Hook
}

// NewHooks creates the hook set. Hooks run in the order given.
func NewHooks(cfg *config.Config, hooks ...Hook) *Hooks {
	return &Hooks{cfg: cfg, hooks: hooks}
}

// RunAll invokes every enabled hook with the completed build.
func (h *Hooks) RunAll(ctx context.Context, build *models.Build) {
	logger := logctx.From(ctx)
	for _, hook := range h.hooks {
		if !h.cfg.FeatureEnabled(hook.Flag()) {
			logger.Debug("Supply-chain hook disabled", "hook", hook.Name(), "flag", hook.Flag())
			continue
		}
		runOne(ctx, hook, build)
	}
}

func runOne(ctx context.Context, hook Hook, build *models.Build) {
	logger := logctx.From(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Supply-chain hook panicked", "hook", hook.Name(), "panic", r)
		}
	}()

	if err := hook.Run(ctx, build); err != nil {
		logger.Error("Supply-chain hook failed", "hook", hook.Name(), "error", err)
		return
	}
	logger.Info("Supply-chain hook completed", "hook", hook.Name())
}
