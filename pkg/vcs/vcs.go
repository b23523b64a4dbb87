// Package vcs checks out build sources. The executor only depends on the
// Checkout interface; the git CLI adapter is the production
// implementation and Stub serves tests and pipelines without a source.
package vcs

import (
	"context"
	"errors"

	"github.com/kiln-ci/kiln/pkg/models"
)

// ErrCheckoutFailed wraps any failure during source checkout. Checkout
// failures fail the build before any stage runs.
var ErrCheckoutFailed = errors.New("checkout failed")

// Checkout materialises a source into the workspace and reports what was
// checked out.
type Checkout interface {
	Checkout(ctx context.Context, src models.GitSource, workspaceDir string) (*models.GitInfo, error)
}
