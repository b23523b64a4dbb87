// Package workspace provisions per-build working directories under a
// single root and confines every derived path to it. All path handling in
// the core goes through Resolve so a crafted artifact pattern or cache
// path can never escape the build's directory.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrPathTraversal indicates a path that resolves outside its confinement
// root. Treated as a configuration error: the build fails fast.
var ErrPathTraversal = errors.New("path escapes workspace root")

// Manager provisions and confines build workspaces.
type Manager struct {
	root string
}

// NewManager canonicalises the root, creates it if needed, and returns the
// manager.
func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	abs = filepath.Clean(abs)
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the canonical workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Create provisions the directory for one build: {root}/{job}/{number}.
// The job name is confined to the root, so a name like "../../etc" fails
// rather than provisioning outside it.
func (m *Manager) Create(job string, number int64) (string, error) {
	dir, err := confine(m.root, filepath.Join(job, strconv.FormatInt(number, 10)))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating workspace: %w", err)
	}
	return dir, nil
}

// Resolve joins a relative path onto a workspace directory and verifies
// the canonical result still lives under that directory.
func (m *Manager) Resolve(workspaceDir, rel string) (string, error) {
	return Join(workspaceDir, rel)
}

// Join joins a relative path onto a workspace directory and requires the
// canonical result to stay under it. Callers without a Manager (step
// executors resolving a work-dir) use this directly.
func Join(workspaceDir, rel string) (string, error) {
	return confine(filepath.Clean(workspaceDir), rel)
}

// Remove deletes a workspace directory. Only paths under the root are
// eligible.
func (m *Manager) Remove(dir string) error {
	clean := filepath.Clean(dir)
	if !within(m.root, clean) {
		return fmt.Errorf("%w: %s", ErrPathTraversal, dir)
	}
	return os.RemoveAll(clean)
}

// confine joins rel onto base and requires the canonical result to stay
// under base. Base must already be clean.
func confine(base, rel string) (string, error) {
	joined := filepath.Clean(filepath.Join(base, rel))
	if !within(base, joined) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, rel)
	}
	return joined, nil
}

// within reports whether path is base itself or below it. Both arguments
// must already be clean.
func within(base, path string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(filepath.Separator))
}
