package vcs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/kiln-ci/kiln/pkg/models"
)

// Stub is a checkout that writes fixed files into the workspace and
// returns fixed commit metadata. It backs tests and local pipelines that
// have no real repository.
type Stub struct {
	Info models.GitInfo
	// Files maps workspace-relative paths to contents, materialised on
	// every checkout. Parent directories are created as needed.
	Files map[string]string
	// Err, when set, makes every checkout fail with it.
	Err error
}

var _ Checkout = (*Stub)(nil)

// Checkout writes the configured files and returns the configured info.
func (s *Stub) Checkout(_ context.Context, _ models.GitSource, workspaceDir string) (*models.GitInfo, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	for rel, content := range s.Files {
		path := filepath.Join(workspaceDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
	}
	info := s.Info
	return &info, nil
}
