package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/models"
)

// collectArtifacts resolves every pipeline artifact pattern against the
// workspace and copies matches into the artifact tree, flattened. Every
// per-file problem is logged and skipped: artifact trouble never changes
// a build's status. A cancelled build collects nothing.
func (r *buildRun) collectArtifacts(ctx context.Context) {
	patterns := r.build.Pipeline.Artifacts
	if len(patterns) == 0 || ctx.Err() != nil {
		return
	}
	logger := logctx.From(ctx)

	destDir := filepath.Join(r.ex.cfg.Artifacts.Root, r.build.Org, r.build.JobName, strconv.FormatInt(r.build.Number, 10))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		logger.Warn("Failed to create artifact directory", "dir", destDir, "error", err)
		return
	}

	workspaceFS := os.DirFS(r.build.Workspace)
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(workspaceFS, expandPattern(pattern))
		if err != nil {
			logger.Warn("Bad artifact pattern", "pattern", pattern, "error", err)
			continue
		}
		for _, rel := range matches {
			if seen[rel] || ctx.Err() != nil {
				continue
			}
			seen[rel] = true

			artifact, err := r.collectOne(rel, destDir)
			if err != nil {
				logger.Warn("Failed to collect artifact", "path", rel, "error", err)
				continue
			}
			if artifact == nil {
				continue
			}
			if err := r.ex.artifacts.Create(ctx, artifact); err != nil {
				logger.Warn("Failed to persist artifact metadata",
					"file", artifact.FileName,
					"error", err)
			}
			r.mu.Lock()
			r.build.Artifacts = append(r.build.Artifacts, *artifact)
			r.mu.Unlock()
			logger.Info("Collected artifact",
				"file", artifact.FileName,
				"size_bytes", artifact.SizeBytes)
		}
	}
}

// expandPattern promotes a bare pattern to match at any depth; patterns
// already containing a separator are taken literally.
func expandPattern(pattern string) string {
	if strings.Contains(pattern, "/") {
		return pattern
	}
	return "**/" + pattern
}

// collectOne copies a single matched workspace file into the artifact
// directory, hashing as it copies. Directory matches return nil; the glob
// walks into them via their own file matches.
func (r *buildRun) collectOne(rel, destDir string) (*models.Artifact, error) {
	src, err := r.ex.workspaces.Resolve(r.build.Workspace, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, nil
	}

	fileName := strings.ReplaceAll(filepath.ToSlash(rel), "/", "_")
	dest := filepath.Join(destDir, fileName)
	sum, err := copyFileWithHash(src, dest, info.Mode())
	if err != nil {
		return nil, err
	}

	return &models.Artifact{
		ID:          uuid.NewString(),
		BuildID:     r.build.ID,
		FileName:    fileName,
		Path:        dest,
		SizeBytes:   info.Size(),
		ContentType: contentTypeFor(rel),
		SHA256:      sum,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func contentTypeFor(rel string) string {
	if t := mime.TypeByExtension(filepath.Ext(rel)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// copyFileWithHash copies src to dest and returns the hex SHA-256 of the
// content, in a single pass.
func copyFileWithHash(src, dest string, mode fs.FileMode) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return "", err
	}

	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(out, h), in)
	closeErr := out.Close()
	if copyErr != nil {
		return "", copyErr
	}
	if closeErr != nil {
		return "", closeErr
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
