// Package cache is the dependency cache: immutable directory snapshots
// keyed by templates that fingerprint input files, restored into later
// workspaces either exactly or through restore-key prefix fallback.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/metrics"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

// hashFilesPattern matches {{ hashFiles('<path>') }} macros in key
// templates.
var hashFilesPattern = regexp.MustCompile(`\{\{\s*hashFiles\('([^']*)'\)\s*\}\}`)

// hashPrefixLen is how many hex chars of the SHA-256 go into a resolved
// key.
const hashPrefixLen = 16

// missingHash substitutes for a hashFiles macro whose file is absent.
const missingHash = "missing"

// Manager owns the on-disk cache tree and its metadata.
type Manager struct {
	root    string
	entries store.CacheEntries
	metrics metrics.Recorder
}

// NewManager creates the cache root if needed and returns a manager.
func NewManager(root string, entries store.CacheEntries, rec metrics.Recorder) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize cache root %q: %w", root, err)
	}
	abs = filepath.Clean(abs)
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root %q: %w", abs, err)
	}
	return &Manager{root: abs, entries: entries, metrics: metrics.Safe(rec)}, nil
}

// Root returns the canonical cache root.
func (m *Manager) Root() string {
	return m.root
}

// dir is the on-disk location of one cache key, org-scoped so jobs with
// the same name never share caches.
func (m *Manager) dir(org, job, key string) string {
	return filepath.Join(m.root, org, job, key)
}

// ResolveKey expands every hashFiles macro in a key template against the
// workspace. An absent or unreadable file expands to "missing" so a
// changed lockfile and a deleted lockfile produce different keys.
func (m *Manager) ResolveKey(ctx context.Context, workspace, template string) string {
	return hashFilesPattern.ReplaceAllStringFunc(template, func(macro string) string {
		rel := hashFilesPattern.FindStringSubmatch(macro)[1]
		digest, err := hashWorkspaceFile(workspace, rel)
		if err != nil {
			logctx.From(ctx).Warn("Cache key file could not be hashed",
				"file", rel,
				"error", err)
			return missingHash
		}
		return digest
	})
}

func hashWorkspaceFile(workspace, rel string) (string, error) {
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}

	f, err := os.Open(filepath.Join(workspace, rel))
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:hashPrefixLen], nil
}

// Restore brings cached trees back into the workspace: the exact key
// first, then each restore-key as a prefix against this job's persisted
// entries, newest entry first. Every attempt is recorded so the build can
// show which key actually hit.
func (m *Manager) Restore(ctx context.Context, workspace, org, job string, decls []models.CacheSpec) []models.CacheRestore {
	logger := logctx.From(ctx)
	restores := make([]models.CacheRestore, 0, len(decls))

	for _, decl := range decls {
		key := m.ResolveKey(ctx, workspace, decl.Key)
		restore := models.CacheRestore{Key: key}

		effective, dir := m.findRestoreSource(ctx, org, job, key, decl.RestoreKeys)
		if effective != "" {
			if _, err := copyTree(ctx, dir, workspace); err != nil {
				logger.Error("Cache restore failed",
					"key", effective,
					"error", err)
			} else {
				restore.Hit = true
				restore.EffectiveKey = effective
				if err := m.entries.RecordHit(ctx, org, job, effective); err != nil {
					logger.Warn("Failed to record cache hit",
						"key", effective,
						"error", err)
				}
				logger.Info("Restored cache",
					"key", key,
					"effective_key", effective)
			}
		}

		m.metrics.CacheRestore(restore.Hit)
		restores = append(restores, restore)
	}
	return restores
}

// findRestoreSource picks the cache directory to restore from, or returns
// an empty key on a full miss.
func (m *Manager) findRestoreSource(ctx context.Context, org, job, key string, restoreKeys []string) (string, string) {
	dir := m.dir(org, job, key)
	if dirExists(dir) {
		return key, dir
	}

	if len(restoreKeys) == 0 {
		return "", ""
	}

	entries, err := m.entries.ListForJob(ctx, org, job)
	if err != nil {
		logctx.From(ctx).Warn("Failed to list cache entries for restore-key fallback",
			"job", job,
			"error", err)
		return "", ""
	}

	for _, prefix := range restoreKeys {
		for _, entry := range entries {
			if !strings.HasPrefix(entry.Key, prefix) {
				continue
			}
			candidate := m.dir(org, job, entry.Key)
			if dirExists(candidate) {
				return entry.Key, candidate
			}
		}
	}
	return "", ""
}

// Save snapshots the declared workspace paths under each resolved key.
// Caches are immutable: the first writer wins and later saves of the same
// key are skipped. The key directory itself is the claim; os.Mkdir makes
// it atomic against concurrent builds.
func (m *Manager) Save(ctx context.Context, workspace, org, job string, decls []models.CacheSpec) {
	logger := logctx.From(ctx)

	for _, decl := range decls {
		key := m.ResolveKey(ctx, workspace, decl.Key)
		dir := m.dir(org, job, key)

		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			logger.Error("Failed to create cache job directory", "error", err)
			continue
		}
		if err := os.Mkdir(dir, 0o755); err != nil {
			if os.IsExist(err) {
				logger.Debug("Cache key already saved, skipping", "key", key)
			} else {
				logger.Error("Failed to claim cache directory", "key", key, "error", err)
			}
			continue
		}

		size, saved, err := m.copyPathsIn(ctx, workspace, dir, decl.Paths)
		if err != nil {
			logger.Error("Cache save failed, discarding partial snapshot",
				"key", key,
				"error", err)
			_ = os.RemoveAll(dir)
			continue
		}
		if len(saved) == 0 {
			logger.Warn("Cache declaration matched no workspace paths, discarding",
				"key", key,
				"paths", strings.Join(decl.Paths, ","))
			_ = os.RemoveAll(dir)
			continue
		}

		entry := &models.CacheEntry{
			Org:       org,
			JobName:   job,
			Key:       key,
			Paths:     strings.Join(saved, ","),
			SizeBytes: size,
			CreatedAt: time.Now().UTC(),
		}
		if err := m.entries.Create(ctx, entry); err != nil {
			logger.Warn("Failed to persist cache metadata",
				"key", key,
				"error", err)
			continue
		}
		logger.Info("Saved cache",
			"key", key,
			"paths", entry.Paths,
			"size_bytes", size)
	}
}

// copyPathsIn copies each declared workspace path into the cache dir,
// preserving its relative location. Paths absent from the workspace are
// skipped.
func (m *Manager) copyPathsIn(ctx context.Context, workspace, dir string, paths []string) (int64, []string, error) {
	var total int64
	var saved []string

	for _, rel := range paths {
		if !filepath.IsLocal(rel) {
			logctx.From(ctx).Warn("Cache path escapes the workspace, skipping", "path", rel)
			continue
		}
		src := filepath.Join(workspace, rel)
		if _, err := os.Lstat(src); err != nil {
			logctx.From(ctx).Debug("Cache path absent from workspace, skipping", "path", rel)
			continue
		}

		dst := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return 0, nil, err
		}
		size, err := copyPath(ctx, src, dst)
		if err != nil {
			return 0, nil, err
		}
		total += size
		saved = append(saved, rel)
	}
	return total, saved, nil
}

// EvictJob removes a job's entries older than the retention period along
// with their directories, returning how many were evicted.
func (m *Manager) EvictJob(ctx context.Context, org, job string, retention time.Duration) (int, error) {
	entries, err := m.entries.ListForJob(ctx, org, job)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-retention)
	evicted := 0
	for _, entry := range entries {
		if !entry.CreatedAt.Before(cutoff) {
			continue
		}
		if err := m.entries.Delete(ctx, org, job, entry.Key); err != nil {
			logctx.From(ctx).Warn("Failed to delete cache entry",
				"key", entry.Key,
				"error", err)
			continue
		}
		if err := os.RemoveAll(m.dir(org, job, entry.Key)); err != nil {
			logctx.From(ctx).Warn("Failed to remove cache directory",
				"key", entry.Key,
				"error", err)
		}
		evicted++
	}
	return evicted, nil
}

// Sweep removes every entry older than the retention period across all
// jobs. The retention service calls this on its ticker.
func (m *Manager) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	removed, err := m.entries.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, entry := range removed {
		if err := os.RemoveAll(m.dir(entry.Org, entry.JobName, entry.Key)); err != nil {
			logctx.From(ctx).Warn("Failed to remove cache directory",
				"org", entry.Org,
				"job", entry.JobName,
				"key", entry.Key,
				"error", err)
		}
	}
	return len(removed), nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
