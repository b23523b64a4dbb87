package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ci/kiln/pkg/metrics"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
	"github.com/kiln-ci/kiln/pkg/store/memory"
)

func newTestManager(t *testing.T) (*Manager, store.CacheEntries) {
	t.Helper()
	entries := memory.NewCacheEntries()
	m, err := NewManager(t.TempDir(), entries, metrics.Nop{})
	require.NoError(t, err)
	return m, entries
}

func writeWorkspaceFile(t *testing.T, workspace, rel, content string) {
	t.Helper()
	path := filepath.Join(workspace, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveKey(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "package-lock.json", `{"lockfileVersion": 2}`)

	literal := m.ResolveKey(ctx, workspace, "deps-v2")
	assert.Equal(t, "deps-v2", literal)

	resolved := m.ResolveKey(ctx, workspace, "deps-{{ hashFiles('package-lock.json') }}")
	require.Len(t, resolved, len("deps-")+hashPrefixLen)
	assert.Regexp(t, `^deps-[0-9a-f]{16}$`, resolved)

	// Same content resolves to the same key.
	again := m.ResolveKey(ctx, workspace, "deps-{{ hashFiles('package-lock.json') }}")
	assert.Equal(t, resolved, again)

	// Changed content changes the key.
	writeWorkspaceFile(t, workspace, "package-lock.json", `{"lockfileVersion": 3}`)
	changed := m.ResolveKey(ctx, workspace, "deps-{{ hashFiles('package-lock.json') }}")
	assert.NotEqual(t, resolved, changed)

	missing := m.ResolveKey(ctx, workspace, "deps-{{ hashFiles('no-such-file') }}")
	assert.Equal(t, "deps-missing", missing)

	escape := m.ResolveKey(ctx, workspace, "deps-{{ hashFiles('../outside') }}")
	assert.Equal(t, "deps-missing", escape)

	multi := m.ResolveKey(ctx, workspace, "{{ hashFiles('package-lock.json') }}-{{ hashFiles('no-such-file') }}")
	assert.Regexp(t, `^[0-9a-f]{16}-missing$`, multi)
}

func TestSaveAndRestoreExactKey(t *testing.T) {
	m, entries := newTestManager(t)
	ctx := context.Background()

	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "node_modules/left-pad/index.js", "module.exports = pad")
	writeWorkspaceFile(t, workspace, "package-lock.json", "lock-v1")

	decls := []models.CacheSpec{{
		Key:   "deps-v1",
		Paths: []string{"node_modules", "package-lock.json"},
	}}
	m.Save(ctx, workspace, "acme", "deploy", decls)

	entry, err := entries.Get(ctx, "acme", "deploy", "deps-v1")
	require.NoError(t, err)
	assert.Equal(t, "node_modules,package-lock.json", entry.Paths)
	assert.Greater(t, entry.SizeBytes, int64(0))

	// Restore into a fresh workspace.
	fresh := t.TempDir()
	restores := m.Restore(ctx, fresh, "acme", "deploy", decls)

	require.Len(t, restores, 1)
	assert.True(t, restores[0].Hit)
	assert.Equal(t, "deps-v1", restores[0].Key)
	assert.Equal(t, "deps-v1", restores[0].EffectiveKey)

	data, err := os.ReadFile(filepath.Join(fresh, "node_modules/left-pad/index.js"))
	require.NoError(t, err)
	assert.Equal(t, "module.exports = pad", string(data))

	entry, err = entries.Get(ctx, "acme", "deploy", "deps-v1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.HitCount, "restore records a hit")
}

func TestSaveIsImmutable(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "vendor/lib.go", "first version")
	decls := []models.CacheSpec{{Key: "vendor-v1", Paths: []string{"vendor"}}}
	m.Save(ctx, workspace, "acme", "deploy", decls)

	// A second build mutates the path and saves the same key.
	writeWorkspaceFile(t, workspace, "vendor/lib.go", "second version")
	m.Save(ctx, workspace, "acme", "deploy", decls)

	fresh := t.TempDir()
	restores := m.Restore(ctx, fresh, "acme", "deploy", decls)
	require.Len(t, restores, 1)
	require.True(t, restores[0].Hit)

	data, err := os.ReadFile(filepath.Join(fresh, "vendor/lib.go"))
	require.NoError(t, err)
	assert.Equal(t, "first version", string(data), "first writer wins")
}

func TestRestoreFallsBackToRestoreKeys(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "node_modules/a.js", "cached")
	m.Save(ctx, workspace, "acme", "deploy", []models.CacheSpec{{
		Key:   "deps-abcd1234",
		Paths: []string{"node_modules"},
	}})

	fresh := t.TempDir()
	restores := m.Restore(ctx, fresh, "acme", "deploy", []models.CacheSpec{{
		Key:         "deps-ffff9999",
		Paths:       []string{"node_modules"},
		RestoreKeys: []string{"deps-"},
	}})

	require.Len(t, restores, 1)
	assert.True(t, restores[0].Hit)
	assert.Equal(t, "deps-ffff9999", restores[0].Key)
	assert.Equal(t, "deps-abcd1234", restores[0].EffectiveKey)

	_, err := os.Stat(filepath.Join(fresh, "node_modules/a.js"))
	assert.NoError(t, err)
}

func TestRestoreMiss(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	restores := m.Restore(ctx, t.TempDir(), "acme", "deploy", []models.CacheSpec{{
		Key:         "deps-none",
		Paths:       []string{"node_modules"},
		RestoreKeys: []string{"other-"},
	}})

	require.Len(t, restores, 1)
	assert.False(t, restores[0].Hit)
	assert.Empty(t, restores[0].EffectiveKey)
}

func TestSaveSkipsAbsentPathsAndEmptySnapshots(t *testing.T) {
	m, entries := newTestManager(t)
	ctx := context.Background()

	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "dist/app", "binary")

	m.Save(ctx, workspace, "acme", "deploy", []models.CacheSpec{{
		Key:   "partial",
		Paths: []string{"dist", "no-such-dir"},
	}})
	entry, err := entries.Get(ctx, "acme", "deploy", "partial")
	require.NoError(t, err)
	assert.Equal(t, "dist", entry.Paths, "absent path dropped")

	m.Save(ctx, workspace, "acme", "deploy", []models.CacheSpec{{
		Key:   "empty",
		Paths: []string{"no-such-dir"},
	}})
	_, err = entries.Get(ctx, "acme", "deploy", "empty")
	assert.ErrorIs(t, err, store.ErrNotFound, "all-miss snapshot is discarded")
	assert.NoDirExists(t, filepath.Join(m.Root(), "acme", "deploy", "empty"))
}

func TestCopyPreservesSafeSymlinksAndSkipsEscapes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "pkg/real.txt", "payload")
	require.NoError(t, os.Symlink("real.txt", filepath.Join(workspace, "pkg", "alias.txt")))
	require.NoError(t, os.Symlink("../../etc/passwd", filepath.Join(workspace, "pkg", "evil.txt")))

	m.Save(ctx, workspace, "acme", "deploy", []models.CacheSpec{{Key: "links", Paths: []string{"pkg"}}})

	fresh := t.TempDir()
	restores := m.Restore(ctx, fresh, "acme", "deploy", []models.CacheSpec{{Key: "links", Paths: []string{"pkg"}}})
	require.True(t, restores[0].Hit)

	target, err := os.Readlink(filepath.Join(fresh, "pkg", "alias.txt"))
	require.NoError(t, err)
	assert.Equal(t, "real.txt", target)

	_, err = os.Lstat(filepath.Join(fresh, "pkg", "evil.txt"))
	assert.True(t, os.IsNotExist(err), "escaping symlink never lands in a workspace")
}

func TestEvictJobAndSweep(t *testing.T) {
	m, entries := newTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := func(org, job, key string, age time.Duration) {
		dir := filepath.Join(m.Root(), org, job, key)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "blob"), []byte("x"), 0o644))
		require.NoError(t, entries.Create(ctx, &models.CacheEntry{
			Org:       org,
			JobName:   job,
			Key:       key,
			Paths:     "blob",
			CreatedAt: now.Add(-age),
		}))
	}
	seed("acme", "deploy", "stale", 40*24*time.Hour)
	seed("acme", "deploy", "fresh", time.Hour)
	seed("globex", "build", "old", 40*24*time.Hour)

	evicted, err := m.EvictJob(ctx, "acme", "deploy", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.NoDirExists(t, filepath.Join(m.Root(), "acme", "deploy", "stale"))
	assert.DirExists(t, filepath.Join(m.Root(), "acme", "deploy", "fresh"))
	assert.DirExists(t, filepath.Join(m.Root(), "globex", "build", "old"), "other jobs untouched")

	swept, err := m.Sweep(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.NoDirExists(t, filepath.Join(m.Root(), "globex", "build", "old"))
}

func TestRetentionServiceSweeps(t *testing.T) {
	m, entries := newTestManager(t)
	ctx := context.Background()

	dir := filepath.Join(m.Root(), "acme", "deploy", "ancient")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, entries.Create(ctx, &models.CacheEntry{
		Org:       "acme",
		JobName:   "deploy",
		Key:       "ancient",
		Paths:     "vendor",
		CreatedAt: time.Now().UTC().Add(-100 * 24 * time.Hour),
	}))

	svc := NewRetentionService(m, 30*24*time.Hour, time.Hour)
	svc.Start(ctx)
	defer svc.Stop()

	require.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond, "initial sweep removes the stale entry")
}
