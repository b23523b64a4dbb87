package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

// CacheEntries is the in-memory dependency cache metadata store, keyed by
// (org, job, key).
type CacheEntries struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
}

var _ store.CacheEntries = (*CacheEntries)(nil)

// NewCacheEntries creates an empty cache metadata store.
func NewCacheEntries() *CacheEntries {
	return &CacheEntries{entries: make(map[string]*models.CacheEntry)}
}

func cacheKey(org, job, key string) string {
	return org + "/" + job + "/" + key
}

// Create persists new cache metadata. The first writer wins: an existing
// (org, job, key) fails with ErrAlreadyExists.
func (s *CacheEntries) Create(_ context.Context, entry *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cacheKey(entry.Org, entry.JobName, entry.Key)
	if _, ok := s.entries[key]; ok {
		return fmt.Errorf("cache entry %s: %w", key, store.ErrAlreadyExists)
	}
	s.entries[key] = deepCopy(entry)
	return nil
}

// Get returns one entry.
func (s *CacheEntries) Get(_ context.Context, org, job, key string) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[cacheKey(org, job, key)]
	if !ok {
		return nil, fmt.Errorf("cache entry %s/%s/%s: %w", org, job, key, store.ErrNotFound)
	}
	return deepCopy(entry), nil
}

// ListForJob returns a job's entries, newest first, so restore-key prefix
// scans prefer the most recent cache.
func (s *CacheEntries) ListForJob(_ context.Context, org, job string) ([]*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*models.CacheEntry, 0)
	for _, entry := range s.entries {
		if entry.Org == org && entry.JobName == job {
			entries = append(entries, deepCopy(entry))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

// RecordHit bumps an entry's hit count and timestamp.
func (s *CacheEntries) RecordHit(_ context.Context, org, job, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[cacheKey(org, job, key)]
	if !ok {
		return fmt.Errorf("cache entry %s/%s/%s: %w", org, job, key, store.ErrNotFound)
	}
	now := time.Now().UTC()
	entry.HitCount++
	entry.LastHitAt = &now
	return nil
}

// Delete removes one entry.
func (s *CacheEntries) Delete(_ context.Context, org, job, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := cacheKey(org, job, key)
	if _, ok := s.entries[k]; !ok {
		return fmt.Errorf("cache entry %s: %w", k, store.ErrNotFound)
	}
	delete(s.entries, k)
	return nil
}

// DeleteOlderThan removes entries created before the cutoff and returns
// them so the caller can remove the backing directories.
func (s *CacheEntries) DeleteOlderThan(_ context.Context, cutoff time.Time) ([]*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]*models.CacheEntry, 0)
	for k, entry := range s.entries {
		if entry.CreatedAt.Before(cutoff) {
			removed = append(removed, deepCopy(entry))
			delete(s.entries, k)
		}
	}
	sort.Slice(removed, func(i, j int) bool {
		return cacheKey(removed[i].Org, removed[i].JobName, removed[i].Key) <
			cacheKey(removed[j].Org, removed[j].JobName, removed[j].Key)
	})
	return removed, nil
}

// StageCache is the in-memory result cache: successful stage results keyed
// by (org, job, fingerprint).
type StageCache struct {
	mu      sync.RWMutex
	results map[string]*models.StageResult
}

var _ store.StageCache = (*StageCache)(nil)

// NewStageCache creates an empty result cache.
func NewStageCache() *StageCache {
	return &StageCache{results: make(map[string]*models.StageResult)}
}

// Get returns the cached result for a fingerprint.
func (s *StageCache) Get(_ context.Context, org, job, fingerprint string) (*models.StageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[cacheKey(org, job, fingerprint)]
	if !ok {
		return nil, fmt.Errorf("stage result %s/%s/%s: %w", org, job, fingerprint, store.ErrNotFound)
	}
	return deepCopy(result), nil
}

// Put stores a stage result under its fingerprint. Re-storing the same
// fingerprint replaces the record; equivalent inputs produce equivalent
// results.
func (s *StageCache) Put(_ context.Context, org, job, fingerprint string, result *models.StageResult) error {
	if fingerprint == "" {
		return fmt.Errorf("stage result has no fingerprint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[cacheKey(org, job, fingerprint)] = deepCopy(result)
	return nil
}
