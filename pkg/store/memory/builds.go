package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

// Builds is the in-memory build store. A plain mutex serializes creates so
// per-(org, job) build numbers are assigned atomically with insertion.
type Builds struct {
	mu      sync.Mutex
	builds  map[string]*models.Build
	numbers map[string]int64
}

var _ store.Builds = (*Builds)(nil)

// NewBuilds creates an empty build store.
func NewBuilds() *Builds {
	return &Builds{
		builds:  make(map[string]*models.Build),
		numbers: make(map[string]int64),
	}
}

// Create persists a new build and assigns the next per-(org, job) number,
// writing it back to the caller's record.
func (s *Builds) Create(_ context.Context, build *models.Build) error {
	if build.ID == "" {
		return fmt.Errorf("build has no ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.builds[build.ID]; ok {
		return fmt.Errorf("build %s: %w", build.ID, store.ErrAlreadyExists)
	}

	key := scopedKey(build.Org, build.JobName)
	s.numbers[key]++
	build.Number = s.numbers[key]
	s.builds[build.ID] = deepCopy(build)
	return nil
}

// Update replaces an existing build record.
func (s *Builds) Update(_ context.Context, build *models.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.builds[build.ID]; !ok {
		return fmt.Errorf("build %s: %w", build.ID, store.ErrNotFound)
	}
	s.builds[build.ID] = deepCopy(build)
	return nil
}

// Get returns a build by ID.
func (s *Builds) Get(_ context.Context, id string) (*models.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	build, ok := s.builds[id]
	if !ok {
		return nil, fmt.Errorf("build %s: %w", id, store.ErrNotFound)
	}
	return deepCopy(build), nil
}

// ListForJob returns a job's builds, newest first by number. A
// non-positive limit returns all.
func (s *Builds) ListForJob(_ context.Context, org, job string, limit int) ([]*models.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	builds := make([]*models.Build, 0)
	for _, b := range s.builds {
		if b.Org == org && b.JobName == job {
			builds = append(builds, deepCopy(b))
		}
	}
	sort.Slice(builds, func(i, j int) bool { return builds[i].Number > builds[j].Number })
	if limit > 0 && len(builds) > limit {
		builds = builds[:limit]
	}
	return builds, nil
}
