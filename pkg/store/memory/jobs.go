package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

// Jobs is the in-memory job store, keyed by (org, name).
type Jobs struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

var _ store.Jobs = (*Jobs)(nil)

// NewJobs creates an empty job store.
func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]*models.Job)}
}

// Create persists a new job.
func (s *Jobs) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopedKey(job.Org, job.Name)
	if _, ok := s.jobs[key]; ok {
		return fmt.Errorf("job %s: %w", key, store.ErrAlreadyExists)
	}
	s.jobs[key] = deepCopy(job)
	return nil
}

// Update replaces an existing job.
func (s *Jobs) Update(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopedKey(job.Org, job.Name)
	if _, ok := s.jobs[key]; !ok {
		return fmt.Errorf("job %s: %w", key, store.ErrNotFound)
	}
	s.jobs[key] = deepCopy(job)
	return nil
}

// Get returns a job by (org, name).
func (s *Jobs) Get(_ context.Context, org, name string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[scopedKey(org, name)]
	if !ok {
		return nil, fmt.Errorf("job %s/%s: %w", org, name, store.ErrNotFound)
	}
	return deepCopy(job), nil
}

// List returns an org's jobs sorted by name. An empty org lists every job,
// sorted by org then name.
func (s *Jobs) List(_ context.Context, org string) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if org != "" && job.Org != org {
			continue
		}
		jobs = append(jobs, deepCopy(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Org != jobs[j].Org {
			return jobs[i].Org < jobs[j].Org
		}
		return jobs[i].Name < jobs[j].Name
	})
	return jobs, nil
}

// Delete removes a job.
func (s *Jobs) Delete(_ context.Context, org, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopedKey(org, name)
	if _, ok := s.jobs[key]; !ok {
		return fmt.Errorf("job %s: %w", key, store.ErrNotFound)
	}
	delete(s.jobs, key)
	return nil
}
