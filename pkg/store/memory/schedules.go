package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

// Schedules is the in-memory cron schedule store.
type Schedules struct {
	mu        sync.RWMutex
	schedules map[string]*models.CronSchedule
	runs      []*models.CronRun
}

var _ store.Schedules = (*Schedules)(nil)

// NewSchedules creates an empty schedule store.
func NewSchedules() *Schedules {
	return &Schedules{schedules: make(map[string]*models.CronSchedule)}
}

// Put inserts or replaces a schedule by ID.
func (s *Schedules) Put(_ context.Context, schedule *models.CronSchedule) error {
	if schedule.ID == "" {
		return fmt.Errorf("cron schedule has no ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedules[schedule.ID] = deepCopy(schedule)
	return nil
}

// Get returns a schedule by ID.
func (s *Schedules) Get(_ context.Context, id string) (*models.CronSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("cron schedule %s: %w", id, store.ErrNotFound)
	}
	return deepCopy(schedule), nil
}

// ListEnabled returns enabled schedules sorted by ID.
func (s *Schedules) ListEnabled(_ context.Context) ([]*models.CronSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enabled := make([]*models.CronSchedule, 0)
	for _, schedule := range s.schedules {
		if schedule.Enabled {
			enabled = append(enabled, deepCopy(schedule))
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].ID < enabled[j].ID })
	return enabled, nil
}

// RecordRun appends one scheduler decision to the audit trail, assigning
// an ID when the caller left it empty.
func (s *Schedules) RecordRun(_ context.Context, run *models.CronRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := deepCopy(run)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
		run.ID = stored.ID
	}
	s.runs = append(s.runs, stored)
	return nil
}

// ListRuns returns a schedule's runs, newest first. A non-positive limit
// returns all.
func (s *Schedules) ListRuns(_ context.Context, scheduleID string, limit int) ([]*models.CronRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*models.CronRun, 0)
	for _, run := range s.runs {
		if run.ScheduleID == scheduleID {
			runs = append(runs, deepCopy(run))
		}
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].At.After(runs[j].At) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
