// Package store declares the persistence contracts the core consumes.
// Implementations live elsewhere; the core never speaks SQL. The in-memory
// implementation under store/memory backs tests and single-node use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiln-ci/kiln/pkg/events"
	"github.com/kiln-ci/kiln/pkg/models"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a create collides with an existing
// record.
var ErrAlreadyExists = errors.New("already exists")

// Jobs persists registered jobs, keyed by (org, name).
type Jobs interface {
	Create(ctx context.Context, job *models.Job) error
	Update(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, org, name string) (*models.Job, error)
	List(ctx context.Context, org string) ([]*models.Job, error)
	Delete(ctx context.Context, org, name string) error
}

// Builds persists build records, including their embedded stage and step
// results.
type Builds interface {
	// Create persists a new build and assigns its Number: the next value
	// of a monotonic per-(org, job) counter. Assignment is serialized, so
	// two concurrent creates for the same job never share a number.
	Create(ctx context.Context, build *models.Build) error
	Update(ctx context.Context, build *models.Build) error
	Get(ctx context.Context, id string) (*models.Build, error)
	// ListForJob returns the most recent builds for a job, newest first.
	// A non-positive limit means no limit.
	ListForJob(ctx context.Context, org, job string, limit int) ([]*models.Build, error)
}

// Artifacts persists collected artifact metadata.
type Artifacts interface {
	Create(ctx context.Context, artifact *models.Artifact) error
	ListForBuild(ctx context.Context, buildID string) ([]*models.Artifact, error)
}

// Gates persists approval gates.
type Gates interface {
	Create(ctx context.Context, gate *models.ApprovalGate) error
	Update(ctx context.Context, gate *models.ApprovalGate) error
	Get(ctx context.Context, id string) (*models.ApprovalGate, error)
	ListPending(ctx context.Context, org string) ([]*models.ApprovalGate, error)
}

// Policies persists governance policies.
type Policies interface {
	Put(ctx context.Context, policy *models.Policy) error
	Delete(ctx context.Context, id string) error
	// ListEnabled returns the enabled policies for an org, highest
	// priority first.
	ListEnabled(ctx context.Context, org string) ([]*models.Policy, error)
}

// Schedules persists cron schedules and their run audit trail.
type Schedules interface {
	Put(ctx context.Context, schedule *models.CronSchedule) error
	Get(ctx context.Context, id string) (*models.CronSchedule, error)
	ListEnabled(ctx context.Context) ([]*models.CronSchedule, error)
	RecordRun(ctx context.Context, run *models.CronRun) error
	// ListRuns returns the most recent runs for a schedule, newest first.
	// A non-positive limit means no limit.
	ListRuns(ctx context.Context, scheduleID string, limit int) ([]*models.CronRun, error)
}

// CacheEntries persists dependency cache metadata. Entries are immutable
// after creation except for hit bookkeeping.
type CacheEntries interface {
	// Create fails with ErrAlreadyExists when (org, job, key) is taken;
	// the first writer wins.
	Create(ctx context.Context, entry *models.CacheEntry) error
	Get(ctx context.Context, org, job, key string) (*models.CacheEntry, error)
	// ListForJob returns a job's entries, newest first, for restore-key
	// prefix scans.
	ListForJob(ctx context.Context, org, job string) ([]*models.CacheEntry, error)
	RecordHit(ctx context.Context, org, job, key string) error
	Delete(ctx context.Context, org, job, key string) error
	// DeleteOlderThan removes entries created before the cutoff and
	// returns the removed entries so callers can drop the backing
	// directories.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]*models.CacheEntry, error)
}

// StageCache persists successful stage results keyed by fingerprint, the
// result cache consulted before a stage runs.
type StageCache interface {
	Get(ctx context.Context, org, job, fingerprint string) (*models.StageResult, error)
	Put(ctx context.Context, org, job, fingerprint string, result *models.StageResult) error
}

// Notifications records dispatch attempts.
type Notifications interface {
	Create(ctx context.Context, record *models.NotificationRecord) error
	ListForBuild(ctx context.Context, buildID string) ([]*models.NotificationRecord, error)
}

// Events is the durable event trail. Append satisfies events.Sink so a
// store can be handed straight to the bus.
type Events interface {
	Append(ctx context.Context, evt events.Event) error
	ListForBuild(ctx context.Context, buildID string) ([]events.Event, error)
}

// Store bundles every persistence contract the core consumes. Wiring fills
// each field with one backend's implementation.
type Store struct {
	Jobs          Jobs
	Builds        Builds
	Artifacts     Artifacts
	Gates         Gates
	Policies      Policies
	Schedules     Schedules
	CacheEntries  CacheEntries
	StageCache    StageCache
	Notifications Notifications
	Events        Events
}
