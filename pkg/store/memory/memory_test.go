package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ci/kiln/pkg/events"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

func TestNewWiresEveryContract(t *testing.T) {
	s := New()

	assert.NotNil(t, s.Jobs)
	assert.NotNil(t, s.Builds)
	assert.NotNil(t, s.Artifacts)
	assert.NotNil(t, s.Gates)
	assert.NotNil(t, s.Policies)
	assert.NotNil(t, s.Schedules)
	assert.NotNil(t, s.CacheEntries)
	assert.NotNil(t, s.StageCache)
	assert.NotNil(t, s.Notifications)
	assert.NotNil(t, s.Events)
}

func TestJobsLifecycle(t *testing.T) {
	s := NewJobs()
	ctx := context.Background()

	job := &models.Job{
		Name: "deploy",
		Org:  "acme",
		Pipeline: models.Pipeline{
			Name:   "deploy",
			Stages: []models.Stage{{Name: "Build", Steps: []models.Step{{Name: "compile", Command: "make"}}}},
		},
	}
	require.NoError(t, s.Create(ctx, job))
	assert.ErrorIs(t, s.Create(ctx, job), store.ErrAlreadyExists)

	got, err := s.Get(ctx, "acme", "deploy")
	require.NoError(t, err)
	assert.Equal(t, "deploy", got.Pipeline.Name)

	_, err = s.Get(ctx, "acme", "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)

	job.Disabled = true
	require.NoError(t, s.Update(ctx, job))
	got, err = s.Get(ctx, "acme", "deploy")
	require.NoError(t, err)
	assert.True(t, got.Disabled)

	require.NoError(t, s.Create(ctx, &models.Job{Name: "alpha", Org: "acme"}))
	require.NoError(t, s.Create(ctx, &models.Job{Name: "beta", Org: "globex"}))

	acme, err := s.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, acme, 2)
	assert.Equal(t, "alpha", acme[0].Name, "sorted by name")

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.Delete(ctx, "acme", "deploy"))
	assert.ErrorIs(t, s.Delete(ctx, "acme", "deploy"), store.ErrNotFound)
}

func TestGatesLifecycle(t *testing.T) {
	s := NewGates()
	ctx := context.Background()

	gate := &models.ApprovalGate{
		ID:        "g-1",
		BuildID:   "b-1",
		Org:       "acme",
		Stage:     "Deploy",
		Status:    models.GateStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Create(ctx, gate))
	assert.ErrorIs(t, s.Create(ctx, gate), store.ErrAlreadyExists)

	older := &models.ApprovalGate{
		ID:        "g-0",
		BuildID:   "b-0",
		Org:       "acme",
		Stage:     "Release",
		Status:    models.GateStatusPending,
		CreatedAt: gate.CreatedAt.Add(-time.Hour),
	}
	require.NoError(t, s.Create(ctx, older))

	pending, err := s.ListPending(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "g-0", pending[0].ID, "oldest first")

	gate.Status = models.GateStatusApproved
	require.NoError(t, s.Update(ctx, gate))

	pending, err = s.ListPending(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "g-0", pending[0].ID)

	got, err := s.Get(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, models.GateStatusApproved, got.Status)
}

func TestPoliciesListEnabledOrdersByPriority(t *testing.T) {
	s := NewPolicies()
	ctx := context.Background()

	put := func(id, name string, priority int, enabled bool) {
		require.NoError(t, s.Put(ctx, &models.Policy{
			ID:       id,
			Org:      "acme",
			Name:     name,
			Kind:     models.PolicyBranchRestriction,
			Enabled:  enabled,
			Priority: priority,
		}))
	}
	put("p-low", "low", 1, true)
	put("p-high", "high", 10, true)
	put("p-off", "off", 99, false)
	put("p-mid-b", "mid-b", 5, true)
	put("p-mid-a", "mid-a", 5, true)

	enabled, err := s.ListEnabled(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, enabled, 4)
	assert.Equal(t, "high", enabled[0].Name)
	assert.Equal(t, "mid-a", enabled[1].Name, "priority ties break by name")
	assert.Equal(t, "mid-b", enabled[2].Name)
	assert.Equal(t, "low", enabled[3].Name)

	require.NoError(t, s.Delete(ctx, "p-high"))
	assert.ErrorIs(t, s.Delete(ctx, "p-high"), store.ErrNotFound)
}

func TestSchedulesLifecycle(t *testing.T) {
	s := NewSchedules()
	ctx := context.Background()

	sched := &models.CronSchedule{
		ID:         "cs-1",
		Org:        "acme",
		JobName:    "nightly",
		Expression: "0 2 * * *",
		Enabled:    true,
	}
	require.NoError(t, s.Put(ctx, sched))
	require.NoError(t, s.Put(ctx, &models.CronSchedule{ID: "cs-2", Org: "acme", JobName: "weekly", Enabled: false}))

	enabled, err := s.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "cs-1", enabled[0].ID)

	// Put is an upsert: replacing flips the stored record.
	sched.Enabled = false
	require.NoError(t, s.Put(ctx, sched))
	enabled, err = s.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	base := time.Now().UTC()
	for i, outcome := range []models.CronRunOutcome{models.CronRunTriggered, models.CronRunMissed, models.CronRunTriggered} {
		run := &models.CronRun{ScheduleID: "cs-1", Org: "acme", JobName: "nightly", Outcome: outcome, At: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.RecordRun(ctx, run))
		assert.NotEmpty(t, run.ID, "run ID assigned")
	}

	runs, err := s.ListRuns(ctx, "cs-1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, models.CronRunTriggered, runs[0].Outcome)
	assert.Equal(t, models.CronRunMissed, runs[1].Outcome, "newest first")
}

func TestCacheEntriesFirstWriterWins(t *testing.T) {
	s := NewCacheEntries()
	ctx := context.Background()

	entry := &models.CacheEntry{
		Org:       "acme",
		JobName:   "deploy",
		Key:       "deps-abcd1234",
		Paths:     "node_modules",
		SizeBytes: 1024,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Create(ctx, entry))
	assert.ErrorIs(t, s.Create(ctx, entry), store.ErrAlreadyExists)

	require.NoError(t, s.RecordHit(ctx, "acme", "deploy", "deps-abcd1234"))
	require.NoError(t, s.RecordHit(ctx, "acme", "deploy", "deps-abcd1234"))

	got, err := s.Get(ctx, "acme", "deploy", "deps-abcd1234")
	require.NoError(t, err)
	assert.Equal(t, 2, got.HitCount)
	require.NotNil(t, got.LastHitAt)

	assert.ErrorIs(t, s.RecordHit(ctx, "acme", "deploy", "ghost"), store.ErrNotFound)
}

func TestCacheEntriesListAndRetention(t *testing.T) {
	s := NewCacheEntries()
	ctx := context.Background()
	now := time.Now().UTC()

	create := func(key string, age time.Duration) {
		require.NoError(t, s.Create(ctx, &models.CacheEntry{
			Org:       "acme",
			JobName:   "deploy",
			Key:       key,
			Paths:     "vendor",
			CreatedAt: now.Add(-age),
		}))
	}
	create("deps-old", 72*time.Hour)
	create("deps-new", time.Hour)
	create("deps-mid", 24*time.Hour)

	entries, err := s.ListForJob(ctx, "acme", "deploy")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "deps-new", entries[0].Key, "newest first")
	assert.Equal(t, "deps-old", entries[2].Key)

	removed, err := s.DeleteOlderThan(ctx, now.Add(-48*time.Hour))
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "deps-old", removed[0].Key)

	entries, err = s.ListForJob(ctx, "acme", "deploy")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStageCacheRoundTrip(t *testing.T) {
	s := NewStageCache()
	ctx := context.Background()

	_, err := s.Get(ctx, "acme", "deploy", "fp-1234")
	assert.ErrorIs(t, err, store.ErrNotFound)

	result := &models.StageResult{
		Name:        "Build",
		Status:      models.StageStatusSuccess,
		Fingerprint: "fp-1234",
	}
	require.NoError(t, s.Put(ctx, "acme", "deploy", "fp-1234", result))

	got, err := s.Get(ctx, "acme", "deploy", "fp-1234")
	require.NoError(t, err)
	assert.Equal(t, "Build", got.Name)
	assert.Equal(t, models.StageStatusSuccess, got.Status)

	// Same fingerprint under another job is a miss.
	_, err = s.Get(ctx, "acme", "lint", "fp-1234")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Error(t, s.Put(ctx, "acme", "deploy", "", result))
}

func TestArtifactsAndNotifications(t *testing.T) {
	artifacts := NewArtifacts()
	notifications := NewNotifications()
	ctx := context.Background()

	a := &models.Artifact{BuildID: "b-1", FileName: "app.tar.gz", SizeBytes: 2048}
	require.NoError(t, artifacts.Create(ctx, a))
	assert.NotEmpty(t, a.ID)
	assert.Error(t, artifacts.Create(ctx, &models.Artifact{FileName: "orphan"}))

	list, err := artifacts.ListForBuild(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "app.tar.gz", list[0].FileName)

	n := &models.NotificationRecord{BuildID: "b-1", Kind: "log", Sent: true}
	require.NoError(t, notifications.Create(ctx, n))
	assert.NotEmpty(t, n.ID)

	records, err := notifications.ListForBuild(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Sent)
}

func TestEventsTrail(t *testing.T) {
	s := NewEvents()
	ctx := context.Background()

	evt := events.New("b-1", events.TypeBuildStarted, events.BuildPayload{Org: "acme", Job: "deploy", Number: 7})
	require.NoError(t, s.Append(ctx, evt))
	require.NoError(t, s.Append(ctx, events.New("b-1", events.TypeBuildCompleted, events.BuildPayload{Status: "success"})))
	require.NoError(t, s.Append(ctx, events.New("b-2", events.TypeBuildStarted, nil)))

	trail, err := s.ListForBuild(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, events.TypeBuildStarted, trail[0].Type)
	assert.Equal(t, events.TypeBuildCompleted, trail[1].Type)

	// Payloads round-trip through JSON into generic maps.
	data, ok := trail[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "acme", data["org"])
}
