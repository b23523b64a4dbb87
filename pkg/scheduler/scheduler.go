package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiln-ci/kiln/pkg/config"
	"github.com/kiln-ci/kiln/pkg/lifecycle"
	"github.com/kiln-ci/kiln/pkg/metrics"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

// Scheduler polls enabled cron schedules and submits builds for the due
// ones. Slots further past due than the missed threshold are recorded as
// missed instead of fired; every due schedule is re-armed afterwards, so
// one broken cycle never replays.
type Scheduler struct {
	schedules store.Schedules
	jobs      store.Jobs
	manager   *lifecycle.Manager
	metrics   metrics.Recorder

	pollInterval    time.Duration
	missedThreshold time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler. Zero-valued config fields fall back to the
// defaults; a nil recorder disables metrics.
func New(cfg config.CronConfig, schedules store.Schedules, jobs store.Jobs, manager *lifecycle.Manager, rec metrics.Recorder) *Scheduler {
	poll := cfg.PollInterval()
	if poll <= 0 {
		poll = time.Duration(config.DefaultCronPollSeconds) * time.Second
	}
	missed := cfg.MissedRunThreshold()
	if missed <= 0 {
		missed = time.Duration(config.DefaultMissedRunThresholdMinutes) * time.Minute
	}
	return &Scheduler{
		schedules:       schedules,
		jobs:            jobs,
		manager:         manager,
		metrics:         metrics.Safe(rec),
		pollInterval:    poll,
		missedThreshold: missed,
	}
}

// Start launches the background polling loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Scheduler started",
		"poll_interval", s.pollInterval.String(),
		"missed_threshold", s.missedThreshold.String())
}

// Stop signals the polling loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.Poll(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll runs one scheduler cycle over every enabled schedule. The
// background loop repeats it; tests call it directly to drive cycles
// deterministically.
func (s *Scheduler) Poll(ctx context.Context) {
	schedules, err := s.schedules.ListEnabled(ctx)
	if err != nil {
		slog.Error("Scheduler failed to list schedules", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, sched := range schedules {
		if ctx.Err() != nil {
			return
		}
		s.evaluate(ctx, sched, now)
	}
}

// evaluate processes one schedule against the poll instant. A schedule
// seen for the first time (zero next-run-at) is armed without firing.
func (s *Scheduler) evaluate(ctx context.Context, sched *models.CronSchedule, now time.Time) {
	log := slog.With("schedule_id", sched.ID, "org", sched.Org, "job", sched.JobName)

	if sched.NextRunAt.IsZero() {
		if err := s.advance(ctx, sched, now); err != nil {
			log.Error("Failed to arm schedule", "error", err)
		}
		return
	}
	if sched.NextRunAt.After(now) {
		return
	}

	late := now.Sub(sched.NextRunAt)
	if late > s.missedThreshold {
		s.recordRun(ctx, sched, models.CronRunMissed, "",
			fmt.Sprintf("slot %s missed by %s", sched.NextRunAt.Format(time.RFC3339), late.Round(time.Second)))
		log.Warn("Cron slot missed",
			"slot", sched.NextRunAt.Format(time.RFC3339),
			"late", late.Round(time.Second).String())
	} else {
		s.fire(ctx, sched, log)
	}

	if err := s.advance(ctx, sched, now); err != nil {
		log.Error("Failed to re-arm schedule", "error", err)
	}
}

// fire submits a build for the schedule's job.
func (s *Scheduler) fire(ctx context.Context, sched *models.CronSchedule, log *slog.Logger) {
	job, err := s.jobs.Get(ctx, sched.Org, sched.JobName)
	if err != nil {
		s.recordRun(ctx, sched, models.CronRunError, "", fmt.Sprintf("job lookup failed: %v", err))
		log.Error("Cron job lookup failed", "error", err)
		return
	}

	trigger := models.TriggerInfo{
		Kind: models.TriggerCron,
		Metadata: map[string]string{
			"cron-schedule-id": sched.ID,
			"cron-expression":  sched.Expression,
		},
	}
	build, err := s.manager.Submit(ctx, job, trigger, lifecycle.Options{Params: sched.Params})
	if err != nil {
		s.recordRun(ctx, sched, models.CronRunError, buildID(build), fmt.Sprintf("submission failed: %v", err))
		log.Error("Cron submission failed", "error", err)
		return
	}
	s.recordRun(ctx, sched, models.CronRunTriggered, build.ID, "")
	log.Info("Cron build triggered", "build_id", build.ID, "number", build.Number)
}

// advance recomputes next-run-at from the poll instant in the schedule's
// timezone and persists the schedule.
func (s *Scheduler) advance(ctx context.Context, sched *models.CronSchedule, now time.Time) error {
	expr, err := ParseCron(sched.Expression)
	if err != nil {
		return err
	}
	loc, err := sched.Location()
	if err != nil {
		return fmt.Errorf("resolving timezone %q: %w", sched.Timezone, err)
	}
	next := expr.Next(now.In(loc))
	if next.IsZero() {
		return fmt.Errorf("expression %q never matches within a year", sched.Expression)
	}

	if !sched.NextRunAt.IsZero() {
		at := now
		sched.LastRunAt = &at
	}
	sched.NextRunAt = next.UTC()
	return s.schedules.Put(ctx, sched)
}

// recordRun appends one audit row and bumps the outcome counter. Audit
// failures are logged; the schedule still advances.
func (s *Scheduler) recordRun(ctx context.Context, sched *models.CronSchedule, outcome models.CronRunOutcome, buildID, message string) {
	run := &models.CronRun{
		ID:         uuid.NewString(),
		ScheduleID: sched.ID,
		Org:        sched.Org,
		JobName:    sched.JobName,
		Outcome:    outcome,
		BuildID:    buildID,
		Message:    message,
		At:         time.Now().UTC(),
	}
	if err := s.schedules.RecordRun(ctx, run); err != nil {
		slog.Warn("Failed to record cron run",
			"schedule_id", sched.ID,
			"outcome", string(outcome),
			"error", err)
	}
	s.metrics.CronRun(string(outcome))
}

func buildID(b *models.Build) string {
	if b == nil {
		return ""
	}
	return b.ID
}
