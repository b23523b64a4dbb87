// Package metrics defines the recorder the core reports through. The
// executor and its collaborators only ever see the Recorder interface,
// wrapped so a broken backend can never take a build down with it.
package metrics

import (
	"log/slog"
	"time"
)

// Recorder receives operational measurements from the core. Implementations
// must be safe for concurrent use.
type Recorder interface {
	BuildStarted(org, job string)
	BuildCompleted(org, job, status string, duration time.Duration)
	StageCompleted(org, job, stage, status string, duration time.Duration)
	StepCompleted(org, job, status string, duration time.Duration)
	CacheRestore(hit bool)
	ResultCacheLookup(hit bool)
	EventPublished(eventType, outcome string)
	EventBusDepth(depth int)
	QueueDepth(depth int)
	ActiveBuilds(count int)
	CronRun(outcome string)
}

// Nop is a Recorder that discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) BuildStarted(string, string)                                {}
func (Nop) BuildCompleted(string, string, string, time.Duration)       {}
func (Nop) StageCompleted(string, string, string, string, time.Duration) {}
func (Nop) StepCompleted(string, string, string, time.Duration)        {}
func (Nop) CacheRestore(bool)                                          {}
func (Nop) ResultCacheLookup(bool)                                     {}
func (Nop) EventPublished(string, string)                              {}
func (Nop) EventBusDepth(int)                                          {}
func (Nop) QueueDepth(int)                                             {}
func (Nop) ActiveBuilds(int)                                           {}
func (Nop) CronRun(string)                                             {}

// Safe wraps a recorder so panics in the backend are logged and swallowed.
// Metrics failures must never change a build outcome. A nil inner recorder
// yields a no-op.
func Safe(inner Recorder) Recorder {
	if inner == nil {
		inner = Nop{}
	}
	return &safeRecorder{inner: inner}
}

type safeRecorder struct {
	inner Recorder
}

func (s *safeRecorder) record(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Metrics recorder panicked", "metric", name, "panic", r)
		}
	}()
	fn()
}

func (s *safeRecorder) BuildStarted(org, job string) {
	s.record("build_started", func() { s.inner.BuildStarted(org, job) })
}

func (s *safeRecorder) BuildCompleted(org, job, status string, d time.Duration) {
	s.record("build_completed", func() { s.inner.BuildCompleted(org, job, status, d) })
}

func (s *safeRecorder) StageCompleted(org, job, stage, status string, d time.Duration) {
	s.record("stage_completed", func() { s.inner.StageCompleted(org, job, stage, status, d) })
}

func (s *safeRecorder) StepCompleted(org, job, status string, d time.Duration) {
	s.record("step_completed", func() { s.inner.StepCompleted(org, job, status, d) })
}

func (s *safeRecorder) CacheRestore(hit bool) {
	s.record("cache_restore", func() { s.inner.CacheRestore(hit) })
}

func (s *safeRecorder) ResultCacheLookup(hit bool) {
	s.record("result_cache_lookup", func() { s.inner.ResultCacheLookup(hit) })
}

func (s *safeRecorder) EventPublished(eventType, outcome string) {
	s.record("event_published", func() { s.inner.EventPublished(eventType, outcome) })
}

func (s *safeRecorder) EventBusDepth(depth int) {
	s.record("event_bus_depth", func() { s.inner.EventBusDepth(depth) })
}

func (s *safeRecorder) QueueDepth(depth int) {
	s.record("queue_depth", func() { s.inner.QueueDepth(depth) })
}

func (s *safeRecorder) ActiveBuilds(count int) {
	s.record("active_builds", func() { s.inner.ActiveBuilds(count) })
}

func (s *safeRecorder) CronRun(outcome string) {
	s.record("cron_run", func() { s.inner.CronRun(outcome) })
}
