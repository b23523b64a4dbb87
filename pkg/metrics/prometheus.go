package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus records measurements into a Prometheus registry.
type Prometheus struct {
	buildsStarted    *prometheus.CounterVec
	buildsCompleted  *prometheus.CounterVec
	buildDuration    *prometheus.HistogramVec
	stagesCompleted  *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	stepsCompleted   *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	cacheRestores    *prometheus.CounterVec
	resultCacheHits  *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	eventBusDepth    prometheus.Gauge
	queueDepth       prometheus.Gauge
	activeBuilds     prometheus.Gauge
	cronRuns         *prometheus.CounterVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus registers the core's metric families with the given
// registerer and returns the recorder. Pass prometheus.DefaultRegisterer
// for the process-wide registry.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		buildsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_builds_started_total",
			Help: "Builds picked up by a worker.",
		}, []string{"org", "job"}),
		buildsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_builds_completed_total",
			Help: "Builds finished, by terminal status.",
		}, []string{"org", "job", "status"}),
		buildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kiln_build_duration_seconds",
			Help:    "Wall-clock build duration.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"org", "job", "status"}),
		stagesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_stages_completed_total",
			Help: "Stages finished, by status.",
		}, []string{"org", "job", "stage", "status"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kiln_stage_duration_seconds",
			Help:    "Wall-clock stage duration.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"org", "job", "stage"}),
		stepsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_steps_completed_total",
			Help: "Steps finished, by status.",
		}, []string{"org", "job", "status"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kiln_step_duration_seconds",
			Help:    "Wall-clock step duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"org", "job"}),
		cacheRestores: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_cache_restores_total",
			Help: "Dependency cache restore attempts, by outcome.",
		}, []string{"outcome"}),
		resultCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_result_cache_lookups_total",
			Help: "Stage result cache lookups, by outcome.",
		}, []string{"outcome"}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_events_published_total",
			Help: "Event publish attempts, by type and outcome.",
		}, []string{"type", "outcome"}),
		eventBusDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kiln_event_bus_depth",
			Help: "Events waiting in the bus main channel.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kiln_build_queue_depth",
			Help: "Builds waiting for a worker.",
		}),
		activeBuilds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kiln_active_builds",
			Help: "Builds currently executing.",
		}),
		cronRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_cron_runs_total",
			Help: "Scheduler decisions for due schedules, by outcome.",
		}, []string{"outcome"}),
	}
}

func (p *Prometheus) BuildStarted(org, job string) {
	p.buildsStarted.WithLabelValues(org, job).Inc()
}

func (p *Prometheus) BuildCompleted(org, job, status string, d time.Duration) {
	p.buildsCompleted.WithLabelValues(org, job, status).Inc()
	p.buildDuration.WithLabelValues(org, job, status).Observe(d.Seconds())
}

func (p *Prometheus) StageCompleted(org, job, stage, status string, d time.Duration) {
	p.stagesCompleted.WithLabelValues(org, job, stage, status).Inc()
	p.stageDuration.WithLabelValues(org, job, stage).Observe(d.Seconds())
}

func (p *Prometheus) StepCompleted(org, job, status string, d time.Duration) {
	p.stepsCompleted.WithLabelValues(org, job, status).Inc()
	p.stepDuration.WithLabelValues(org, job).Observe(d.Seconds())
}

func (p *Prometheus) CacheRestore(hit bool) {
	p.cacheRestores.WithLabelValues(outcomeLabel(hit)).Inc()
}

func (p *Prometheus) ResultCacheLookup(hit bool) {
	p.resultCacheHits.WithLabelValues(outcomeLabel(hit)).Inc()
}

func (p *Prometheus) EventPublished(eventType, outcome string) {
	p.eventsPublished.WithLabelValues(eventType, outcome).Inc()
}

func (p *Prometheus) EventBusDepth(depth int) {
	p.eventBusDepth.Set(float64(depth))
}

func (p *Prometheus) QueueDepth(depth int) {
	p.queueDepth.Set(float64(depth))
}

func (p *Prometheus) ActiveBuilds(count int) {
	p.activeBuilds.Set(float64(count))
}

func (p *Prometheus) CronRun(outcome string) {
	p.cronRuns.WithLabelValues(outcome).Inc()
}

func outcomeLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
