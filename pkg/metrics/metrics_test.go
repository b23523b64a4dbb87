package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type panickyRecorder struct {
	Nop
}

func (panickyRecorder) BuildStarted(string, string) {
	panic("backend down")
}

func TestSafeSwallowsPanics(t *testing.T) {
	rec := Safe(panickyRecorder{})

	assert.NotPanics(t, func() {
		rec.BuildStarted("acme", "deploy")
	})
	// Non-panicking methods still pass through.
	assert.NotPanics(t, func() {
		rec.BuildCompleted("acme", "deploy", "success", time.Second)
	})
}

func TestSafeNilInner(t *testing.T) {
	rec := Safe(nil)
	assert.NotPanics(t, func() {
		rec.QueueDepth(3)
		rec.CronRun("triggered")
	})
}

func TestPrometheusRecorder(t *testing.T) {
	registry := prometheus.NewRegistry()
	rec := NewPrometheus(registry)

	rec.BuildStarted("acme", "deploy")
	rec.BuildCompleted("acme", "deploy", "success", 42*time.Second)
	rec.StageCompleted("acme", "deploy", "Compile", "success", time.Second)
	rec.StepCompleted("acme", "deploy", "success", time.Second)
	rec.CacheRestore(true)
	rec.CacheRestore(false)
	rec.ResultCacheLookup(true)
	rec.EventPublished("build-completed", "delivered")
	rec.EventBusDepth(17)
	rec.QueueDepth(2)
	rec.ActiveBuilds(5)
	rec.CronRun("missed")

	assert.Equal(t, float64(1), testutil.ToFloat64(
		rec.buildsStarted.WithLabelValues("acme", "deploy")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		rec.buildsCompleted.WithLabelValues("acme", "deploy", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		rec.cacheRestores.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		rec.cacheRestores.WithLabelValues("miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		rec.eventsPublished.WithLabelValues("build-completed", "delivered")))
	assert.Equal(t, float64(17), testutil.ToFloat64(rec.eventBusDepth))
	assert.Equal(t, float64(2), testutil.ToFloat64(rec.queueDepth))
	assert.Equal(t, float64(5), testutil.ToFloat64(rec.activeBuilds))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		rec.cronRuns.WithLabelValues("missed")))
}

func TestPrometheusRegistersCleanly(t *testing.T) {
	// Registering twice against the same registry would panic via promauto;
	// a fresh registry per server instance is the supported shape.
	registry := prometheus.NewRegistry()
	assert.NotPanics(t, func() { NewPrometheus(registry) })
	assert.Panics(t, func() { NewPrometheus(registry) })
}
