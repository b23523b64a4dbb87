package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kiln-ci/kiln/pkg/events"
	"github.com/kiln-ci/kiln/pkg/lifecycle"
	"github.com/kiln-ci/kiln/pkg/models"
)

const waitTimeout = 10 * time.Second

// testJob builds a job record for the acme org.
func testJob(name string, p models.Pipeline) *models.Job {
	return &models.Job{Name: name, Org: "acme", Pipeline: p}
}

// shellStage builds a single-step shell stage.
func shellStage(stage, step, command string) models.Stage {
	return models.Stage{
		Name:  stage,
		Steps: []models.Step{{Name: step, Command: command}},
	}
}

// execute runs one build synchronously on the caller's goroutine and
// returns the terminal record.
func (app *TestApp) execute(job *models.Job) *models.Build {
	app.t.Helper()
	build, err := app.Runtime.Manager.Execute(context.Background(), job,
		models.TriggerInfo{Kind: models.TriggerManual, By: "e2e"}, lifecycle.Options{})
	require.NoError(app.t, err)
	return build
}

// submit enqueues one build to the worker pool and returns the queued
// record immediately.
func (app *TestApp) submit(job *models.Job) *models.Build {
	app.t.Helper()
	build, err := app.Runtime.Manager.Submit(context.Background(), job,
		models.TriggerInfo{Kind: models.TriggerManual, By: "e2e"}, lifecycle.Options{})
	require.NoError(app.t, err)
	return build
}

// waitTerminal polls the store until the build reaches a terminal status.
func (app *TestApp) waitTerminal(buildID string) *models.Build {
	app.t.Helper()
	var build *models.Build
	require.Eventually(app.t, func() bool {
		b, err := app.Store.Builds.Get(context.Background(), buildID)
		if err != nil {
			return false
		}
		build = b
		return b.Status.Terminal()
	}, waitTimeout, 10*time.Millisecond, "build %s never reached a terminal status", buildID)
	return build
}

// stageResult finds a stage result by name, failing the test when absent.
func stageResult(t *testing.T, build *models.Build, name string) models.StageResult {
	t.Helper()
	result, ok := build.StageResult(name)
	require.True(t, ok, "build has no stage result %q (has %v)", name, build.StageNames())
	return *result
}

// collectUntil drains the subscription until an event of the given type
// arrives for the build, returning every event seen for that build in
// publication order. Subscribe before triggering the build or the early
// events are lost.
func collectUntil(t *testing.T, sub *events.Subscription, buildID string, until events.Type) []events.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	var seen []events.Event
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for %s (saw %v)", until, typesOf(seen))
			}
			if evt.BuildID != buildID {
				continue
			}
			seen = append(seen, evt)
			if evt.Type == until {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s (saw %v)", until, typesOf(seen))
		}
	}
}

// typesOf projects events onto their types.
func typesOf(evts []events.Event) []events.Type {
	out := make([]events.Type, len(evts))
	for i, evt := range evts {
		out[i] = evt.Type
	}
	return out
}

// indexOf returns the position of the first event of the given type, or
// -1.
func indexOf(types []events.Type, t events.Type) int {
	for i, candidate := range types {
		if candidate == t {
			return i
		}
	}
	return -1
}
