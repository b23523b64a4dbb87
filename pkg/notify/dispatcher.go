// Package notify routes completed builds to the notification targets their
// pipelines declare. Dispatch is best-effort: an unroutable target or a
// failed delivery is recorded and logged, never surfaced to the build.
package notify

import (
	"context"
	"time"

	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/plugin"
	"github.com/kiln-ci/kiln/pkg/store"
)

// DefaultSendTimeout bounds a single notifier call so a slow transport
// cannot hold up build finalization.
const DefaultSendTimeout = 30 * time.Second

// Dispatcher looks up a notifier plugin for each target kind and records
// every attempt.
type Dispatcher struct {
	registry *plugin.Registry
	records  store.Notifications
	timeout  time.Duration
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. A non-positive sendTimeout falls back
// to DefaultSendTimeout.
func NewDispatcher(registry *plugin.Registry, records store.Notifications, sendTimeout time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Dispatcher{
		registry: registry,
		records:  records,
		timeout:  sendTimeout,
		now:      time.Now,
	}
}

// Dispatch delivers the build to every declared target. Cancelled builds
// are still dispatched, so callers pass a context that outlives the run.
func (d *Dispatcher) Dispatch(ctx context.Context, build *models.Build) {
	for _, target := range build.Pipeline.Notify {
		d.dispatchOne(ctx, build, target)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, build *models.Build, target models.NotifyTarget) {
	logger := logctx.From(ctx)
	record := &models.NotificationRecord{
		BuildID: build.ID,
		Kind:    target.Kind,
		Target:  target.Target,
		At:      d.now().UTC(),
	}

	notifier, err := d.registry.Notifier(target.Kind)
	if err != nil {
		record.Error = err.Error()
		logger.Warn("No notifier for target",
			"kind", target.Kind,
			"target", target.Target,
			"error", err)
	} else {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err = notifier.Notify(sendCtx, plugin.Notification{Target: target, Build: build})
		cancel()
		if err != nil {
			record.Error = err.Error()
			logger.Error("Notification delivery failed",
				"kind", target.Kind,
				"target", target.Target,
				"error", err)
		} else {
			record.Sent = true
		}
	}

	if err := d.records.Create(ctx, record); err != nil {
		logger.Warn("Failed to record notification attempt",
			"kind", target.Kind,
			"error", err)
	}
}
