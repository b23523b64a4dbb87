package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiln-ci/kiln/pkg/plugin"
)

// LogNotifier is the default notifier: it writes the completion summary to
// the structured log. Registered out of the box so pipelines can declare
// `kind: log` without any transport configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates the log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: slog.Default().With("component", "notify")}
}

// Kind implements plugin.Notifier.
func (n *LogNotifier) Kind() string {
	return "log"
}

// Notify implements plugin.Notifier.
func (n *LogNotifier) Notify(_ context.Context, msg plugin.Notification) error {
	build := msg.Build
	n.logger.Info("Build completed",
		"org", build.Org,
		"job", build.JobName,
		"number", build.Number,
		"status", string(build.Status),
		"duration", build.Duration().Round(time.Millisecond).String(),
		"target", msg.Target.Target)
	return nil
}
