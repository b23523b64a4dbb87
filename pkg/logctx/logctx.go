// Package logctx carries logging scope through context so call sites do
// not thread build/stage/step identifiers by hand. Components decorate the
// context once at a boundary; everything below logs through From and gets
// the accumulated attributes for free.
package logctx

import (
	"context"
	"log/slog"
)

type contextKey int

const attrsKey contextKey = iota

// With returns a context whose logger carries the given attributes in
// addition to any already present.
func With(ctx context.Context, attrs ...slog.Attr) context.Context {
	existing := attrsFrom(ctx)
	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, attrsKey, merged)
}

// WithBuild scopes the context logger to a build.
func WithBuild(ctx context.Context, buildID string) context.Context {
	return With(ctx, slog.String("build_id", buildID))
}

// WithJob scopes the context logger to a job.
func WithJob(ctx context.Context, org, job string) context.Context {
	return With(ctx, slog.String("org", org), slog.String("job", job))
}

// WithStage scopes the context logger to a stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return With(ctx, slog.String("stage", stage))
}

// WithStep scopes the context logger to a step.
func WithStep(ctx context.Context, step string) context.Context {
	return With(ctx, slog.String("step", step))
}

// From returns the default logger decorated with every attribute carried
// by the context. Safe on a bare context.
func From(ctx context.Context) *slog.Logger {
	attrs := attrsFrom(ctx)
	if len(attrs) == 0 {
		return slog.Default()
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return slog.Default().With(args...)
}

func attrsFrom(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(attrsKey).([]slog.Attr)
	return attrs
}
