package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return &buf
}

func TestFromCarriesScope(t *testing.T) {
	buf := captureDefault(t)

	ctx := WithBuild(context.Background(), "b-123")
	ctx = WithStage(ctx, "Compile")
	ctx = WithStep(ctx, "unit")

	From(ctx).Info("step finished")

	out := buf.String()
	assert.Contains(t, out, "build_id=b-123")
	assert.Contains(t, out, "stage=Compile")
	assert.Contains(t, out, "step=unit")
}

func TestFromBareContext(t *testing.T) {
	buf := captureDefault(t)

	From(context.Background()).Info("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), "build_id")
}

func TestScopesDoNotLeakUpward(t *testing.T) {
	buf := captureDefault(t)

	parent := WithBuild(context.Background(), "b-123")
	_ = WithStage(parent, "Compile")

	From(parent).Info("parent scope")

	out := buf.String()
	require.Contains(t, out, "build_id=b-123")
	assert.NotContains(t, out, "stage=")
}

func TestWithJob(t *testing.T) {
	buf := captureDefault(t)

	From(WithJob(context.Background(), "acme", "deploy")).Info("queued")

	out := buf.String()
	assert.Contains(t, out, "org=acme")
	assert.Contains(t, out, "job=deploy")
}
