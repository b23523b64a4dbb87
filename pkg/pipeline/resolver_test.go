package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/plugin"
)

func serverPipeline() *models.Pipeline {
	return &models.Pipeline{
		Name:        "server-pipeline",
		Description: "registered with the job",
		Source:      &models.GitSource{URL: "https://example.com/demo.git", Branch: "main"},
		Params:      map[string]string{"env": "staging"},
		Stages: []models.Stage{
			{Name: "Build", Steps: []models.Step{{Name: "compile", Command: "make"}}},
		},
		Artifacts: []string{"dist/*.tar.gz"},
	}
}

func newTestResolver(t *testing.T, formats ...plugin.PipelineFormat) *Resolver {
	t.Helper()
	registry := plugin.NewRegistry()
	require.NoError(t, registry.RegisterPipelineFormat(NewYAMLFormat()))
	for _, f := range formats {
		require.NoError(t, registry.RegisterPipelineFormat(f))
	}
	return NewResolver(registry, 25)
}

func writeDefinition(t *testing.T, workspace, name, content string) {
	t.Helper()
	dir := filepath.Join(workspace, definitionDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

type ednFormat struct {
	pipeline *models.Pipeline
	err      error
}

func (f *ednFormat) Extensions() []string { return []string{".edn"} }

func (f *ednFormat) Parse(_ []byte) (*models.Pipeline, error) {
	return f.pipeline, f.err
}

func TestResolveWithoutDefinitionUsesServerPipeline(t *testing.T) {
	resolver := newTestResolver(t)

	got, source := resolver.Resolve(context.Background(), t.TempDir(), serverPipeline())

	assert.Equal(t, models.PipelineSourceServer, source)
	assert.Equal(t, "server-pipeline", got.Name)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "Build", got.Stages[0].Name)
}

func TestResolveYAMLDefinitionReplacesStages(t *testing.T) {
	resolver := newTestResolver(t)
	workspace := t.TempDir()
	writeDefinition(t, workspace, "pipeline.yaml", `
stages:
  - name: Lint
    steps:
      - name: vet
        command: go vet ./...
  - name: Test
    depends-on: [Lint]
    steps:
      - name: unit
        command: go test ./...
artifacts:
  - coverage.out
`)

	got, source := resolver.Resolve(context.Background(), workspace, serverPipeline())

	assert.Equal(t, models.PipelineSourceWorkspaceYAML, source)
	require.Len(t, got.Stages, 2)
	assert.Equal(t, "Lint", got.Stages[0].Name)
	assert.Equal(t, []string{"Lint"}, got.Stages[1].DependsOn)
	assert.Equal(t, []string{"coverage.out"}, got.Artifacts)

	// Fields the definition does not specify stay with the server pipeline.
	assert.Equal(t, "server-pipeline", got.Name)
	assert.Equal(t, "registered with the job", got.Description)
	assert.Equal(t, map[string]string{"env": "staging"}, got.Params)
	require.NotNil(t, got.Source)
	assert.Equal(t, "https://example.com/demo.git", got.Source.URL)
}

func TestResolveWorkspaceSourceNeverReplaced(t *testing.T) {
	resolver := newTestResolver(t)
	workspace := t.TempDir()
	writeDefinition(t, workspace, "pipeline.yaml", `
source:
  url: https://evil.example.com/other.git
stages:
  - name: Build
    steps:
      - name: compile
        command: make
`)

	got, _ := resolver.Resolve(context.Background(), workspace, serverPipeline())

	require.NotNil(t, got.Source)
	assert.Equal(t, "https://example.com/demo.git", got.Source.URL)
}

func TestResolveEDNWinsWhenRegistered(t *testing.T) {
	edn := &ednFormat{pipeline: &models.Pipeline{
		Name:   "from-edn",
		Stages: []models.Stage{{Name: "EDN", Steps: []models.Step{{Name: "run", Command: "true"}}}},
	}}
	resolver := newTestResolver(t, edn)
	workspace := t.TempDir()
	writeDefinition(t, workspace, "pipeline.edn", `{:stages []}`)
	writeDefinition(t, workspace, "pipeline.yaml", `
stages:
  - name: YAML
    steps:
      - name: run
        command: "true"
`)

	got, source := resolver.Resolve(context.Background(), workspace, serverPipeline())

	assert.Equal(t, models.PipelineSourceWorkspaceEDN, source)
	assert.Equal(t, "from-edn", got.Name)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "EDN", got.Stages[0].Name)
}

func TestResolveEDNSkippedWithoutPlugin(t *testing.T) {
	resolver := newTestResolver(t)
	workspace := t.TempDir()
	writeDefinition(t, workspace, "pipeline.edn", `{:stages []}`)
	writeDefinition(t, workspace, "pipeline.yml", `
stages:
  - name: YAML
    steps:
      - name: run
        command: "true"
`)

	got, source := resolver.Resolve(context.Background(), workspace, serverPipeline())

	assert.Equal(t, models.PipelineSourceWorkspaceYAML, source)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "YAML", got.Stages[0].Name)
}

func TestResolveFallsBackOnBrokenDefinition(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "unparseable YAML",
			content: "stages: [unclosed",
		},
		{
			name:    "no stages",
			content: "name: empty\n",
		},
		{
			name: "invalid pipeline",
			content: `
stages:
  - name: Build
    steps:
      - name: compile
        command: make
  - name: Build
    steps:
      - name: again
        command: make
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := newTestResolver(t)
			workspace := t.TempDir()
			writeDefinition(t, workspace, "pipeline.yaml", tt.content)

			got, source := resolver.Resolve(context.Background(), workspace, serverPipeline())

			assert.Equal(t, models.PipelineSourceServer, source)
			assert.Equal(t, "server-pipeline", got.Name)
		})
	}
}

func TestYAMLFormatParse(t *testing.T) {
	format := NewYAMLFormat()

	assert.Equal(t, []string{".yaml", ".yml"}, format.Extensions())

	p, err := format.Parse([]byte(`
name: workspace
stages:
  - name: Build
    steps:
      - name: compile
        command: make
        timeout-seconds: 120
post-actions:
  always:
    - name: cleanup
      command: rm -rf tmp
`))
	require.NoError(t, err)
	assert.Equal(t, "workspace", p.Name)
	require.Len(t, p.Stages, 1)
	assert.Equal(t, 120, p.Stages[0].Steps[0].TimeoutSeconds)
	require.NotNil(t, p.PostActions)
	require.Len(t, p.PostActions.Always, 1)
	assert.Equal(t, "cleanup", p.PostActions.Always[0].Name)

	_, err = format.Parse([]byte("stages: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse pipeline definition")

	_, err = format.Parse([]byte("name: hollow\n"))
	assert.ErrorContains(t, err, "declares no stages")
}
