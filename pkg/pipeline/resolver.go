package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/plugin"
)

// definitionDir is the directory inside a checked-out workspace that holds
// pipeline-as-code files.
const definitionDir = ".kiln"

// definitionFiles are the candidate definition file names, in precedence
// order. EDN outranks YAML, but only resolves when an EDN format plug-in
// was registered.
var definitionFiles = []string{"pipeline.edn", "pipeline.yaml", "pipeline.yml"}

// Resolver picks the effective pipeline for a build.
type Resolver struct {
	registry              *plugin.Registry
	maxMatrixCombinations int
}

// NewResolver creates a resolver backed by the plug-in registry's pipeline
// formats.
func NewResolver(registry *plugin.Registry, maxMatrixCombinations int) *Resolver {
	return &Resolver{
		registry:              registry,
		maxMatrixCombinations: maxMatrixCombinations,
	}
}

// Resolve returns the pipeline the build should execute and a tag recording
// where it came from.
//
// The first definition file present in the workspace with a registered
// format wins. Its parsed pipeline replaces the server pipeline's stages
// and any top-level fields it specifies. A file that fails to parse or
// produces an invalid pipeline is reported and the server pipeline is used
// unchanged; a broken workspace definition must not strand the job.
func (r *Resolver) Resolve(ctx context.Context, workspaceDir string, server *models.Pipeline) (*models.Pipeline, models.PipelineSource) {
	logger := logctx.From(ctx)

	for _, name := range definitionFiles {
		path := filepath.Join(workspaceDir, definitionDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		ext := filepath.Ext(name)
		format, err := r.registry.PipelineFormat(ext)
		if err != nil {
			if errors.Is(err, plugin.ErrNotRegistered) {
				logger.Debug("Skipping pipeline definition with unregistered format",
					"file", path,
					"extension", ext)
				continue
			}
			logger.Warn("Failed to look up pipeline format, using server pipeline",
				"file", path,
				"error", err)
			return server, models.PipelineSourceServer
		}

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Failed to read pipeline definition, using server pipeline",
				"file", path,
				"error", err)
			return server, models.PipelineSourceServer
		}

		parsed, err := format.Parse(data)
		if err != nil {
			logger.Warn("Failed to parse pipeline definition, using server pipeline",
				"file", path,
				"error", err)
			return server, models.PipelineSourceServer
		}

		merged := overlay(server, parsed)
		if err := merged.Validate(r.maxMatrixCombinations); err != nil {
			logger.Warn("Workspace pipeline definition is invalid, using server pipeline",
				"file", path,
				"error", err)
			return server, models.PipelineSourceServer
		}

		source := sourceFor(ext)
		logger.Info("Resolved pipeline from workspace definition",
			"file", filepath.Join(definitionDir, name),
			"pipeline_source", string(source),
			"stages", len(merged.Stages))
		return merged, source
	}

	return server, models.PipelineSourceServer
}

// overlay replaces the server pipeline's stages and any top-level fields
// the workspace definition specifies. The git source always stays with the
// job: by the time a workspace definition exists, checkout already
// happened.
func overlay(server, parsed *models.Pipeline) *models.Pipeline {
	merged := *server
	merged.Stages = parsed.Stages

	if parsed.Name != "" {
		merged.Name = parsed.Name
	}
	if parsed.Description != "" {
		merged.Description = parsed.Description
	}
	if len(parsed.Params) > 0 {
		merged.Params = parsed.Params
	}
	if parsed.Matrix != nil {
		merged.Matrix = parsed.Matrix
	}
	if parsed.Container != nil {
		merged.Container = parsed.Container
	}
	if len(parsed.Artifacts) > 0 {
		merged.Artifacts = parsed.Artifacts
	}
	if len(parsed.Notify) > 0 {
		merged.Notify = parsed.Notify
	}
	if !parsed.PostActions.Empty() {
		merged.PostActions = parsed.PostActions
	}
	return &merged
}

func sourceFor(ext string) models.PipelineSource {
	if ext == ".edn" {
		return models.PipelineSourceWorkspaceEDN
	}
	return models.PipelineSourceWorkspaceYAML
}
