// Package pipeline resolves the effective pipeline for a build: the
// server-side definition registered with the job, optionally replaced by a
// pipeline-as-code file committed to the repository.
package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kiln-ci/kiln/pkg/models"
)

// YAMLFormat is the built-in pipeline-as-code parser for .yaml/.yml
// definition files.
type YAMLFormat struct{}

// NewYAMLFormat creates the default YAML pipeline format.
func NewYAMLFormat() *YAMLFormat {
	return &YAMLFormat{}
}

// Extensions returns the file extensions this format claims.
func (f *YAMLFormat) Extensions() []string {
	return []string{".yaml", ".yml"}
}

// Parse unmarshals a workspace pipeline definition. A definition that
// declares no stages is rejected; it would have nothing to replace.
func (f *YAMLFormat) Parse(data []byte) (*models.Pipeline, error) {
	var p models.Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}
	if len(p.Stages) == 0 {
		return nil, fmt.Errorf("pipeline definition declares no stages")
	}
	return &p, nil
}
