package supplychain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kiln-ci/kiln/pkg/config"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/version"
)

// ProvenanceHook writes a provenance document alongside the build's
// collected artifacts, recording what was built, from which commit, by
// which builder, and the digests of everything produced.
type ProvenanceHook struct {
	artifactsRoot string
}

// NewProvenanceHook creates the built-in provenance hook. Documents land
// in the same per-build directory the artifact collector uses.
func NewProvenanceHook(artifactsRoot string) *ProvenanceHook {
	return &ProvenanceHook{artifactsRoot: artifactsRoot}
}

// Name implements Hook.
func (p *ProvenanceHook) Name() string {
	return "provenance"
}

// Flag implements Hook.
func (p *ProvenanceHook) Flag() string {
	return config.FeatureProvenance
}

type provenanceDoc struct {
	Builder    string              `json:"builder"`
	BuildID    string              `json:"build_id"`
	Org        string              `json:"org"`
	JobName    string              `json:"job_name"`
	Number     int64               `json:"number"`
	Status     models.BuildStatus  `json:"status"`
	Trigger    models.TriggerInfo  `json:"trigger"`
	Params     map[string]string   `json:"params,omitempty"`
	Git        *models.GitInfo     `json:"git,omitempty"`
	Artifacts  []provenanceSubject `json:"artifacts,omitempty"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	WrittenAt  time.Time           `json:"written_at"`
}

type provenanceSubject struct {
	FileName  string `json:"file_name"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// Run implements Hook.
func (p *ProvenanceHook) Run(_ context.Context, build *models.Build) error {
	doc := provenanceDoc{
		Builder:    version.Full(),
		BuildID:    build.ID,
		Org:        build.Org,
		JobName:    build.JobName,
		Number:     build.Number,
		Status:     build.Status,
		Trigger:    build.Trigger,
		Params:     build.Params,
		Git:        build.Git,
		StartedAt:  build.StartedAt,
		FinishedAt: build.CompletedAt,
		WrittenAt:  time.Now().UTC(),
	}
	for _, a := range build.Artifacts {
		doc.Artifacts = append(doc.Artifacts, provenanceSubject{
			FileName:  a.FileName,
			SHA256:    a.SHA256,
			SizeBytes: a.SizeBytes,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode provenance: %w", err)
	}

	dir := filepath.Join(p.artifactsRoot, build.Org, build.JobName, strconv.FormatInt(build.Number, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create provenance directory: %w", err)
	}
	path := filepath.Join(dir, "provenance.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write provenance: %w", err)
	}
	return nil
}
