package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kiln-ci/kiln/pkg/models"
)

// fingerprintStageDef is the diagnostic label for the stage-definition
// component of a fingerprint, alongside the env keys that fed it.
const fingerprintStageDef = "stage-definition"

// stageFingerprint derives the result-cache key for one stage: a SHA-256
// over the canonical JSON of the stage definition plus every environment
// entry that can change what the stage does (PARAM_*, MATRIX_*, and
// GIT_BRANCH), in sorted order. The returned inputs list is surfaced on
// the stage result so unexpected cache hits can be diagnosed.
func stageFingerprint(stage models.Stage, env map[string]string) (string, []string, error) {
	def, err := json.Marshal(stage)
	if err != nil {
		return "", nil, fmt.Errorf("canonicalizing stage definition: %w", err)
	}

	keys := relevantEnvKeys(env)
	h := sha256.New()
	h.Write(def)
	for _, k := range keys {
		fmt.Fprintf(h, "\n%s=%s", k, env[k])
	}

	inputs := make([]string, 0, len(keys)+1)
	inputs = append(inputs, fingerprintStageDef)
	inputs = append(inputs, keys...)
	return hex.EncodeToString(h.Sum(nil)), inputs, nil
}

// relevantEnvKeys selects the env keys that participate in fingerprints,
// sorted for determinism. Secrets and build coordinates stay out: a secret
// rotation or a new build number must not bust the result cache.
func relevantEnvKeys(env map[string]string) []string {
	var keys []string
	for k := range env {
		if strings.HasPrefix(k, "PARAM_") || strings.HasPrefix(k, "MATRIX_") || k == "GIT_BRANCH" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
