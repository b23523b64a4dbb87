// Package matrix expands a pipeline's stage list over the declared
// dimension axes. Expansion is deterministic: dimensions are ordered by
// name and the last axis varies fastest, so build N of the same pipeline
// always produces the same stage order.
package matrix

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kiln-ci/kiln/pkg/models"
)

// Combination is one point in the matrix.
type Combination struct {
	Values map[string]string
}

// Suffix renders the stage name suffix for the combination, with
// dimensions in sorted order: " [jdk=11, os=linux]".
func (c Combination) Suffix() string {
	dims := make([]string, 0, len(c.Values))
	for dim := range c.Values {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	parts := make([]string, 0, len(dims))
	for _, dim := range dims {
		parts = append(parts, fmt.Sprintf("%s=%s", dim, c.Values[dim]))
	}
	return " [" + strings.Join(parts, ", ") + "]"
}

// EnvKey renders the environment variable name for a dimension:
// MATRIX_<DIM> with dashes folded to underscores.
func EnvKey(dim string) string {
	return "MATRIX_" + strings.ToUpper(strings.ReplaceAll(dim, "-", "_"))
}

// Expand enumerates the combinations of the matrix, minus exclusions,
// capped at maxCombinations before exclusions are applied.
func Expand(spec *models.MatrixSpec, maxCombinations int) ([]Combination, error) {
	if spec == nil || len(spec.Dimensions) == 0 {
		return nil, nil
	}

	dims := make([]string, 0, len(spec.Dimensions))
	product := 1
	for dim, values := range spec.Dimensions {
		if len(values) == 0 {
			return nil, fmt.Errorf("matrix dimension %q: %w", dim, models.ErrMissingField)
		}
		dims = append(dims, dim)
		product *= len(values)
	}
	sort.Strings(dims)

	if maxCombinations > 0 && product > maxCombinations {
		return nil, fmt.Errorf("%w: %d combinations, limit %d",
			models.ErrMatrixTooLarge, product, maxCombinations)
	}

	combos := make([]Combination, 0, product)
	indices := make([]int, len(dims))
	for {
		values := make(map[string]string, len(dims))
		for i, dim := range dims {
			values[dim] = spec.Dimensions[dim][indices[i]]
		}
		if !excluded(values, spec.Exclude) {
			combos = append(combos, Combination{Values: values})
		}

		// Odometer increment, last axis fastest.
		i := len(indices) - 1
		for ; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(spec.Dimensions[dims[i]]) {
				break
			}
			indices[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return combos, nil
}

// excluded reports whether a combination matches any exclusion: every
// dimension the exclusion names must carry the listed value.
func excluded(values map[string]string, exclusions []map[string]string) bool {
	for _, excl := range exclusions {
		if len(excl) == 0 {
			continue
		}
		match := true
		for dim, want := range excl {
			if values[dim] != want {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// StagePlan pairs one expanded stage with the combination values it runs
// under. The executor injects the values as MATRIX_* environment entries
// and records them on the stage result.
type StagePlan struct {
	Stage  models.Stage
	Matrix map[string]string
}

// Plan clones every stage once per combination, appending the combination
// suffix to stage names. Declared stage order is preserved: all clones of
// the first stage come before any clone of the second. Depends-on
// references are rewritten to the same combination's clones so a DAG
// pipeline stays a DAG per combination. With no combinations, every stage
// maps to one plan with nil matrix values.
func Plan(stages []models.Stage, combos []Combination) []StagePlan {
	if len(combos) == 0 {
		plans := make([]StagePlan, len(stages))
		for i, stage := range stages {
			plans[i] = StagePlan{Stage: stage}
		}
		return plans
	}
	plans := make([]StagePlan, 0, len(stages)*len(combos))
	for _, stage := range stages {
		for _, combo := range combos {
			suffix := combo.Suffix()
			clone := stage
			clone.Name = stage.Name + suffix
			if len(stage.DependsOn) > 0 {
				deps := make([]string, len(stage.DependsOn))
				for i, dep := range stage.DependsOn {
					deps[i] = dep + suffix
				}
				clone.DependsOn = deps
			}
			plans = append(plans, StagePlan{Stage: clone, Matrix: combo.Values})
		}
	}
	return plans
}
