package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ci/kiln/pkg/models"
)

func TestExpandDeterministicOrder(t *testing.T) {
	spec := &models.MatrixSpec{
		Dimensions: map[string][]string{
			"os":  {"linux", "macos"},
			"jdk": {"11", "17"},
		},
	}

	combos, err := Expand(spec, 25)
	require.NoError(t, err)
	require.Len(t, combos, 4)

	suffixes := make([]string, len(combos))
	for i, c := range combos {
		suffixes[i] = c.Suffix()
	}
	assert.Equal(t, []string{
		" [jdk=11, os=linux]",
		" [jdk=11, os=macos]",
		" [jdk=17, os=linux]",
		" [jdk=17, os=macos]",
	}, suffixes)
}

func TestExpandNilSpec(t *testing.T) {
	combos, err := Expand(nil, 25)
	require.NoError(t, err)
	assert.Empty(t, combos)
}

func TestExpandCapExceeded(t *testing.T) {
	spec := &models.MatrixSpec{
		Dimensions: map[string][]string{
			"os":  {"linux", "macos", "windows"},
			"jdk": {"11", "17"},
		},
	}

	_, err := Expand(spec, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMatrixTooLarge)
}

func TestExpandCapCountsBeforeExclusions(t *testing.T) {
	spec := &models.MatrixSpec{
		Dimensions: map[string][]string{
			"os":  {"linux", "macos", "windows"},
			"jdk": {"11", "17"},
		},
		Exclude: []map[string]string{
			{"os": "windows"},
		},
	}

	// 3x2 = 6 raw combinations; exclusions do not rescue an oversized matrix.
	_, err := Expand(spec, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMatrixTooLarge)
}

func TestExpandExclusions(t *testing.T) {
	spec := &models.MatrixSpec{
		Dimensions: map[string][]string{
			"os":  {"linux", "macos"},
			"jdk": {"11", "17"},
		},
		Exclude: []map[string]string{
			{"os": "macos", "jdk": "11"},
		},
	}

	combos, err := Expand(spec, 25)
	require.NoError(t, err)
	require.Len(t, combos, 3)
	for _, c := range combos {
		assert.False(t, c.Values["os"] == "macos" && c.Values["jdk"] == "11")
	}
}

func TestExpandPartialExclusionMatchesAllValues(t *testing.T) {
	spec := &models.MatrixSpec{
		Dimensions: map[string][]string{
			"os":  {"linux", "macos"},
			"jdk": {"11", "17"},
		},
		Exclude: []map[string]string{
			{"os": "macos"},
		},
	}

	combos, err := Expand(spec, 25)
	require.NoError(t, err)
	require.Len(t, combos, 2)
	for _, c := range combos {
		assert.Equal(t, "linux", c.Values["os"])
	}
}

func TestExpandEmptyDimension(t *testing.T) {
	spec := &models.MatrixSpec{
		Dimensions: map[string][]string{"os": {}},
	}

	_, err := Expand(spec, 25)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMissingField)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "MATRIX_OS", EnvKey("os"))
	assert.Equal(t, "MATRIX_NODE_VERSION", EnvKey("node-version"))
}

func TestPlanRewritesDependenciesPerCombination(t *testing.T) {
	stages := []models.Stage{
		{Name: "Build", Steps: []models.Step{{Name: "make", Command: "make"}}},
		{Name: "Test", DependsOn: []string{"Build"}, Steps: []models.Step{{Name: "go", Command: "go test"}}},
	}
	combos := []Combination{
		{Values: map[string]string{"os": "linux"}},
		{Values: map[string]string{"os": "macos"}},
	}

	plans := Plan(stages, combos)
	require.Len(t, plans, 4)

	assert.Equal(t, "Build [os=linux]", plans[0].Stage.Name)
	assert.Equal(t, "Build [os=macos]", plans[1].Stage.Name)
	assert.Equal(t, "Test [os=linux]", plans[2].Stage.Name)
	assert.Equal(t, "Test [os=macos]", plans[3].Stage.Name)

	// Dependencies stay within the same combination.
	assert.Equal(t, []string{"Build [os=linux]"}, plans[2].Stage.DependsOn)
	assert.Equal(t, []string{"Build [os=macos]"}, plans[3].Stage.DependsOn)

	// Originals are untouched.
	assert.Equal(t, []string{"Build"}, stages[1].DependsOn)
}

func TestPlanCarriesCombinationValues(t *testing.T) {
	stages := []models.Stage{{Name: "Test", Steps: []models.Step{{Name: "go", Command: "go test"}}}}
	combos := []Combination{
		{Values: map[string]string{"os": "linux", "arch": "amd64"}},
		{Values: map[string]string{"os": "linux", "arch": "arm64"}},
	}

	plans := Plan(stages, combos)
	require.Len(t, plans, 2)
	assert.Equal(t, "Test [arch=amd64, os=linux]", plans[0].Stage.Name)
	assert.Equal(t, map[string]string{"os": "linux", "arch": "amd64"}, plans[0].Matrix)
	assert.Equal(t, map[string]string{"os": "linux", "arch": "arm64"}, plans[1].Matrix)
}

func TestPlanNoCombos(t *testing.T) {
	stages := []models.Stage{{Name: "Build"}, {Name: "Test"}}

	plans := Plan(stages, nil)
	require.Len(t, plans, 2)
	assert.Equal(t, "Build", plans[0].Stage.Name)
	assert.Nil(t, plans[0].Matrix)
}
