package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kiln-ci/kiln/pkg/models"
)

func TestConditionMet(t *testing.T) {
	withGit := &models.Build{Git: &models.GitInfo{Branch: "main"}}
	withParams := &models.Build{Params: map[string]string{"env": "prod"}}

	tests := []struct {
		name  string
		cond  *models.Condition
		build *models.Build
		want  bool
	}{
		{
			name:  "nil condition passes",
			cond:  nil,
			build: &models.Build{},
			want:  true,
		},
		{
			name:  "always passes",
			cond:  &models.Condition{Kind: models.ConditionAlways},
			build: &models.Build{},
			want:  true,
		},
		{
			name:  "branch equals matches",
			cond:  &models.Condition{Kind: models.ConditionBranchEquals, Value: "main"},
			build: withGit,
			want:  true,
		},
		{
			name:  "branch equals mismatch",
			cond:  &models.Condition{Kind: models.ConditionBranchEquals, Value: "release"},
			build: withGit,
			want:  false,
		},
		{
			name:  "branch equals without checkout fails",
			cond:  &models.Condition{Kind: models.ConditionBranchEquals, Value: "main"},
			build: &models.Build{},
			want:  false,
		},
		{
			name:  "parameter equals matches",
			cond:  &models.Condition{Kind: models.ConditionParameterEquals, Parameter: "env", Value: "prod"},
			build: withParams,
			want:  true,
		},
		{
			name:  "parameter equals mismatch",
			cond:  &models.Condition{Kind: models.ConditionParameterEquals, Parameter: "env", Value: "staging"},
			build: withParams,
			want:  false,
		},
		{
			name:  "absent parameter fails",
			cond:  &models.Condition{Kind: models.ConditionParameterEquals, Parameter: "region", Value: "eu"},
			build: withParams,
			want:  false,
		},
		{
			name:  "unknown kind fails closed",
			cond:  &models.Condition{Kind: "on-tuesdays"},
			build: &models.Build{},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, conditionMet(tt.cond, tt.build))
		})
	}
}
