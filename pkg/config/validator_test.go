package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "empty workspace root",
			mutate: func(c *Config) { c.Workspace.Root = "" },
			field:  "root",
		},
		{
			name:   "zero retention",
			mutate: func(c *Config) { c.Cache.RetentionDays = 0 },
			field:  "retention-days",
		},
		{
			name:   "zero stage concurrency",
			mutate: func(c *Config) { c.ParallelStages.MaxConcurrent = 0 },
			field:  "max-concurrent",
		},
		{
			name:   "zero step fan-out",
			mutate: func(c *Config) { c.ThreadPools.MaxParallelSteps = 0 },
			field:  "max-parallel-steps",
		},
		{
			name:   "zero matrix cap",
			mutate: func(c *Config) { c.Matrix.MaxCombinations = 0 },
			field:  "max-combinations",
		},
		{
			name:   "undersized main buffer",
			mutate: func(c *Config) { c.EventBus.MainBuffer = 1024 },
			field:  "main-buffer",
		},
		{
			name:   "undersized subscriber buffer",
			mutate: func(c *Config) { c.EventBus.SubscriberBuffer = 16 },
			field:  "subscriber-buffer",
		},
		{
			name:   "zero publish timeout",
			mutate: func(c *Config) { c.EventBus.PublishTimeoutMs = 0 },
			field:  "publish-timeout-ms",
		},
		{
			name:   "zero pool workers",
			mutate: func(c *Config) { c.Pool.Workers = 0 },
			field:  "workers",
		},
		{
			name:   "zero step timeout",
			mutate: func(c *Config) { c.Steps.DefaultTimeoutSeconds = 0 },
			field:  "default-timeout-seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "5s", cfg.Approvals.PollInterval().String())
	assert.Equal(t, "1m0s", cfg.Cron.PollInterval().String())
	assert.Equal(t, "10m0s", cfg.Cron.MissedRunThreshold().String())
	assert.Equal(t, "30s", cfg.EventBus.PublishTimeout().String())
	assert.Equal(t, "5m0s", cfg.Steps.DefaultTimeout().String())
	assert.Equal(t, "30s", cfg.Pool.ShutdownTimeout().String())
	assert.Equal(t, "1h0m0s", cfg.Cache.SweepInterval().String())
}
