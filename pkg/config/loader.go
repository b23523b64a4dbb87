package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/kiln-ci/kiln/pkg/logctx"
)

// Initialize loads the server configuration from the given file, merges it
// over the built-in defaults, and validates the result. An empty path or a
// missing file yields the defaults.
func Initialize(ctx context.Context, path string) (*Config, error) {
	logger := logctx.From(ctx)

	cfg := DefaultConfig()
	if path == "" {
		logger.Info("No configuration file given, using defaults")
	} else {
		user, err := loadYAML(path)
		if err != nil {
			if errors.Is(err, ErrConfigNotFound) {
				logger.Info("Configuration file not found, using defaults", "path", path)
			} else {
				return nil, err
			}
		} else {
			if err := merge(cfg, user); err != nil {
				return nil, NewLoadError(path, err)
			}
			logger.Info("Loaded configuration", "path", path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	logger.Info("Configuration initialized",
		"workspace_root", cfg.Workspace.Root,
		"artifacts_root", cfg.Artifacts.Root,
		"cache_root", cfg.Cache.Root,
		"pool_workers", cfg.Pool.Workers,
		"max_concurrent_stages", cfg.ParallelStages.MaxConcurrent,
		"max_parallel_steps", cfg.ThreadPools.MaxParallelSteps,
		"features", cfg.Features)
	return cfg, nil
}

// loadYAML reads a YAML file, expanding {{.ENV_VAR}} references before
// parsing.
func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	expanded := ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %w", ErrInvalidYAML, err))
	}
	return &cfg, nil
}

// merge overlays the user configuration onto dst. mergo skips zero values,
// which keeps defaults for absent keys; the features map is re-applied
// afterwards so explicit `flag: false` entries win over defaults.
func merge(dst *Config, user *Config) error {
	if err := mergo.Merge(dst, user, mergo.WithOverride); err != nil {
		return err
	}
	for flag, enabled := range user.Features {
		dst.Features[flag] = enabled
	}
	return nil
}
