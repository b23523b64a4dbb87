// Package config loads and validates the server configuration. Loading
// starts from built-in defaults, expands {{.ENV_VAR}} references in the
// YAML, merges the user file on top, and fails fast on invalid values so
// misconfiguration is caught at startup rather than mid-build.
package config

import "time"

// Config is the full server configuration.
type Config struct {
	Workspace      WorkspaceConfig      `yaml:"workspace"`
	Artifacts      ArtifactsConfig      `yaml:"artifacts"`
	Cache          CacheConfig          `yaml:"cache"`
	ParallelStages ParallelStagesConfig `yaml:"parallel-stages"`
	ThreadPools    ThreadPoolsConfig    `yaml:"thread-pools"`
	Matrix         MatrixConfig         `yaml:"matrix"`
	Approvals      ApprovalsConfig      `yaml:"approvals"`
	Cron           CronConfig           `yaml:"cron"`
	EventBus       EventBusConfig       `yaml:"event-bus"`
	Pool           PoolConfig           `yaml:"pool"`
	Steps          StepsConfig          `yaml:"steps"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Features       map[string]bool      `yaml:"features"`
}

// WorkspaceConfig controls where build workspaces are provisioned.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// ArtifactsConfig controls where collected artifacts are stored.
type ArtifactsConfig struct {
	Root string `yaml:"root"`
}

// CacheConfig controls the dependency cache tree and its retention sweep.
type CacheConfig struct {
	Root                 string `yaml:"root"`
	RetentionDays        int    `yaml:"retention-days"`
	SweepIntervalMinutes int    `yaml:"sweep-interval-minutes"`
}

// SweepInterval returns the retention sweep interval as a duration.
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// ParallelStagesConfig bounds DAG-mode stage concurrency.
type ParallelStagesConfig struct {
	MaxConcurrent int `yaml:"max-concurrent"`
}

// ThreadPoolsConfig bounds step fan-out inside a parallel stage.
type ThreadPoolsConfig struct {
	MaxParallelSteps int `yaml:"max-parallel-steps"`
}

// MatrixConfig caps matrix expansion.
type MatrixConfig struct {
	MaxCombinations int `yaml:"max-combinations"`
}

// ApprovalsConfig controls the approval gate wait loop.
type ApprovalsConfig struct {
	PollIntervalMs int `yaml:"poll-interval-ms"`
}

// PollInterval returns the approval poll interval as a duration.
func (c ApprovalsConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// CronConfig controls the scheduler poll loop.
type CronConfig struct {
	PollIntervalSeconds       int `yaml:"poll-interval-seconds"`
	MissedRunThresholdMinutes int `yaml:"missed-run-threshold-minutes"`
}

// PollInterval returns the scheduler poll interval as a duration.
func (c CronConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// MissedRunThreshold returns how far past its slot a schedule may fire
// before the run is recorded as missed.
func (c CronConfig) MissedRunThreshold() time.Duration {
	return time.Duration(c.MissedRunThresholdMinutes) * time.Minute
}

// EventBusConfig sizes the event bus and its delivery guarantees.
type EventBusConfig struct {
	MainBuffer         int `yaml:"main-buffer"`
	SubscriberBuffer   int `yaml:"subscriber-buffer"`
	PublishTimeoutMs   int `yaml:"publish-timeout-ms"`
	DepthSampleSeconds int `yaml:"depth-sample-seconds"`
}

// PublishTimeout returns how long a critical publish blocks on a full bus.
func (c EventBusConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMs) * time.Millisecond
}

// DepthSampleInterval returns how often the bus depth gauge is sampled.
func (c EventBusConfig) DepthSampleInterval() time.Duration {
	return time.Duration(c.DepthSampleSeconds) * time.Second
}

// PoolConfig sizes the build worker pool.
type PoolConfig struct {
	Workers                int `yaml:"workers"`
	QueueSize              int `yaml:"queue-size"`
	ShutdownTimeoutSeconds int `yaml:"shutdown-timeout-seconds"`
}

// ShutdownTimeout returns how long Stop waits for in-flight builds.
func (c PoolConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// StepsConfig sets step execution defaults.
type StepsConfig struct {
	DefaultTimeoutSeconds int `yaml:"default-timeout-seconds"`
}

// DefaultTimeout returns the timeout applied to steps that declare none.
func (c StepsConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// MetricsConfig controls the optional Prometheus scrape listener. An empty
// address disables it.
type MetricsConfig struct {
	ListenAddress string `yaml:"listen-address"`
}

// Feature flag names understood by the core. Step executors and
// supply-chain hooks look their own names up, so the set is open.
const (
	FeatureParallelStages    = "parallel-stages"
	FeatureProvenance        = "provenance"
	FeatureSBOM              = "sbom"
	FeatureVulnerabilityScan = "vulnerability-scan"
	FeatureLicenseCheck      = "license-check"
	FeatureArtifactSigning   = "artifact-signing"
)

// FeatureEnabled reports whether a named feature flag is on. Unknown flags
// are off.
func (c *Config) FeatureEnabled(flag string) bool {
	if c == nil || c.Features == nil {
		return false
	}
	return c.Features[flag]
}
