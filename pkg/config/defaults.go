package config

// Default configuration values. Every knob has a working default so a
// bare server starts with no configuration file at all.
const (
	DefaultWorkspaceRoot = "workspaces"
	DefaultArtifactsRoot = "artifacts"
	DefaultCacheRoot     = "cache"

	DefaultCacheRetentionDays    = 30
	DefaultCacheSweepMinutes     = 60
	DefaultMaxConcurrentStages   = 4
	DefaultMaxParallelSteps      = 8
	DefaultMaxMatrixCombinations = 25

	DefaultApprovalPollMs            = 5000
	DefaultCronPollSeconds           = 60
	DefaultMissedRunThresholdMinutes = 10

	DefaultEventBusMainBuffer       = 4096
	DefaultEventBusSubscriberBuffer = 256
	DefaultPublishTimeoutMs         = 30000
	DefaultDepthSampleSeconds       = 5

	DefaultPoolWorkers            = 4
	DefaultPoolQueueSize          = 64
	DefaultShutdownTimeoutSeconds = 30

	DefaultStepTimeoutSeconds = 300
)

// DefaultConfig returns the built-in configuration. The user file is
// merged on top of this, so absent keys keep these values.
func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root: DefaultWorkspaceRoot,
		},
		Artifacts: ArtifactsConfig{
			Root: DefaultArtifactsRoot,
		},
		Cache: CacheConfig{
			Root:                 DefaultCacheRoot,
			RetentionDays:        DefaultCacheRetentionDays,
			SweepIntervalMinutes: DefaultCacheSweepMinutes,
		},
		ParallelStages: ParallelStagesConfig{
			MaxConcurrent: DefaultMaxConcurrentStages,
		},
		ThreadPools: ThreadPoolsConfig{
			MaxParallelSteps: DefaultMaxParallelSteps,
		},
		Matrix: MatrixConfig{
			MaxCombinations: DefaultMaxMatrixCombinations,
		},
		Approvals: ApprovalsConfig{
			PollIntervalMs: DefaultApprovalPollMs,
		},
		Cron: CronConfig{
			PollIntervalSeconds:       DefaultCronPollSeconds,
			MissedRunThresholdMinutes: DefaultMissedRunThresholdMinutes,
		},
		EventBus: EventBusConfig{
			MainBuffer:         DefaultEventBusMainBuffer,
			SubscriberBuffer:   DefaultEventBusSubscriberBuffer,
			PublishTimeoutMs:   DefaultPublishTimeoutMs,
			DepthSampleSeconds: DefaultDepthSampleSeconds,
		},
		Pool: PoolConfig{
			Workers:                DefaultPoolWorkers,
			QueueSize:              DefaultPoolQueueSize,
			ShutdownTimeoutSeconds: DefaultShutdownTimeoutSeconds,
		},
		Steps: StepsConfig{
			DefaultTimeoutSeconds: DefaultStepTimeoutSeconds,
		},
		Features: map[string]bool{
			FeatureParallelStages: true,
		},
	}
}
