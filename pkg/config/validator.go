package config

// Validate fail-fast checks the configuration. The first invalid field is
// returned; nothing is clamped silently.
func (c *Config) Validate() error {
	if c.Workspace.Root == "" {
		return NewValidationError("workspace", "root", ErrMissingRequiredField)
	}
	if c.Artifacts.Root == "" {
		return NewValidationError("artifacts", "root", ErrMissingRequiredField)
	}
	if c.Cache.Root == "" {
		return NewValidationError("cache", "root", ErrMissingRequiredField)
	}
	if c.Cache.RetentionDays < 1 {
		return NewValidationError("cache", "retention-days", ErrInvalidValue)
	}
	if c.Cache.SweepIntervalMinutes < 1 {
		return NewValidationError("cache", "sweep-interval-minutes", ErrInvalidValue)
	}
	if c.ParallelStages.MaxConcurrent < 1 {
		return NewValidationError("parallel-stages", "max-concurrent", ErrInvalidValue)
	}
	if c.ThreadPools.MaxParallelSteps < 1 {
		return NewValidationError("thread-pools", "max-parallel-steps", ErrInvalidValue)
	}
	if c.Matrix.MaxCombinations < 1 {
		return NewValidationError("matrix", "max-combinations", ErrInvalidValue)
	}
	if c.Approvals.PollIntervalMs < 1 {
		return NewValidationError("approvals", "poll-interval-ms", ErrInvalidValue)
	}
	if c.Cron.PollIntervalSeconds < 1 {
		return NewValidationError("cron", "poll-interval-seconds", ErrInvalidValue)
	}
	if c.Cron.MissedRunThresholdMinutes < 1 {
		return NewValidationError("cron", "missed-run-threshold-minutes", ErrInvalidValue)
	}
	if c.EventBus.MainBuffer < DefaultEventBusMainBuffer {
		return NewValidationError("event-bus", "main-buffer", ErrInvalidValue)
	}
	if c.EventBus.SubscriberBuffer < DefaultEventBusSubscriberBuffer {
		return NewValidationError("event-bus", "subscriber-buffer", ErrInvalidValue)
	}
	if c.EventBus.PublishTimeoutMs < 1 {
		return NewValidationError("event-bus", "publish-timeout-ms", ErrInvalidValue)
	}
	if c.EventBus.DepthSampleSeconds < 1 {
		return NewValidationError("event-bus", "depth-sample-seconds", ErrInvalidValue)
	}
	if c.Pool.Workers < 1 {
		return NewValidationError("pool", "workers", ErrInvalidValue)
	}
	if c.Pool.QueueSize < 1 {
		return NewValidationError("pool", "queue-size", ErrInvalidValue)
	}
	if c.Pool.ShutdownTimeoutSeconds < 1 {
		return NewValidationError("pool", "shutdown-timeout-seconds", ErrInvalidValue)
	}
	if c.Steps.DefaultTimeoutSeconds < 1 {
		return NewValidationError("steps", "default-timeout-seconds", ErrInvalidValue)
	}
	return nil
}
