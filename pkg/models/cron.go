package models

import "time"

// CronSchedule binds a five-field cron expression to a job. NextRunAt is
// recomputed and stored after every firing or miss, so a schedule is never
// evaluated twice for the same slot.
type CronSchedule struct {
	ID         string            `yaml:"id" json:"id"`
	Org        string            `yaml:"org" json:"org"`
	JobName    string            `yaml:"job" json:"job"`
	Expression string            `yaml:"expression" json:"expression"`
	Timezone   string            `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	Params     map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	Enabled    bool              `yaml:"enabled" json:"enabled"`
	NextRunAt  time.Time         `yaml:"-" json:"next_run_at"`
	LastRunAt  *time.Time        `yaml:"-" json:"last_run_at,omitempty"`
}

// Location resolves the schedule's timezone, defaulting to UTC.
func (s *CronSchedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// CronRun is the audit record of one scheduler decision for a due
// schedule: triggered, missed, or error.
type CronRun struct {
	ID         string         `json:"id"`
	ScheduleID string         `json:"schedule_id"`
	Org        string         `json:"org"`
	JobName    string         `json:"job_name"`
	Outcome    CronRunOutcome `json:"outcome"`
	BuildID    string         `json:"build_id,omitempty"`
	Message    string         `json:"message,omitempty"`
	At         time.Time      `json:"at"`
}
