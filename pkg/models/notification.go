package models

import "time"

// NotificationRecord is the audit record of one notification dispatch
// attempt after a build completes. Dispatch is best-effort, so failed
// attempts are recorded rather than retried.
type NotificationRecord struct {
	ID      string    `json:"id"`
	BuildID string    `json:"build_id"`
	Kind    string    `json:"kind"`
	Target  string    `json:"target,omitempty"`
	Sent    bool      `json:"sent"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}
