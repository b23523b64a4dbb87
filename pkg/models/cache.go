package models

import "time"

// CacheEntry is the metadata of one immutable dependency cache, keyed by
// (job, key). The first writer wins; a save against an existing key is a
// no-op.
type CacheEntry struct {
	Org       string     `json:"org"`
	JobName   string     `json:"job_name"`
	Key       string     `json:"key"`
	Paths     string     `json:"paths"`
	SizeBytes int64      `json:"size_bytes"`
	HitCount  int        `json:"hit_count"`
	LastHitAt *time.Time `json:"last_hit_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
