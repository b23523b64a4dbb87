// Package memory is the in-memory store backend. It backs tests and
// single-node deployments where durability is not required. Every record
// is deep-copied on the way in and out, so callers can never alias store
// state.
package memory

import (
	"encoding/json"
	"fmt"

	"github.com/kiln-ci/kiln/pkg/store"
)

// New returns a store.Store with every contract backed by memory.
func New() *store.Store {
	return &store.Store{
		Jobs:          NewJobs(),
		Builds:        NewBuilds(),
		Artifacts:     NewArtifacts(),
		Gates:         NewGates(),
		Policies:      NewPolicies(),
		Schedules:     NewSchedules(),
		CacheEntries:  NewCacheEntries(),
		StageCache:    NewStageCache(),
		Notifications: NewNotifications(),
		Events:        NewEvents(),
	}
}

// deepCopy round-trips a record through JSON. Slower than hand-written
// clones but immune to new fields aliasing shared slices or maps. Models
// marshal cleanly; a failure here is a programming error.
func deepCopy[T any](src *T) *T {
	data, err := json.Marshal(src)
	if err != nil {
		panic(fmt.Sprintf("memory store failed to marshal %T: %v", src, err))
	}
	dst := new(T)
	if err := json.Unmarshal(data, dst); err != nil {
		panic(fmt.Sprintf("memory store failed to unmarshal %T: %v", src, err))
	}
	return dst
}

func scopedKey(org, name string) string {
	return org + "/" + name
}
