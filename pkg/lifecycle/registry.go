// Package lifecycle owns build execution end to end: a bounded worker
// pool, the registry of active builds that backs cancellation, and the
// manager that creates build records, runs the executor, and persists the
// terminal result exactly once.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kiln-ci/kiln/pkg/metrics"
)

// Handle is the cancellation surface of one active build.
type Handle struct {
	cancel context.CancelFunc
	flag   *atomic.Bool
}

// Cancelled reports whether Cancel was called for this build.
func (h *Handle) Cancelled() bool {
	return h.flag.Load()
}

// Registry is the process-wide table of active builds. Every executing
// build registers on entry and deregisters on exit, so cancellation
// always finds a live handle or nothing.
type Registry struct {
	mu      sync.RWMutex
	active  map[string]*Handle
	metrics metrics.Recorder
}

// NewRegistry creates an empty registry. A nil recorder disables metrics.
func NewRegistry(rec metrics.Recorder) *Registry {
	return &Registry{
		active:  make(map[string]*Handle),
		metrics: metrics.Safe(rec),
	}
}

// Register installs the cancel function for a build and returns its
// handle. Registering an ID twice replaces the earlier handle.
func (r *Registry) Register(buildID string, cancel context.CancelFunc) *Handle {
	h := &Handle{cancel: cancel, flag: &atomic.Bool{}}
	r.mu.Lock()
	r.active[buildID] = h
	count := len(r.active)
	r.mu.Unlock()
	r.metrics.ActiveBuilds(count)
	return h
}

// Deregister removes a build's entry when processing ends.
func (r *Registry) Deregister(buildID string) {
	r.mu.Lock()
	delete(r.active, buildID)
	count := len(r.active)
	r.mu.Unlock()
	r.metrics.ActiveBuilds(count)
}

// Cancel sets the build's cancel flag and cancels its context. Returns
// whether the build was active. Safe to call more than once; repeat calls
// on a live build return true and change nothing.
func (r *Registry) Cancel(buildID string) bool {
	r.mu.RLock()
	h, ok := r.active[buildID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	h.flag.Store(true)
	h.cancel()
	return true
}

// Active returns the IDs of builds currently executing.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of active builds.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
