package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kiln-ci/kiln/pkg/events"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

// Artifacts is the in-memory artifact metadata store.
type Artifacts struct {
	mu      sync.RWMutex
	byBuild map[string][]*models.Artifact
}

var _ store.Artifacts = (*Artifacts)(nil)

// NewArtifacts creates an empty artifact store.
func NewArtifacts() *Artifacts {
	return &Artifacts{byBuild: make(map[string][]*models.Artifact)}
}

// Create persists one artifact record, assigning an ID when the caller
// left it empty.
func (s *Artifacts) Create(_ context.Context, artifact *models.Artifact) error {
	if artifact.BuildID == "" {
		return fmt.Errorf("artifact has no build ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := deepCopy(artifact)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
		artifact.ID = stored.ID
	}
	s.byBuild[stored.BuildID] = append(s.byBuild[stored.BuildID], stored)
	return nil
}

// ListForBuild returns a build's artifacts in collection order.
func (s *Artifacts) ListForBuild(_ context.Context, buildID string) ([]*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	artifacts := make([]*models.Artifact, 0, len(s.byBuild[buildID]))
	for _, a := range s.byBuild[buildID] {
		artifacts = append(artifacts, deepCopy(a))
	}
	return artifacts, nil
}

// Notifications is the in-memory notification audit store.
type Notifications struct {
	mu      sync.RWMutex
	byBuild map[string][]*models.NotificationRecord
}

var _ store.Notifications = (*Notifications)(nil)

// NewNotifications creates an empty notification store.
func NewNotifications() *Notifications {
	return &Notifications{byBuild: make(map[string][]*models.NotificationRecord)}
}

// Create persists one dispatch attempt, assigning an ID when the caller
// left it empty.
func (s *Notifications) Create(_ context.Context, record *models.NotificationRecord) error {
	if record.BuildID == "" {
		return fmt.Errorf("notification record has no build ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := deepCopy(record)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
		record.ID = stored.ID
	}
	s.byBuild[stored.BuildID] = append(s.byBuild[stored.BuildID], stored)
	return nil
}

// ListForBuild returns a build's dispatch attempts in order.
func (s *Notifications) ListForBuild(_ context.Context, buildID string) ([]*models.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*models.NotificationRecord, 0, len(s.byBuild[buildID]))
	for _, r := range s.byBuild[buildID] {
		records = append(records, deepCopy(r))
	}
	return records, nil
}

// Events is the in-memory durable event trail. Payloads round-trip through
// JSON, so Data comes back as generic maps, the same shape a durable
// backend would return.
type Events struct {
	mu      sync.RWMutex
	byBuild map[string][]events.Event
}

var _ store.Events = (*Events)(nil)
var _ events.Sink = (*Events)(nil)

// NewEvents creates an empty event trail.
func NewEvents() *Events {
	return &Events{byBuild: make(map[string][]events.Event)}
}

// Append persists one event.
func (s *Events) Append(_ context.Context, evt events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byBuild[evt.BuildID] = append(s.byBuild[evt.BuildID], *deepCopy(&evt))
	return nil
}

// ListForBuild returns a build's events in publication order.
func (s *Events) ListForBuild(_ context.Context, buildID string) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trail := make([]events.Event, 0, len(s.byBuild[buildID]))
	for i := range s.byBuild[buildID] {
		trail = append(trail, *deepCopy(&s.byBuild[buildID][i]))
	}
	return trail, nil
}
