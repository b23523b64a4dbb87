// Package events is the in-process event bus builds publish their
// progress through. Publishers never block on slow consumers: events flow
// through a buffered main channel drained by a single dispatch goroutine,
// which fans out to per-build subscribers with bounded buffers. Critical
// lifecycle events block briefly on a full bus instead of being dropped.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened. The set is closed; payloads carry the
// variable parts.
type Type string

// Event types.
const (
	TypeBuildQueued       Type = "build-queued"
	TypeBuildStarted      Type = "build-started"
	TypeBuildCompleted    Type = "build-completed"
	TypeBuildCancelled    Type = "build-cancelled"
	TypeStageStarted      Type = "stage-started"
	TypeStageCompleted    Type = "stage-completed"
	TypeStageCached       Type = "stage-cached"
	TypeStageSkipped      Type = "stage-skipped"
	TypeStagePolicyDenied Type = "stage-policy-denied"
	TypeStepStarted       Type = "step-started"
	TypeStepCompleted     Type = "step-completed"
	TypeGitStarted        Type = "git-started"
	TypeGitCompleted      Type = "git-completed"
	TypeGitFailed         Type = "git-failed"
	TypeApprovalRequested Type = "approval-requested"
)

// criticalTypes are the lifecycle events a consumer must be able to
// reconstruct a build timeline from. Publishing one of these blocks up to
// the configured timeout when the bus is saturated rather than dropping.
var criticalTypes = map[Type]struct{}{
	TypeBuildStarted:   {},
	TypeBuildCompleted: {},
	TypeBuildCancelled: {},
	TypeStageStarted:   {},
	TypeStageCompleted: {},
	TypeStepStarted:    {},
	TypeStepCompleted:  {},
}

// Critical reports whether the type is part of the guaranteed lifecycle
// set.
func (t Type) Critical() bool {
	_, ok := criticalTypes[t]
	return ok
}

// IsValid checks if the event type is valid.
func (t Type) IsValid() bool {
	switch t {
	case TypeBuildQueued, TypeBuildStarted, TypeBuildCompleted, TypeBuildCancelled,
		TypeStageStarted, TypeStageCompleted, TypeStageCached, TypeStageSkipped,
		TypeStagePolicyDenied, TypeStepStarted, TypeStepCompleted,
		TypeGitStarted, TypeGitCompleted, TypeGitFailed, TypeApprovalRequested:
		return true
	default:
		return false
	}
}

// Event is one envelope on the bus. BuildID is the routing key; Data
// carries the type-specific payload. Payloads must already be masked:
// nothing downstream re-checks for secrets.
type Event struct {
	ID        string    `json:"id"`
	BuildID   string    `json:"build_id"`
	Type      Type      `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// New builds an event envelope with a fresh ID and timestamp.
func New(buildID string, t Type, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		BuildID:   buildID,
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// PublishResult is the outcome of one publish attempt.
type PublishResult string

// Publish outcomes.
const (
	PublishDelivered PublishResult = "delivered"
	PublishDropped   PublishResult = "dropped"
	PublishTimeout   PublishResult = "timeout"
)
