// Package approval implements the gate a stage parks on until a human
// approves, rejects, or the gate times out. The waiting build worker never
// busy-loops: it suspends on a notification channel with a poll-interval
// safety net.
package approval

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiln-ci/kiln/pkg/events"
	"github.com/kiln-ci/kiln/pkg/logctx"
	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

// DefaultPollInterval is the wait loop's safety-net wake interval, for
// resolutions that arrive without a notification (e.g. another replica).
const DefaultPollInterval = 5 * time.Second

// DefaultForcedTimeoutMinutes is the wait budget for gates forced by a
// required-approval policy onto a stage that declares no approval of its
// own. A declared timeout, even zero, always wins.
const DefaultForcedTimeoutMinutes = 60

// GateResult tells the executor whether the guarded stage may run.
type GateResult struct {
	Proceed    bool
	Reason     string
	ApprovedBy []string
	GateID     string
}

// Engine owns approval gate lifecycle and the wait protocol.
type Engine struct {
	gates store.Gates
	bus   events.Publisher
	poll  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// NewEngine creates an approval engine. A non-positive poll interval falls
// back to the default.
func NewEngine(gates store.Gates, bus events.Publisher, pollInterval time.Duration) *Engine {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Engine{
		gates:   gates,
		bus:     bus,
		poll:    pollInterval,
		now:     time.Now,
		waiters: make(map[string][]chan struct{}),
	}
}

// Gate creates an approval gate for a stage and parks until it resolves.
// A policy override amplifies the declared requirement: the stricter
// minimum wins and approver groups are unioned. Gate creation failure
// fails closed: the guarded stage must never run without a persisted gate.
func (e *Engine) Gate(ctx context.Context, build *models.Build, stageName string, spec models.ApprovalSpec, override *models.ApprovalOverride) GateResult {
	gate, err := e.createGate(ctx, build, stageName, spec, override)
	if err != nil {
		logctx.From(ctx).Error("Failed to create approval gate, denying stage",
			"stage", stageName,
			"error", err)
		return GateResult{Proceed: false, Reason: fmt.Sprintf("approval gate creation failed: %v", err)}
	}
	return e.wait(ctx, gate)
}

func (e *Engine) createGate(ctx context.Context, build *models.Build, stageName string, spec models.ApprovalSpec, override *models.ApprovalOverride) (*models.ApprovalGate, error) {
	minApprovals := spec.MinApprovals
	if minApprovals <= 0 {
		minApprovals = 1
	}
	var groups []string
	if spec.ApproverGroup != "" {
		groups = []string{spec.ApproverGroup}
	}
	if override != nil {
		if override.MinApprovals > minApprovals {
			minApprovals = override.MinApprovals
		}
		for _, group := range override.ApproverGroups {
			if !slices.Contains(groups, group) {
				groups = append(groups, group)
			}
		}
	}

	gate := &models.ApprovalGate{
		ID:             uuid.New().String(),
		BuildID:        build.ID,
		Org:            build.Org,
		JobName:        build.JobName,
		Stage:          stageName,
		Message:        spec.Message,
		RequiredRole:   spec.RequiredRole,
		ApproverGroups: groups,
		MinApprovals:   minApprovals,
		TimeoutMinutes: spec.TimeoutMinutes,
		Status:         models.GateStatusPending,
		CreatedAt:      e.now().UTC(),
	}
	if err := e.gates.Create(ctx, gate); err != nil {
		return nil, err
	}

	e.bus.Publish(ctx, events.New(build.ID, events.TypeApprovalRequested, events.ApprovalPayload{
		GateID:         gate.ID,
		Stage:          stageName,
		Message:        gate.Message,
		RequiredRole:   gate.RequiredRole,
		ApproverGroups: gate.ApproverGroups,
		MinApprovals:   gate.MinApprovals,
		TimeoutMinutes: gate.TimeoutMinutes,
	}))

	logctx.From(ctx).Info("Created approval gate",
		"gate_id", gate.ID,
		"stage", stageName,
		"min_approvals", gate.MinApprovals,
		"timeout_minutes", gate.TimeoutMinutes)
	return gate, nil
}

// wait is the cooperative wait loop: re-read gate state, check the
// timeout, then suspend until a notification, the poll interval, or
// cancellation. The timeout check runs before the first suspension, so a
// zero timeout resolves immediately.
func (e *Engine) wait(ctx context.Context, gate *models.ApprovalGate) GateResult {
	logger := logctx.From(ctx)
	notify := e.addWaiter(gate.ID)
	defer e.removeWaiter(gate.ID, notify)

	timeout := gate.Timeout()
	for {
		current, err := e.gates.Get(ctx, gate.ID)
		if err != nil {
			logger.Error("Failed to re-read approval gate, denying stage",
				"gate_id", gate.ID,
				"error", err)
			return GateResult{Proceed: false, Reason: fmt.Sprintf("approval gate lookup failed: %v", err), GateID: gate.ID}
		}

		switch current.Status {
		case models.GateStatusApproved:
			logger.Info("Approval gate approved",
				"gate_id", gate.ID,
				"approved_by", current.ApprovedBy())
			return GateResult{Proceed: true, ApprovedBy: current.ApprovedBy(), GateID: gate.ID}
		case models.GateStatusRejected:
			reason := fmt.Sprintf("rejected by %s", current.RejectedBy)
			if current.Reason != "" {
				reason = fmt.Sprintf("%s: %s", reason, current.Reason)
			}
			return GateResult{Proceed: false, Reason: reason, GateID: gate.ID}
		case models.GateStatusTimedOut:
			return GateResult{Proceed: false, Reason: timeoutReason(current.TimeoutMinutes), GateID: gate.ID}
		}

		if e.now().Sub(current.CreatedAt) >= timeout {
			e.resolveTimeout(ctx, current)
			return GateResult{Proceed: false, Reason: timeoutReason(current.TimeoutMinutes), GateID: gate.ID}
		}

		select {
		case <-notify:
		case <-time.After(e.poll):
		case <-ctx.Done():
			e.resolveCancelled(current)
			return GateResult{Proceed: false, Reason: "build cancelled while awaiting approval", GateID: gate.ID}
		}
	}
}

func timeoutReason(minutes int) string {
	return fmt.Sprintf("approval timed out after %dm", minutes)
}

func (e *Engine) resolveTimeout(ctx context.Context, gate *models.ApprovalGate) {
	now := e.now().UTC()
	gate.Status = models.GateStatusTimedOut
	gate.Reason = timeoutReason(gate.TimeoutMinutes)
	gate.ResolvedAt = &now
	if err := e.gates.Update(ctx, gate); err != nil {
		logctx.From(ctx).Error("Failed to persist approval gate timeout",
			"gate_id", gate.ID,
			"error", err)
	}
}

// resolveCancelled marks the gate rejected with a system cause. The wait
// context is already cancelled, so persistence uses a background context.
func (e *Engine) resolveCancelled(gate *models.ApprovalGate) {
	now := e.now().UTC()
	gate.Status = models.GateStatusRejected
	gate.RejectedBy = "system"
	gate.Reason = "build cancelled"
	gate.ResolvedAt = &now
	if err := e.gates.Update(context.Background(), gate); err != nil {
		logctx.From(context.Background()).Error("Failed to persist approval gate cancellation",
			"gate_id", gate.ID,
			"error", err)
	}
}

// Approve records one user's sign-off. The gate resolves to approved once
// min-approvals distinct users signed off. Approving an already-resolved
// gate or double-approving is a no-op.
func (e *Engine) Approve(ctx context.Context, gateID, user string) (*models.ApprovalGate, error) {
	if user == "" {
		return nil, fmt.Errorf("approval requires a user identity")
	}

	gate, err := e.gates.Get(ctx, gateID)
	if err != nil {
		return nil, err
	}
	if gate.Status.Resolved() {
		return gate, nil
	}
	if gate.HasApproval(user) {
		return gate, nil
	}

	gate.Approvals = append(gate.Approvals, models.Approval{User: user, At: e.now().UTC()})
	if len(gate.Approvals) >= gate.MinApprovals {
		now := e.now().UTC()
		gate.Status = models.GateStatusApproved
		gate.ResolvedAt = &now
	}
	if err := e.gates.Update(ctx, gate); err != nil {
		return nil, err
	}

	logctx.From(ctx).Info("Recorded gate approval",
		"gate_id", gateID,
		"user", user,
		"approvals", len(gate.Approvals),
		"min_approvals", gate.MinApprovals,
		"status", string(gate.Status))
	e.NotifyResolved(gateID)
	return gate, nil
}

// Reject resolves the gate as rejected. Rejecting an already-resolved gate
// is a no-op.
func (e *Engine) Reject(ctx context.Context, gateID, user, reason string) (*models.ApprovalGate, error) {
	if user == "" {
		return nil, fmt.Errorf("rejection requires a user identity")
	}

	gate, err := e.gates.Get(ctx, gateID)
	if err != nil {
		return nil, err
	}
	if gate.Status.Resolved() {
		return gate, nil
	}

	now := e.now().UTC()
	gate.Status = models.GateStatusRejected
	gate.RejectedBy = user
	gate.Reason = reason
	gate.ResolvedAt = &now
	if err := e.gates.Update(ctx, gate); err != nil {
		return nil, err
	}

	logctx.From(ctx).Info("Rejected approval gate",
		"gate_id", gateID,
		"user", user,
		"reason", reason)
	e.NotifyResolved(gateID)
	return gate, nil
}

// NotifyResolved wakes every waiter parked on a gate. The API collaborator
// calls this after resolving a gate out of band.
func (e *Engine) NotifyResolved(gateID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ch := range e.waiters[gateID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) addWaiter(gateID string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan struct{}, 1)
	e.waiters[gateID] = append(e.waiters[gateID], ch)
	return ch
}

func (e *Engine) removeWaiter(gateID string, ch chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := e.waiters[gateID][:0]
	for _, c := range e.waiters[gateID] {
		if c != ch {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 0 {
		delete(e.waiters, gateID)
	} else {
		e.waiters[gateID] = remaining
	}
}
