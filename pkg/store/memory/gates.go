package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

// Gates is the in-memory approval gate store.
type Gates struct {
	mu    sync.RWMutex
	gates map[string]*models.ApprovalGate
}

var _ store.Gates = (*Gates)(nil)

// NewGates creates an empty gate store.
func NewGates() *Gates {
	return &Gates{gates: make(map[string]*models.ApprovalGate)}
}

// Create persists a new gate.
func (s *Gates) Create(_ context.Context, gate *models.ApprovalGate) error {
	if gate.ID == "" {
		return fmt.Errorf("approval gate has no ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.gates[gate.ID]; ok {
		return fmt.Errorf("approval gate %s: %w", gate.ID, store.ErrAlreadyExists)
	}
	s.gates[gate.ID] = deepCopy(gate)
	return nil
}

// Update replaces an existing gate.
func (s *Gates) Update(_ context.Context, gate *models.ApprovalGate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.gates[gate.ID]; !ok {
		return fmt.Errorf("approval gate %s: %w", gate.ID, store.ErrNotFound)
	}
	s.gates[gate.ID] = deepCopy(gate)
	return nil
}

// Get returns a gate by ID.
func (s *Gates) Get(_ context.Context, id string) (*models.ApprovalGate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gate, ok := s.gates[id]
	if !ok {
		return nil, fmt.Errorf("approval gate %s: %w", id, store.ErrNotFound)
	}
	return deepCopy(gate), nil
}

// ListPending returns unresolved gates, oldest first. An empty org lists
// every org's gates.
func (s *Gates) ListPending(_ context.Context, org string) ([]*models.ApprovalGate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]*models.ApprovalGate, 0)
	for _, gate := range s.gates {
		if gate.Status != models.GateStatusPending {
			continue
		}
		if org != "" && gate.Org != org {
			continue
		}
		pending = append(pending, deepCopy(gate))
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}
