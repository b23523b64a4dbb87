package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kiln-ci/kiln/pkg/models"
	"github.com/kiln-ci/kiln/pkg/store"
)

// Policies is the in-memory policy store.
type Policies struct {
	mu       sync.RWMutex
	policies map[string]*models.Policy
}

var _ store.Policies = (*Policies)(nil)

// NewPolicies creates an empty policy store.
func NewPolicies() *Policies {
	return &Policies{policies: make(map[string]*models.Policy)}
}

// Put inserts or replaces a policy by ID.
func (s *Policies) Put(_ context.Context, policy *models.Policy) error {
	if policy.ID == "" {
		return fmt.Errorf("policy has no ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[policy.ID] = deepCopy(policy)
	return nil
}

// Delete removes a policy.
func (s *Policies) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return fmt.Errorf("policy %s: %w", id, store.ErrNotFound)
	}
	delete(s.policies, id)
	return nil
}

// ListEnabled returns an org's enabled policies, highest priority first;
// ties break by name so evaluation order is stable.
func (s *Policies) ListEnabled(_ context.Context, org string) ([]*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enabled := make([]*models.Policy, 0)
	for _, policy := range s.policies {
		if policy.Enabled && policy.Org == org {
			enabled = append(enabled, deepCopy(policy))
		}
	}
	sort.Slice(enabled, func(i, j int) bool {
		if enabled[i].Priority != enabled[j].Priority {
			return enabled[i].Priority > enabled[j].Priority
		}
		return enabled[i].Name < enabled[j].Name
	})
	return enabled, nil
}
