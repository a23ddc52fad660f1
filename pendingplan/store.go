// Package pendingplan implements the Pending Plan Store (C8): decompositions
// held while awaiting a human's PlanApprovalResponse, keyed by the workflow
// reference code that will arrive in the response. A thin wrapper over a
// mutex-guarded map, in the same spirit as the teacher's in-memory profile
// cache in engine.go before it is handed off to natsclient for durability.
package pendingplan

import (
	"sync"

	"github.com/dataparency-dev/cos-orchestrator/types"
)

// Store holds PendingPlans keyed by their workflow reference code.
type Store struct {
	mu    sync.Mutex
	plans map[string]types.PendingPlan
}

func New() *Store {
	return &Store{plans: make(map[string]types.PendingPlan)}
}

// Store saves plan under ref, overwriting any existing entry.
func (s *Store) Store(ref types.ReferenceCode, plan types.PendingPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[ref.String()] = plan
}

// Get returns the pending plan for ref, if any.
func (s *Store) Get(ref types.ReferenceCode) (types.PendingPlan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[ref.String()]
	return p, ok
}

// Remove deletes the pending plan for ref. Safe to call when absent.
func (s *Store) Remove(ref types.ReferenceCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, ref.String())
}
