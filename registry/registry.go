// Package registry implements the Agent Registry (C4): a concurrent-safe
// directory of registered agents, searchable by id and by capability, with
// availability flipped automatically when an agent's circuit breaker trips.
// Grounded on the teacher's AgentProfile directory in engine.go, which the
// same way keeps a map guarded by a single mutex and filters on a boolean
// availability flag when matching bids.
package registry

import (
	"sort"
	"sync"

	"github.com/dataparency-dev/cos-orchestrator/security"
	"github.com/dataparency-dev/cos-orchestrator/types"
)

// Registry stores AgentRegistrations keyed by AgentID, optimized for many
// concurrent readers (findByCapability is called on every routing decision)
// against infrequent writers (register/availability changes).
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]types.AgentRegistration
	breaker map[string]*security.CircuitBreaker
}

// Option configures a Registry at construction time.
type Option func(*Registry)

func New(opts ...Option) *Registry {
	r := &Registry{
		agents:  make(map[string]types.AgentRegistration),
		breaker: make(map[string]*security.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores reg, overwriting any prior registration for the same
// AgentID (§4.4: registration is idempotent).
func (r *Registry) Register(reg types.AgentRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg.MaxLoad == 0 {
		reg.MaxLoad = 1
	}
	r.agents[reg.AgentID] = reg
	if _, ok := r.breaker[reg.AgentID]; !ok {
		r.breaker[reg.AgentID] = security.NewCircuitBreaker(3)
	}
}

// FindByID returns the registration for agentID, if any.
func (r *Registry) FindByID(agentID string) (types.AgentRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentID]
	return reg, ok
}

// FindByCapability returns every currently-available agent advertising
// capability, in registration order is not guaranteed (map iteration).
func (r *Registry) FindByCapability(capability string) []types.AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.AgentRegistration
	for _, reg := range r.agents {
		if reg.IsAvailable && reg.HasCapability(capability) {
			out = append(out, reg)
		}
	}
	return out
}

// AvailableCapabilities returns the sorted, de-duplicated set of capability
// names advertised by every available agent other than excludeAgentID, the
// enumeration the router's decomposition skill pipeline is given as
// `availableCapabilities` (§4.12).
func (r *Registry) AvailableCapabilities(excludeAgentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, reg := range r.agents {
		if reg.AgentID == excludeAgentID || !reg.IsAvailable {
			continue
		}
		for _, c := range reg.Capabilities {
			seen[c.Name] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FindByCapabilityExcept is FindByCapability filtered to exclude
// excludeAgentID, enforcing the router's self-exclusion invariant (§4.12).
func (r *Registry) FindByCapabilityExcept(capability, excludeAgentID string) []types.AgentRegistration {
	all := r.FindByCapability(capability)
	out := all[:0:0]
	for _, reg := range all {
		if reg.AgentID != excludeAgentID {
			out = append(out, reg)
		}
	}
	return out
}

// SetAvailable updates an agent's availability flag directly (e.g. a manual
// drain before maintenance). Has no effect if agentID is unregistered.
func (r *Registry) SetAvailable(agentID string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.agents[agentID]
	if !ok {
		return
	}
	reg.IsAvailable = available
	r.agents[agentID] = reg
}

// ReportSuccess records a successful dispatch to agentID, closing its
// circuit breaker if it was tripped and restoring availability.
func (r *Registry) ReportSuccess(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breaker[agentID]
	if !ok {
		return
	}
	cb.RecordSuccess()
	if reg, ok := r.agents[agentID]; ok {
		reg.IsAvailable = true
		r.agents[agentID] = reg
	}
}

// ReportFailure records a failed dispatch to agentID. Once the breaker trips
// (§ security.CircuitBreaker), the agent is marked unavailable so routing
// stops selecting it until it recovers.
func (r *Registry) ReportFailure(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breaker[agentID]
	if !ok {
		return
	}
	cb.RecordFailure()
	if cb.Open() {
		if reg, ok := r.agents[agentID]; ok {
			reg.IsAvailable = false
			r.agents[agentID] = reg
		}
	}
}
