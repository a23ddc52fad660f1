// Package runtime implements the Agent Runtime (C11): it owns the lifecycle
// of every Harness in the system, grouped into named teams, and exposes
// start/stop operations at both the single-agent and whole-team
// granularity. Grounded on the teacher's main.go, which wires up and tears
// down its delegation engine's goroutines explicitly rather than relying on
// package-level init.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/dataparency-dev/cos-orchestrator/bus"
	"github.com/dataparency-dev/cos-orchestrator/harness"
	"go.uber.org/zap"
)

// Starter is the subset of *harness.Harness the runtime depends on to bring
// an agent online and take it back down, so tests can substitute a fake
// without spinning up a real bus or registry.
type Starter interface {
	Start(ctx context.Context) (bus.ConsumerHandle, error)
	Stop(ctx context.Context) error
}

type running struct {
	teamID string
}

// Runtime tracks running harnesses by agent id and by team membership.
type Runtime struct {
	mu      sync.Mutex
	agents  map[string]running
	harness map[string]Starter
	log     *zap.Logger
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithLogger attaches a structured logger; the default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runtime) { r.log = log }
}

func New(opts ...Option) *Runtime {
	r := &Runtime{
		agents:  make(map[string]running),
		harness: make(map[string]Starter),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterHarness associates agentID with the Starter that will bring it
// online; it does not start the agent yet.
func (r *Runtime) RegisterHarness(agentID string, h Starter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.harness[agentID] = h
}

// StartAgent starts agentID's registered harness under teamID, if it is not
// already running. Idempotent: starting an already-running agent is a no-op.
func (r *Runtime) StartAgent(ctx context.Context, teamID, agentID string) error {
	r.mu.Lock()
	if _, ok := r.agents[agentID]; ok {
		r.mu.Unlock()
		return nil
	}
	h, ok := r.harness[agentID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("runtime: no harness registered for agent %s", agentID)
	}

	if _, err := h.Start(ctx); err != nil {
		return fmt.Errorf("runtime: start agent %s: %w", agentID, err)
	}

	r.mu.Lock()
	r.agents[agentID] = running{teamID: teamID}
	r.mu.Unlock()
	r.log.Info("runtime: agent started", zap.String("agent_id", agentID), zap.String("team_id", teamID))
	return nil
}

// StartSeedSet starts every (teamID, agentID) pair in seeds, continuing past
// individual failures and returning every error encountered.
func (r *Runtime) StartSeedSet(ctx context.Context, seeds map[string]string) []error {
	var errs []error
	for agentID, teamID := range seeds {
		if err := r.StartAgent(ctx, teamID, agentID); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// StopAgent stops agentID's running harness, if any. Stopping is delegated
// to the harness itself (§4.10 "stop": mark unavailable, drain in-flight
// work), not to the raw consumer handle.
func (r *Runtime) StopAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	_, ok := r.agents[agentID]
	if ok {
		delete(r.agents, agentID)
	}
	h := r.harness[agentID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := h.Stop(ctx); err != nil {
		return fmt.Errorf("runtime: stop agent %s: %w", agentID, err)
	}
	r.log.Info("runtime: agent stopped", zap.String("agent_id", agentID))
	return nil
}

// StopTeam stops every agent currently running under teamID, independent of
// consumers for other teams (§9 "scoped consumer resources").
func (r *Runtime) StopTeam(ctx context.Context, teamID string) []error {
	r.mu.Lock()
	var toStop []string
	for agentID, run := range r.agents {
		if run.teamID == teamID {
			toStop = append(toStop, agentID)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, agentID := range toStop {
		if err := r.StopAgent(ctx, agentID); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// RunningAgentIDs returns every agent id currently running.
func (r *Runtime) RunningAgentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	return out
}

// GetTeamAgentIDs returns every agent id currently running under teamID.
func (r *Runtime) GetTeamAgentIDs(teamID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, run := range r.agents {
		if run.teamID == teamID {
			out = append(out, id)
		}
	}
	return out
}

// IsRunning reports whether agentID currently has a live harness. The
// supervision service treats an absent (unregistered) agent as running,
// since §4.13 only escalates confirmed-dead agents, not unknown ones.
func (r *Runtime) IsRunning(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[agentID]
	if _, registered := r.harness[agentID]; !registered {
		return true
	}
	return ok
}

// Shutdown stops every running agent across every team.
func (r *Runtime) Shutdown(ctx context.Context) []error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.StopAgent(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
