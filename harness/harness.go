// Package harness implements the Agent Harness (C10): it binds one Agent to
// its own queue, validates the authority claims attached to every inbound
// envelope before letting the agent touch it (when an authority provider is
// wired), and stamps/publishes the
// agent's reply. A process error is returned to the bus so it can be
// dead-lettered rather than swallowed, the same non-silent-failure posture
// the teacher's engine.go applies when a storeData call fails partway
// through a delegation.
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/authority"
	"github.com/dataparency-dev/cos-orchestrator/bus"
	"github.com/dataparency-dev/cos-orchestrator/registry"
	"github.com/dataparency-dev/cos-orchestrator/types"
	"go.uber.org/zap"
)

// ErrAuthorityDenied marks an envelope dropped because its attached claim
// did not authorize the agent for the action it names (§4.10, §7
// "Filtered").
var ErrAuthorityDenied = errors.New("harness: authority claim denied")

// Agent is the unit of work a harness dispatches to: one inbound envelope in,
// an optional reply envelope out. Returning an error propagates to the bus
// as a dead-letterable failure (§7).
type Agent interface {
	AgentID() string
	// RequiredAction names the action string checked against the envelope's
	// authority claims before Process is ever called, when the harness has
	// an authority provider wired. Whether the check runs depends only on
	// that provider: an empty string is looked up like any other action and
	// is satisfied only by a wildcard claim. An agent that must not be
	// gated (e.g. the router) is harnessed with a nil provider.
	RequiredAction() string
	Process(ctx context.Context, env types.Envelope) (*types.Envelope, error)
}

// QueueName returns the queue an agent's harness consumes from.
func QueueName(agentID string) string {
	return "agent." + agentID
}

// Harness wires one Agent onto the bus.
type Harness struct {
	agent        Agent
	bus          bus.Bus
	authority    *authority.Provider
	registry     *registry.Registry
	registration types.AgentRegistration
	minTier      types.AuthorityTier
	log          *zap.Logger
	now          func() time.Time

	mu     sync.Mutex
	handle bus.ConsumerHandle
}

// Option configures a Harness at construction time.
type Option func(*Harness)

// WithMinimumTier overrides the minimum AuthorityTier required to dispatch
// to this agent. Defaults to JustDoIt (any claim suffices).
func WithMinimumTier(tier types.AuthorityTier) Option {
	return func(h *Harness) { h.minTier = tier }
}

// WithRegistration supplies the static AgentRegistration fields (name,
// capabilities, trust score, ...) the harness registers on Start. AgentID
// and IsAvailable are always stamped by the harness itself.
func WithRegistration(reg types.AgentRegistration) Option {
	return func(h *Harness) { h.registration = reg }
}

// WithLogger attaches a structured logger; the default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Harness) { h.log = log }
}

// WithClock overrides the time source used for claim expiry checks (tests only).
func WithClock(now func() time.Time) Option {
	return func(h *Harness) { h.now = now }
}

// New constructs a Harness for agent, publishing and consuming through bus.
// reg may be nil, in which case the harness never touches the registry
// (tests exercising dispatch logic in isolation).
func New(agent Agent, b bus.Bus, authorityProvider *authority.Provider, reg *registry.Registry, opts ...Option) *Harness {
	h := &Harness{
		agent:     agent,
		bus:       b,
		authority: authorityProvider,
		registry:  reg,
		minTier:   types.JustDoIt,
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start subscribes the harness's dispatch loop to the agent's queue and, if
// a registry is wired, registers the agent as available (§4.10 "start").
func (h *Harness) Start(ctx context.Context) (bus.ConsumerHandle, error) {
	handle, err := h.bus.StartConsuming(ctx, QueueName(h.agent.AgentID()), h.dispatch)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.handle = handle
	h.mu.Unlock()

	if h.registry != nil {
		reg := h.registration
		reg.AgentID = h.agent.AgentID()
		reg.IsAvailable = true
		h.registry.Register(reg)
	}
	return handle, nil
}

// Stop marks the agent unavailable in the registry before releasing this
// harness's consumer handle (§4.10 "stop"); the handle's own Stop drains
// whatever envelope is currently in flight before returning. Stopping a
// harness that was never started is a no-op.
func (h *Harness) Stop(ctx context.Context) error {
	if h.registry != nil {
		h.registry.SetAvailable(h.agent.AgentID(), false)
	}

	h.mu.Lock()
	handle := h.handle
	h.mu.Unlock()
	if handle == nil {
		return nil
	}
	return handle.Stop(ctx)
}

func (h *Harness) dispatch(ctx context.Context, env types.Envelope) error {
	if h.authority != nil {
		action := h.agent.RequiredAction()
		if !h.authorized(env, action) {
			h.log.Info("harness: dropping envelope, authority denied",
				zap.String("agent_id", h.agent.AgentID()), zap.String("action", action))
			return nil // Filtered: acked, dropped, no alarm (§7)
		}
	}

	reply, err := h.agent.Process(ctx, env)
	if err != nil {
		return fmt.Errorf("harness: agent %s: %w", h.agent.AgentID(), err)
	}
	if reply == nil {
		return nil
	}

	if env.Context.ReplyTo == "" {
		h.log.Warn("harness: agent produced a reply with no ReplyTo, dropping",
			zap.String("agent_id", h.agent.AgentID()))
		return nil
	}

	out := env.Reply(reply.Payload, h.agent.AgentID())
	return h.bus.Publish(ctx, out, env.Context.ReplyTo)
}

// authorized grants every claim attached to env that actually targets this
// agent into the wired Provider — the harness is where a delegated grant
// takes effect — then consults the Provider for whether the agent currently
// holds authority for action at or above h.minTier. An envelope carrying no
// valid claim for this agent is denied outright.
func (h *Harness) authorized(env types.Envelope, action string) bool {
	granted := false
	for _, claim := range env.AuthorityClaims {
		if claim.GrantedTo != h.agent.AgentID() || claim.Expired(h.now()) {
			continue
		}
		h.authority.Grant(claim)
		granted = true
	}
	if !granted {
		return false
	}
	return h.authority.HasAuthority(h.agent.AgentID(), action, h.minTier)
}
