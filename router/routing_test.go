package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Invariant 3: self-exclusion. Even if the router itself advertises the
// matched capability, it must never be chosen as the delegate — only a
// genuinely distinct specialist can receive the dispatch.
func TestSelfExclusion_RouterNeverRoutesToItself(t *testing.T) {
	decomp := types.Decomposition{
		Tasks:      []types.DecomposedTask{{Capability: "triage", Description: "Handle it", AuthorityTier: types.JustDoIt}},
		Confidence: 0.9,
	}
	persona := basePersona()
	persona.Capabilities = []types.Capability{{Name: "triage"}}
	h := newHarness(persona, decomp)

	// The router itself is "registered" under its own capability, plus one
	// genuine specialist that also advertises it.
	h.Registry.Register(agent("cos", "triage"))
	h.Registry.Register(agent("triage-agent", "triage"))

	inbound := types.Envelope{
		Payload: types.TextMessage{PayloadBase: types.PayloadBase{MessageID: "m1"}},
		Context: types.Context{ReplyTo: "agent.user"},
	}

	dispatchCh := make(chan types.Envelope, 1)
	selfCh := make(chan types.Envelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h1, err := h.Bus.StartConsuming(ctx, "agent.triage-agent", func(_ context.Context, env types.Envelope) error {
		dispatchCh <- env
		return nil
	})
	require.NoError(t, err)
	defer h1.Stop(context.Background())
	h2, err := h.Bus.StartConsuming(ctx, "agent.cos", func(_ context.Context, env types.Envelope) error {
		selfCh <- env
		return nil
	})
	require.NoError(t, err)
	defer h2.Stop(context.Background())

	_, err = h.Router.Process(context.Background(), inbound)
	require.NoError(t, err)

	select {
	case got := <-dispatchCh:
		assert.Equal(t, "triage-agent", got.AuthorityClaims[0].GrantedTo)
	case <-time.After(time.Second):
		t.Fatal("no dispatch to the genuine specialist")
	}

	select {
	case <-selfCh:
		t.Fatal("router must never dispatch a task to itself")
	case <-time.After(100 * time.Millisecond):
	}

	records := h.Delegate.GetByAssignee("cos")
	assert.Empty(t, records, "no delegation record should ever assign the router to itself")
}

// When the only agent advertising a capability is the router itself, the
// task must escalate rather than silently dropping.
func TestSelfExclusion_OnlySelfMatchEscalates(t *testing.T) {
	decomp := types.Decomposition{
		Tasks:      []types.DecomposedTask{{Capability: "triage", Description: "Handle it", AuthorityTier: types.JustDoIt}},
		Confidence: 0.9,
	}
	persona := basePersona()
	h := newHarness(persona, decomp)
	h.Registry.Register(agent("cos", "triage"))

	inbound := types.Envelope{Payload: types.TextMessage{PayloadBase: types.PayloadBase{MessageID: "m1"}}}

	_, err := h.Router.Process(context.Background(), inbound)
	require.NoError(t, err)

	records := h.Delegate.GetByAssignee(persona.EscalationTarget)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Description, "Escalated")
}
