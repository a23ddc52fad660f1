package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basePersona() types.Persona {
	return types.Persona{
		AgentID:             "cos",
		Name:                "Chief of Staff",
		EscalationTarget:    "agent.founder",
		ConfidenceThreshold: 0.5,
	}
}

// E1 — Route a single task.
func TestE1_RouteSingleTask(t *testing.T) {
	decomp := types.Decomposition{
		Tasks:      []types.DecomposedTask{{Capability: "email-drafting", Description: "Draft reply", AuthorityTier: types.DoItAndShowMe}},
		Confidence: 0.9,
	}
	h := newHarness(basePersona(), decomp)
	h.Registry.Register(agent("email-agent", "email-drafting"))

	inbound := types.Envelope{
		Payload: types.TextMessage{PayloadBase: types.PayloadBase{MessageID: "m1"}, Text: "Draft reply to John"},
		Context: types.Context{ReplyTo: "agent.user"},
	}

	dispatchCh := make(chan types.Envelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handle, err := h.Bus.StartConsuming(ctx, "agent.email-agent", func(_ context.Context, env types.Envelope) error {
		dispatchCh <- env
		return nil
	})
	require.NoError(t, err)
	defer handle.Stop(context.Background())

	_, err = h.Router.Process(context.Background(), inbound)
	require.NoError(t, err)

	select {
	case got := <-dispatchCh:
		assert.Equal(t, "cos", got.Context.FromAgentID)
		assert.Equal(t, "agent.user", got.Context.ReplyTo)
		require.Len(t, got.AuthorityClaims, 1)
		assert.Equal(t, "email-agent", got.AuthorityClaims[0].GrantedTo)
		assert.Equal(t, types.JustDoIt, got.AuthorityClaims[0].Tier, "narrowed from absent inbound claim (JustDoIt)")
	case <-time.After(time.Second):
		t.Fatal("no dispatch to email-agent")
	}

	records := h.Delegate.GetByAssignee("email-agent")
	require.Len(t, records, 1)
	assert.Equal(t, types.DelegationAssigned, records[0].Status)
}

// E2 — Escalate on unroutable capability.
func TestE2_EscalateOnUnroutableCapability(t *testing.T) {
	decomp := types.Decomposition{
		Tasks:      []types.DecomposedTask{{Capability: "quantum-physics", Description: "Solve it", AuthorityTier: types.JustDoIt}},
		Confidence: 0.95,
	}
	h := newHarness(basePersona(), decomp)

	inbound := types.Envelope{Payload: types.TextMessage{PayloadBase: types.PayloadBase{MessageID: "m1"}}}

	escalCh := make(chan types.Envelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handle, err := h.Bus.StartConsuming(ctx, "agent.founder", func(_ context.Context, env types.Envelope) error {
		escalCh <- env
		return nil
	})
	require.NoError(t, err)
	defer handle.Stop(context.Background())

	_, err = h.Router.Process(context.Background(), inbound)
	require.NoError(t, err)

	select {
	case <-escalCh:
	case <-time.After(time.Second):
		t.Fatal("no escalation envelope published to the escalation target")
	}

	records := h.Delegate.GetByAssignee("agent.founder")
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Description, "Escalated")
}

// E3 — Approval gate and resume.
func TestE3_ApprovalGateThenResume(t *testing.T) {
	decomp := types.Decomposition{
		Tasks:      []types.DecomposedTask{{Capability: "wire-transfer", Description: "Send $10k", AuthorityTier: types.AskMeFirst}},
		Confidence: 0.9,
	}
	h := newHarness(basePersona(), decomp)
	h.Registry.Register(agent("finance-agent", "wire-transfer"))

	inbound := types.Envelope{
		Payload: types.TextMessage{PayloadBase: types.PayloadBase{MessageID: "m1"}, Text: "Send $10k"},
		Context: types.Context{ReplyTo: "agent.user"},
	}

	proposalCh := make(chan types.Envelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h1, err := h.Bus.StartConsuming(ctx, "agent.founder", func(_ context.Context, env types.Envelope) error {
		proposalCh <- env
		return nil
	})
	require.NoError(t, err)
	defer h1.Stop(context.Background())

	dispatchCh := make(chan types.Envelope, 1)
	h2, err := h.Bus.StartConsuming(ctx, "agent.finance-agent", func(_ context.Context, env types.Envelope) error {
		dispatchCh <- env
		return nil
	})
	require.NoError(t, err)
	defer h2.Stop(context.Background())

	_, err = h.Router.Process(context.Background(), inbound)
	require.NoError(t, err)

	var proposal types.PlanProposal
	select {
	case env := <-proposalCh:
		proposal = env.Payload.(types.PlanProposal)
		assert.Contains(t, proposal.TaskDescriptions, "Send $10k")
	case <-time.After(time.Second):
		t.Fatal("no PlanProposal published")
	}

	select {
	case <-dispatchCh:
		t.Fatal("no dispatch must happen before approval")
	case <-time.After(100 * time.Millisecond):
	}

	_, ok := h.Pending.Get(proposal.WorkflowRefCode)
	require.True(t, ok)

	approval := types.Envelope{
		Payload: types.PlanApprovalResponse{IsApproved: true, WorkflowRefCode: proposal.WorkflowRefCode},
	}
	_, err = h.Router.Process(context.Background(), approval)
	require.NoError(t, err)

	select {
	case got := <-dispatchCh:
		assert.Equal(t, "cos", got.Context.FromAgentID)
	case <-time.After(time.Second):
		t.Fatal("no dispatch after approval")
	}

	_, ok = h.Pending.Get(proposal.WorkflowRefCode)
	assert.False(t, ok, "pending plan must be removed after approval")
}

// E4 — Rejection.
func TestE4_Rejection(t *testing.T) {
	decomp := types.Decomposition{
		Tasks:      []types.DecomposedTask{{Capability: "wire-transfer", Description: "Send $10k", AuthorityTier: types.AskMeFirst}},
		Confidence: 0.9,
	}
	h := newHarness(basePersona(), decomp)
	h.Registry.Register(agent("finance-agent", "wire-transfer"))

	inbound := types.Envelope{
		Payload: types.TextMessage{PayloadBase: types.PayloadBase{MessageID: "m1"}, Text: "Send $10k"},
		Context: types.Context{ReplyTo: "agent.user"},
	}

	proposalCh := make(chan types.Envelope, 1)
	rejectionCh := make(chan types.Envelope, 1)
	dispatchCh := make(chan types.Envelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h1, _ := h.Bus.StartConsuming(ctx, "agent.founder", func(_ context.Context, env types.Envelope) error {
		proposalCh <- env
		return nil
	})
	defer h1.Stop(context.Background())
	h2, _ := h.Bus.StartConsuming(ctx, "agent.user", func(_ context.Context, env types.Envelope) error {
		rejectionCh <- env
		return nil
	})
	defer h2.Stop(context.Background())
	h3, _ := h.Bus.StartConsuming(ctx, "agent.finance-agent", func(_ context.Context, env types.Envelope) error {
		dispatchCh <- env
		return nil
	})
	defer h3.Stop(context.Background())

	_, err := h.Router.Process(context.Background(), inbound)
	require.NoError(t, err)

	proposal := (<-proposalCh).Payload.(types.PlanProposal)

	rejection := types.Envelope{
		Payload: types.PlanApprovalResponse{
			IsApproved:      false,
			RejectionReason: "Too risky",
			WorkflowRefCode: proposal.WorkflowRefCode,
		},
	}
	_, err = h.Router.Process(context.Background(), rejection)
	require.NoError(t, err)

	select {
	case got := <-rejectionCh:
		tm := got.Payload.(types.TextMessage)
		assert.Contains(t, tm.Text, "Too risky")
	case <-time.After(time.Second):
		t.Fatal("no rejection message published")
	}

	select {
	case <-dispatchCh:
		t.Fatal("no specialist dispatch must happen on rejection")
	case <-time.After(100 * time.Millisecond):
	}

	_, ok := h.Pending.Get(proposal.WorkflowRefCode)
	assert.False(t, ok)
}

// Invariant 5: a second approval for an already-resolved workflow ref
// dispatches nothing.
func TestRejectionCompleteness_SecondApprovalIsNoop(t *testing.T) {
	decomp := types.Decomposition{
		Tasks:      []types.DecomposedTask{{Capability: "wire-transfer", Description: "Send $10k", AuthorityTier: types.AskMeFirst}},
		Confidence: 0.9,
	}
	h := newHarness(basePersona(), decomp)
	h.Registry.Register(agent("finance-agent", "wire-transfer"))

	inbound := types.Envelope{Payload: types.TextMessage{PayloadBase: types.PayloadBase{MessageID: "m1"}, Text: "Send $10k"}}
	proposal := recvAndProcess(t, h, inbound)

	rejection := types.Envelope{Payload: types.PlanApprovalResponse{IsApproved: false, WorkflowRefCode: proposal.WorkflowRefCode}}
	_, err := h.Router.Process(context.Background(), rejection)
	require.NoError(t, err)

	dispatchCh := make(chan types.Envelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handle, _ := h.Bus.StartConsuming(ctx, "agent.finance-agent", func(_ context.Context, env types.Envelope) error {
		dispatchCh <- env
		return nil
	})
	defer handle.Stop(context.Background())

	approval := types.Envelope{Payload: types.PlanApprovalResponse{IsApproved: true, WorkflowRefCode: proposal.WorkflowRefCode}}
	_, err = h.Router.Process(context.Background(), approval)
	require.NoError(t, err)

	select {
	case <-dispatchCh:
		t.Fatal("a stale approval for an already-resolved plan must dispatch nothing")
	case <-time.After(100 * time.Millisecond):
	}
}

func recvAndProcess(t *testing.T, h *harness, inbound types.Envelope) types.PlanProposal {
	ch := make(chan types.Envelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handle, err := h.Bus.StartConsuming(ctx, "agent.founder", func(_ context.Context, env types.Envelope) error {
		ch <- env
		return nil
	})
	require.NoError(t, err)
	defer handle.Stop(context.Background())

	_, err = h.Router.Process(context.Background(), inbound)
	require.NoError(t, err)

	select {
	case env := <-ch:
		return env.Payload.(types.PlanProposal)
	case <-time.After(time.Second):
		t.Fatal("no proposal published")
		return types.PlanProposal{}
	}
}
