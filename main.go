// Example: a single goal entering the orchestration runtime.
//
// Demonstrates the end-to-end flow:
//  1. Wire up the shared stores and the message bus.
//  2. Register specialist agents and bring their harnesses online.
//  3. Start the Chief of Staff router and the supervision loop.
//  4. Publish a goal; the router decomposes it, routes to a specialist,
//     and the specialist's reply flows back to the requester.
//  5. Publish a second, higher-stakes goal that triggers the approval
//     gate, and approve it.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/authority"
	"github.com/dataparency-dev/cos-orchestrator/bus"
	"github.com/dataparency-dev/cos-orchestrator/delegation"
	"github.com/dataparency-dev/cos-orchestrator/harness"
	"github.com/dataparency-dev/cos-orchestrator/pendingplan"
	"github.com/dataparency-dev/cos-orchestrator/refcode"
	"github.com/dataparency-dev/cos-orchestrator/registry"
	"github.com/dataparency-dev/cos-orchestrator/retrycounter"
	"github.com/dataparency-dev/cos-orchestrator/router"
	"github.com/dataparency-dev/cos-orchestrator/runtime"
	"github.com/dataparency-dev/cos-orchestrator/skills"
	"github.com/dataparency-dev/cos-orchestrator/supervision"
	"github.com/dataparency-dev/cos-orchestrator/types"
	"github.com/dataparency-dev/cos-orchestrator/workflow"
	"go.uber.org/zap"
)

// echoAgent is a minimal specialist: it acknowledges whatever it receives.
// Stands in for a real email/calendar/finance agent in this demo.
type echoAgent struct {
	id     string
	action string
}

func (a echoAgent) AgentID() string { return a.id }

// RequiredAction names the action every specialist demands authority over
// before it will touch an envelope; the router narrows and grants a claim
// for it on every dispatch (see routeSingleTask/routeParallelTasks).
func (a echoAgent) RequiredAction() string { return a.action }

func (a echoAgent) Process(_ context.Context, env types.Envelope) (*types.Envelope, error) {
	in, _ := env.Payload.(types.TextMessage)
	reply := types.TextMessage{
		PayloadBase: types.PayloadBase{Timestamp: time.Now()},
		Text:        fmt.Sprintf("%s handled: %q", a.id, in.Text),
	}
	return &types.Envelope{Payload: reply}, nil
}

func main() {
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	// ── Shared stores and bus ──────────────────────────────────────────
	msgBus := bus.NewInMemory(bus.WithLogger(log))
	authorityProvider := authority.NewProvider(time.Minute, authority.WithClock(time.Now))
	agentRegistry := registry.New()
	delegationTracker := delegation.New()
	workflowTracker := workflow.New()
	pendingPlans := pendingplan.New()
	retryCounts := retrycounter.New()
	refcodes := refcode.NewService(refcode.NewMemorySequenceStore())
	rt := runtime.New(runtime.WithLogger(log))

	// ── Register and start specialist agents ───────────────────────────
	specialists := []struct {
		id, capability string
	}{
		{"email-agent", "email-drafting"},
		{"calendar-agent", "scheduling"},
		{"finance-agent", "wire-transfer"},
	}
	for _, s := range specialists {
		h := harness.New(echoAgent{id: s.id, action: "respond"}, msgBus, authorityProvider, agentRegistry,
			harness.WithLogger(log),
			harness.WithRegistration(types.AgentRegistration{
				Name:         s.id,
				AgentType:    types.AgentTypeAI,
				Capabilities: []types.Capability{{Name: s.capability}},
				TrustScore:   0.8,
				MaxLoad:      5,
			}))
		rt.RegisterHarness(s.id, h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	founder := "agent.founder"
	requester := "agent.requester"

	// Fixed triage pipeline: this demo's decomposition skill always returns
	// the decomposition supplied via the envelope's Context.OriginalGoal,
	// standing in for a real LLM-backed triage skill.
	skillRegistry := skills.NewRegistry()
	skillRegistry.RegisterSkill(types.SkillDefinition{SkillID: "triage", ExecutorType: "demo-triage"})
	skillRegistry.RegisterExecutor("demo-triage", skills.ExecutorFunc(demoTriage))
	runner := skills.NewRunner(skillRegistry, skills.WithLogger(log))

	persona := types.Persona{
		AgentID:             "cos",
		Name:                "Chief of Staff",
		AgentType:           types.AgentTypeAI,
		Capabilities:        []types.Capability{{Name: "triage"}},
		Pipeline:            []string{"triage"},
		EscalationTarget:    founder,
		ConfidenceThreshold: 0.5,
	}
	chiefOfStaff := router.New(persona, msgBus, refcodes, agentRegistry, delegationTracker, workflowTracker, pendingPlans, runner,
		router.WithLogger(log))
	// The router reads authority claims itself to compute the inbound tier
	// (§4.12) rather than demanding one to touch its own queue, so its
	// harness is built with no authority provider wired.
	routerHarness := harness.New(chiefOfStaff, msgBus, nil, agentRegistry, harness.WithLogger(log))
	rt.RegisterHarness(persona.AgentID, routerHarness)

	seeds := map[string]string{persona.AgentID: "demo"}
	for _, s := range specialists {
		seeds[s.id] = "demo"
	}
	if errs := rt.StartSeedSet(ctx, seeds); len(errs) > 0 {
		log.Fatal("failed to start seed agents", zap.Errors("errors", errs))
	}

	supervisor := supervision.New(delegationTracker, retryCounts, msgBus, 30*time.Second, 3, "agent.alerts", founder,
		supervision.WithRunningChecker(rt), supervision.WithLogger(log))
	go supervisor.Run(ctx)

	// Watch the requester's reply queue and the approval target.
	replies := make(chan types.Envelope, 4)
	proposals := make(chan types.Envelope, 4)
	mustConsume(msgBus, requester, func(_ context.Context, env types.Envelope) error {
		replies <- env
		return nil
	})
	mustConsume(msgBus, founder, func(_ context.Context, env types.Envelope) error {
		proposals <- env
		return nil
	})

	// ── Goal 1: routine task, routed without human sign-off ────────────
	fmt.Println("=== Goal 1: draft a reply ===")
	_ = msgBus.Publish(ctx, types.Envelope{
		Payload: types.TextMessage{PayloadBase: types.PayloadBase{MessageID: "m1"}, Text: "Draft a reply to the vendor"},
		Context: types.Context{ReplyTo: requester, OriginalGoal: "single:email-drafting:Draft a reply to the vendor"},
	}, "agent.cos")

	select {
	case r := <-replies:
		fmt.Printf("requester received: %v\n", r.Payload)
	case <-time.After(2 * time.Second):
		fmt.Println("timed out waiting for goal 1 reply")
	}

	// ── Goal 2: high-stakes task, gated on approval ─────────────────────
	fmt.Println("\n=== Goal 2: wire a payment (requires approval) ===")
	_ = msgBus.Publish(ctx, types.Envelope{
		Payload: types.TextMessage{PayloadBase: types.PayloadBase{MessageID: "m2"}, Text: "Wire $10,000 to the contractor"},
		Context: types.Context{ReplyTo: requester, OriginalGoal: "single:wire-transfer:Wire $10,000 to the contractor"},
	}, "agent.cos")

	var proposal types.PlanProposal
	select {
	case p := <-proposals:
		proposal = p.Payload.(types.PlanProposal)
		fmt.Printf("founder asked to approve: %v\n", proposal.TaskDescriptions)
	case <-time.After(2 * time.Second):
		fmt.Println("timed out waiting for plan proposal")
	}

	fmt.Println("founder approves")
	_ = msgBus.Publish(ctx, types.Envelope{
		Payload: types.PlanApprovalResponse{IsApproved: true, WorkflowRefCode: proposal.WorkflowRefCode},
	}, "agent.cos")

	select {
	case r := <-replies:
		fmt.Printf("requester received: %v\n", r.Payload)
	case <-time.After(2 * time.Second):
		fmt.Println("timed out waiting for goal 2 reply")
	}

	fmt.Println("\n=== Shutting down ===")
	if errs := rt.Shutdown(ctx); len(errs) > 0 {
		log.Error("errors during shutdown", zap.Errors("errors", errs))
	}
	_ = msgBus.StopAll(ctx)
}

func mustConsume(b bus.Bus, queue string, handler bus.Handler) {
	if _, err := b.StartConsuming(context.Background(), queue, handler); err != nil {
		panic(err)
	}
}

// demoTriage turns a goal encoded as "single:<capability>:<description>" (or
// "wire-transfer" tasks, which this demo always marks AskMeFirst) into a
// Decomposition, standing in for a real skill pipeline's LLM call.
func demoTriage(_ context.Context, _ types.SkillDefinition, params skills.Params) (any, error) {
	goal := strings.TrimPrefix(params.Envelope.Context.OriginalGoal, "single:")
	capability, description, _ := strings.Cut(goal, ":")

	tier := types.JustDoIt
	if capability == "wire-transfer" {
		tier = types.AskMeFirst
	}

	return types.Decomposition{
		Tasks:      []types.DecomposedTask{{Capability: capability, Description: description, AuthorityTier: tier}},
		Summary:    description,
		Confidence: 0.9,
	}, nil
}
