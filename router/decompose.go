package router

import (
	"context"
	"fmt"

	"github.com/dataparency-dev/cos-orchestrator/market"
	"github.com/dataparency-dev/cos-orchestrator/security"
	"github.com/dataparency-dev/cos-orchestrator/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (r *Router) handleNewTask(ctx context.Context, env types.Envelope) error {
	businessContext, err := r.ctxProvider.Lookup(ctx, renderKeywords(env))
	if err != nil {
		r.log.Warn("router: context provider lookup failed, proceeding without it",
			zap.String("agent_id", r.persona.AgentID), zap.Error(err))
		businessContext = ""
	}

	caller := map[string]any{
		"availableCapabilities": r.availableCapabilities(),
		"businessContext":       businessContext,
	}
	results := r.runner.Run(ctx, r.persona.Pipeline, env, caller)

	decomp, ok := extractDecomposition(r.persona.Pipeline, results)
	if !ok {
		return r.escalate(ctx, env, "decomposition result missing or unparsable")
	}
	if decomp.Confidence < r.persona.ConfidenceThreshold {
		return r.escalate(ctx, env, "decomposition confidence below threshold")
	}
	if len(decomp.Tasks) == 0 {
		return r.escalate(ctx, env, "decomposition produced no tasks")
	}

	inbound := r.inboundClaim(env)

	if highestTaskTier(decomp.Tasks) == types.AskMeFirst {
		return r.gateForApproval(ctx, env, decomp)
	}

	if len(decomp.Tasks) == 1 {
		return r.routeSingleTask(ctx, env, decomp.Tasks[0], inbound)
	}
	return r.routeParallelTasks(ctx, env, decomp, inbound)
}

// extractDecomposition interprets the last pipeline step's result as a
// types.Decomposition (§4.12: "interpret the final skill result").
func extractDecomposition(pipeline []string, results map[string]any) (types.Decomposition, bool) {
	if len(pipeline) == 0 {
		return types.Decomposition{}, false
	}
	last := pipeline[len(pipeline)-1]
	raw, ok := results[last]
	if !ok {
		return types.Decomposition{}, false
	}
	decomp, ok := raw.(types.Decomposition)
	return decomp, ok
}

// highestTaskTier returns the highest tier any planned task calls for. The
// approval gate keys on this planned tier rather than on the narrowed
// outbound tier, so an AskMeFirst task is gated even when the inbound
// envelope carries no claim addressed to the router.
func highestTaskTier(tasks []types.DecomposedTask) types.AuthorityTier {
	highest := types.JustDoIt
	for _, task := range tasks {
		if task.AuthorityTier > highest {
			highest = task.AuthorityTier
		}
	}
	return highest
}

func renderKeywords(env types.Envelope) string {
	if tm, ok := env.Payload.(types.TextMessage); ok {
		return tm.Text
	}
	return env.Context.OriginalGoal
}

func (r *Router) gateForApproval(ctx context.Context, env types.Envelope, decomp types.Decomposition) error {
	w, err := r.refcodes.Generate()
	if err != nil {
		return fmt.Errorf("router: gate for approval: %w", err)
	}

	r.pending.Store(w, types.PendingPlan{
		OriginalEnvelope: env,
		Decomposition:    decomp,
		StoredAt:         r.now(),
	})

	var descriptions []string
	for _, task := range decomp.Tasks {
		descriptions = append(descriptions, task.Description)
	}

	proposal := types.PlanProposal{
		PayloadBase:      types.PayloadBase{MessageID: types.NewMessageID(), Timestamp: r.now()},
		Summary:          decomp.Summary,
		TaskDescriptions: descriptions,
		OriginalGoal:     env.Context.OriginalGoal,
		WorkflowRefCode:  w,
	}

	out := types.Envelope{
		Payload:       proposal,
		ReferenceCode: w,
		Context: types.Context{
			ReplyTo:     env.Context.ReplyTo,
			FromAgentID: r.persona.AgentID,
		},
	}
	return r.bus.Publish(ctx, out, r.persona.EscalationTarget)
}

func (r *Router) routeSingleTask(ctx context.Context, env types.Envelope, task types.DecomposedTask, inbound types.AuthorityClaim) error {
	candidates := r.registry.FindByCapabilityExcept(task.Capability, r.persona.AgentID)
	agent, ok := pickCandidate(candidates, r.weights)
	if !ok {
		return r.escalate(ctx, env, "no available agent for capability "+task.Capability)
	}

	code, err := r.refcodes.Generate()
	if err != nil {
		return fmt.Errorf("router: route single task: %w", err)
	}

	r.delegate.Delegate(types.DelegationRecord{
		ReferenceCode: code,
		DelegatedBy:   r.persona.AgentID,
		DelegatedTo:   agent.AgentID,
		Description:   task.Description,
		Status:        types.DelegationAssigned,
		AssignedAt:    r.now(),
	})

	claim := security.NarrowClaim(inbound, task.AuthorityTier)
	claim.GrantedTo = agent.AgentID
	claim.GrantedAt = r.now()

	out := types.Envelope{
		Payload:         env.Payload,
		ReferenceCode:   code,
		AuthorityClaims: []types.AuthorityClaim{claim},
		Context: types.Context{
			OriginalGoal: env.Context.OriginalGoal,
			TeamID:       env.Context.TeamID,
			ChannelID:    env.Context.ChannelID,
			ReplyTo:      env.Context.ReplyTo,
			FromAgentID:  r.persona.AgentID,
		},
		Priority: env.Priority,
	}
	return r.bus.Publish(ctx, out, "agent."+agent.AgentID)
}

func (r *Router) routeParallelTasks(ctx context.Context, env types.Envelope, decomp types.Decomposition, inbound types.AuthorityClaim) error {
	w, err := r.refcodes.Generate()
	if err != nil {
		return fmt.Errorf("router: route parallel tasks: %w", err)
	}

	type pendingTask struct {
		ref  types.ReferenceCode
		task types.DecomposedTask
	}
	var pending []pendingTask
	var subtaskRefs []types.ReferenceCode
	for _, task := range decomp.Tasks {
		r_i, err := r.refcodes.Generate()
		if err != nil {
			return fmt.Errorf("router: route parallel tasks: %w", err)
		}
		pending = append(pending, pendingTask{ref: r_i, task: task})
		subtaskRefs = append(subtaskRefs, r_i)
	}

	// Create the workflow record before any candidate lookup (§4.12 steps
	// 1-2): a lookup failure transitions this already-existing record to
	// Failed rather than racing its creation against the escalation.
	r.workflows.Create(types.WorkflowRecord{
		ReferenceCode:         w,
		OriginalEnvelope:      env,
		SubtaskReferenceCodes: subtaskRefs,
		Summary:               decomp.Summary,
		Status:                types.WorkflowInProgress,
		CreatedAt:             r.now(),
	})

	type assignment struct {
		ref   types.ReferenceCode
		task  types.DecomposedTask
		agent types.AgentRegistration
	}
	var assignments []assignment
	for _, p := range pending {
		candidates := r.registry.FindByCapabilityExcept(p.task.Capability, r.persona.AgentID)
		agent, ok := pickCandidate(candidates, r.weights)
		if !ok {
			r.workflows.UpdateStatus(w, types.WorkflowFailed, r.now())
			return r.escalate(ctx, env, fmt.Sprintf("workflow %s failed: no available agent for capability %s", w, p.task.Capability))
		}
		assignments = append(assignments, assignment{ref: p.ref, task: p.task, agent: agent})
	}

	routerQueue := "agent." + r.persona.AgentID
	for _, a := range assignments {
		r.delegate.Delegate(types.DelegationRecord{
			ReferenceCode: a.ref,
			DelegatedBy:   r.persona.AgentID,
			DelegatedTo:   a.agent.AgentID,
			Description:   a.task.Description,
			Status:        types.DelegationAssigned,
			AssignedAt:    r.now(),
		})
	}

	// Dispatching to N specialist queues is independent per subtask, so
	// publishes fan out concurrently rather than serializing behind each
	// other's bus round-trip (matters once the bus is a real broker, not the
	// in-memory reference implementation).
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range assignments {
		a := a
		g.Go(func() error {
			claim := security.NarrowClaim(inbound, a.task.AuthorityTier)
			claim.GrantedTo = a.agent.AgentID
			claim.GrantedAt = r.now()

			out := types.Envelope{
				Payload:         env.Payload,
				ReferenceCode:   a.ref,
				AuthorityClaims: []types.AuthorityClaim{claim},
				Context: types.Context{
					OriginalGoal: env.Context.OriginalGoal,
					TeamID:       env.Context.TeamID,
					ChannelID:    env.Context.ChannelID,
					ReplyTo:      routerQueue,
					FromAgentID:  r.persona.AgentID,
				},
				Priority: env.Priority,
			}
			if err := r.bus.Publish(gctx, out, "agent."+a.agent.AgentID); err != nil {
				return fmt.Errorf("router: publish subtask %s: %w", a.ref, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func pickCandidate(candidates []types.AgentRegistration, weights market.Weights) (types.AgentRegistration, bool) {
	return market.Best(candidates, weights)
}
