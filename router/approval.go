package router

import (
	"context"

	"github.com/dataparency-dev/cos-orchestrator/types"
	"go.uber.org/zap"
)

func (r *Router) handleApproval(ctx context.Context, env types.Envelope, response types.PlanApprovalResponse) error {
	plan, ok := r.pending.Get(response.WorkflowRefCode)
	if !ok {
		r.log.Info("router: approval response for unknown or already-resolved workflow, dropping",
			zap.String("workflow_ref", response.WorkflowRefCode.String()))
		return nil
	}
	r.pending.Remove(response.WorkflowRefCode)

	if !response.IsApproved {
		rejection := types.TextMessage{
			PayloadBase: types.PayloadBase{MessageID: types.NewMessageID(), Timestamp: r.now()},
			Text:        "Plan rejected: " + response.RejectionReason,
		}
		out := types.Envelope{
			Payload:       rejection,
			ReferenceCode: response.WorkflowRefCode,
			Context: types.Context{
				OriginalGoal: plan.OriginalEnvelope.Context.OriginalGoal,
				FromAgentID:  r.persona.AgentID,
			},
		}
		return r.bus.Publish(ctx, out, plan.OriginalEnvelope.Context.ReplyTo)
	}

	// Approval itself elevates: the effective inbound tier for this dispatch
	// is forced to AskMeFirst regardless of what the original envelope carried
	// (§4.12 "Approval handling").
	elevatedClaim := types.AuthorityClaim{
		GrantedTo: r.persona.AgentID,
		Tier:      types.AskMeFirst,
		GrantedAt: r.now(),
	}
	elevated := plan.OriginalEnvelope
	elevated.AuthorityClaims = []types.AuthorityClaim{elevatedClaim}

	if len(plan.Decomposition.Tasks) == 1 {
		return r.routeSingleTask(ctx, elevated, plan.Decomposition.Tasks[0], elevatedClaim)
	}
	return r.routeParallelTasks(ctx, elevated, plan.Decomposition, elevatedClaim)
}
