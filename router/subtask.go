package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/dataparency-dev/cos-orchestrator/types"
)

func (r *Router) handleSubtaskResult(ctx context.Context, env types.Envelope, wf types.WorkflowRecord) error {
	r.workflows.StoreSubtaskResult(wf.ReferenceCode, env.ReferenceCode, env)

	if !r.workflows.AllSubtasksComplete(wf.ReferenceCode) {
		return nil
	}

	r.workflows.UpdateStatus(wf.ReferenceCode, types.WorkflowCompleted, r.now())

	results := r.workflows.GetCompletedResults(wf.ReferenceCode)
	var lines []string
	for _, ref := range wf.SubtaskReferenceCodes {
		result, ok := results[ref.String()]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", ref, summarize(result.Payload)))
	}

	aggregate := types.TextMessage{
		PayloadBase: types.PayloadBase{MessageID: types.NewMessageID(), Timestamp: r.now()},
		Text:        strings.Join(lines, "\n"),
	}

	out := types.Envelope{
		Payload:       aggregate,
		ReferenceCode: wf.ReferenceCode,
		Context: types.Context{
			OriginalGoal: wf.OriginalEnvelope.Context.OriginalGoal,
			FromAgentID:  r.persona.AgentID,
		},
	}
	return r.bus.Publish(ctx, out, wf.OriginalEnvelope.Context.ReplyTo)
}

func summarize(p types.Payload) string {
	if tm, ok := p.(types.TextMessage); ok {
		return tm.Text
	}
	return string(p.Kind())
}
