package router_test

import (
	"context"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/bus"
	"github.com/dataparency-dev/cos-orchestrator/delegation"
	"github.com/dataparency-dev/cos-orchestrator/pendingplan"
	"github.com/dataparency-dev/cos-orchestrator/refcode"
	"github.com/dataparency-dev/cos-orchestrator/registry"
	"github.com/dataparency-dev/cos-orchestrator/router"
	"github.com/dataparency-dev/cos-orchestrator/skills"
	"github.com/dataparency-dev/cos-orchestrator/types"
	"github.com/dataparency-dev/cos-orchestrator/workflow"
)

// harness wires a Router with fixed test collaborators and a fixed
// decomposition the triage skill always returns, so each test only needs
// to configure the decomposition and registered agents it cares about.
type harness struct {
	Bus       *bus.InMemory
	Registry  *registry.Registry
	Delegate  *delegation.Tracker
	Workflows *workflow.Tracker
	Pending   *pendingplan.Store
	Refcodes  *refcode.Service
	Clock     time.Time
	Router    *router.Router
}

func newHarness(persona types.Persona, decomp types.Decomposition) *harness {
	h := &harness{
		Bus:       bus.NewInMemory(),
		Registry:  registry.New(),
		Delegate:  delegation.New(),
		Workflows: workflow.New(),
		Pending:   pendingplan.New(),
		Clock:     time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC),
	}
	h.Refcodes = refcode.NewService(refcode.NewMemorySequenceStore(), refcode.WithClock(func() time.Time { return h.Clock }))

	reg := skills.NewRegistry()
	reg.RegisterSkill(types.SkillDefinition{SkillID: "triage", ExecutorType: "fixed"})
	reg.RegisterExecutor("fixed", skills.ExecutorFunc(func(context.Context, types.SkillDefinition, skills.Params) (any, error) {
		return decomp, nil
	}))
	runner := skills.NewRunner(reg)

	persona.Pipeline = []string{"triage"}
	h.Router = router.New(persona, h.Bus, h.Refcodes, h.Registry, h.Delegate, h.Workflows, h.Pending, runner,
		router.WithClock(func() time.Time { return h.Clock }))
	return h
}

func agent(id, capability string) types.AgentRegistration {
	return types.AgentRegistration{
		AgentID:      id,
		Name:         id,
		AgentType:    types.AgentTypeAI,
		Capabilities: []types.Capability{{Name: capability}},
		IsAvailable:  true,
		TrustScore:   0.8,
		MaxLoad:      1,
	}
}
