// Package skills implements the Skill Pipeline Runner (C9): a persona names
// an ordered list of skill ids, the runner resolves each id through a
// Registry and its declared executor through an Executor lookup, then
// invokes the executor with a merged parameter set (the inbound envelope,
// accumulated pipeline results so far, and any caller-supplied params).
// Unknown skill or executor ids are logged and skipped rather than aborting
// the pipeline, matching the teacher's tolerant-degrade posture in
// optimizer.go's bid ranking, which drops a malformed bid instead of failing
// the whole auction.
package skills

import (
	"context"

	"github.com/dataparency-dev/cos-orchestrator/types"
	"go.uber.org/zap"
)

// Params is the merged input handed to an Executor: the inbound envelope,
// the accumulated output of every pipeline step run so far (keyed by skill
// id), and caller-supplied overrides.
type Params struct {
	Envelope types.Envelope
	Results  map[string]any
	Caller   map[string]any
}

// Executor runs one skill's logic and returns its result, to be merged into
// the next step's Params.Results under the skill's id.
type Executor interface {
	Execute(ctx context.Context, skill types.SkillDefinition, params Params) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, skill types.SkillDefinition, params Params) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, skill types.SkillDefinition, params Params) (any, error) {
	return f(ctx, skill, params)
}

// Registry looks up skill definitions by id and executors by the
// ExecutorType a skill declares.
type Registry struct {
	skills    map[string]types.SkillDefinition
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{
		skills:    make(map[string]types.SkillDefinition),
		executors: make(map[string]Executor),
	}
}

// RegisterSkill adds or replaces a skill definition.
func (r *Registry) RegisterSkill(def types.SkillDefinition) {
	r.skills[def.SkillID] = def
}

// RegisterExecutor binds executorType to an Executor implementation.
func (r *Registry) RegisterExecutor(executorType string, exec Executor) {
	r.executors[executorType] = exec
}

// Runner executes an ordered pipeline of skill ids against a Registry.
type Runner struct {
	registry *Registry
	log      *zap.Logger
}

// Option configures a Runner at construction time.
type Option func(*Runner)

// WithLogger attaches a structured logger; the default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) { r.log = log }
}

func NewRunner(registry *Registry, opts ...Option) *Runner {
	r := &Runner{registry: registry, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes pipeline in order, threading Params.Results forward so later
// steps see earlier steps' output. An unknown skill id or unregistered
// executor type is logged and skipped; it never aborts the remaining
// pipeline (§4.9 "tolerant pipeline execution").
func (r *Runner) Run(ctx context.Context, pipeline []string, env types.Envelope, callerParams map[string]any) map[string]any {
	results := make(map[string]any, len(pipeline))

	for _, skillID := range pipeline {
		def, ok := r.registry.skills[skillID]
		if !ok {
			r.log.Warn("skills: unknown skill id, skipping", zap.String("skill_id", skillID))
			continue
		}

		exec, ok := r.registry.executors[def.ExecutorType]
		if !ok {
			r.log.Warn("skills: no executor registered for type, skipping",
				zap.String("skill_id", skillID), zap.String("executor_type", def.ExecutorType))
			continue
		}

		params := Params{Envelope: env, Results: results, Caller: callerParams}
		out, err := exec.Execute(ctx, def, params)
		if err != nil {
			r.log.Warn("skills: executor failed, skipping result",
				zap.String("skill_id", skillID), zap.Error(err))
			continue
		}
		results[skillID] = out
	}

	return results
}
