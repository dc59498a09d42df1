package orchestrator

import (
	"context"
	"time"

	"github.com/ternlabs/tern/internal/agent/reliability"
	"github.com/ternlabs/tern/internal/agent/router"
	"github.com/ternlabs/tern/internal/agent/types"
)

// defaultCompleteTimeout bounds one model.Complete call. nextCall retries a
// failed call whose error classifies as rate-limit, server-5xx, or
// transient-timeout under the Reliability fabric's retry policy for that
// kind; driver-level tools are retried inside the fabric itself.
const defaultCompleteTimeout = 30 * time.Second

// decision is the orchestrator's internal representation of "what to do
// this iteration," unifying the Router's direct match and the model's
// Completion into one shape the main loop switches on once.
type decision struct {
	thought  string
	name     types.ToolName
	args     map[string]any
	final    bool
	answer   string
	modelErr error
}

// nextCall tries the Router first (iteration 1 only — a trigger match
// reflects the goal's own phrasing, which does not change turn to turn)
// and falls back to the model otherwise. routedAlready is updated in
// place so the router is consulted at most once per goal.
func (o *Orchestrator) nextCall(ctx context.Context, goal types.Goal, steps []types.Step, routedAlready *bool) (decision, bool) {
	if len(steps) == 0 && !*routedAlready {
		*routedAlready = true
		page := o.currentPageState(ctx)
		if call, matched := router.Route(goal.Text, page); matched {
			return decision{name: call.Name, args: call.Args}, true
		}
	}

	enriched := o.enrichedContext(ctx, goal.Text)
	prompt := BuildPrompt(goal, steps, enriched, o.cfg.AgentConfig)
	completion, err := o.cfg.Model.Complete(ctx, prompt, toolSpecs(), o.completeTimeout())
	for attempt := 1; err != nil && ctx.Err() == nil; attempt++ {
		kind := reliability.Classify(err)
		policy := o.cfg.AgentConfig.RetryPolicy[kind]
		if (kind != types.ErrRateLimit && kind != types.ErrServer5xx && kind != types.ErrTransientTimeout) || !reliability.Retryable(policy, attempt) {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(reliability.BackoffDelay(policy, attempt-1)):
			completion, err = o.cfg.Model.Complete(ctx, prompt, toolSpecs(), o.completeTimeout())
		}
	}
	if err != nil {
		return decision{modelErr: err}, false
	}
	if completion.FinalAnswer != "" {
		return decision{thought: completion.Thought, final: true, answer: completion.FinalAnswer}, false
	}
	return decision{
		thought: completion.Thought,
		name:    types.ToolName(completion.ToolName),
		args:    completion.ToolArgs,
	}, false
}

func (o *Orchestrator) currentPageState(ctx context.Context) router.PageState {
	var ps router.PageState
	if o.cfg.Driver == nil {
		return ps
	}
	if url, err := o.cfg.Driver.CurrentURL(ctx); err == nil {
		ps.URL = url
	}
	if title, err := o.cfg.Driver.Title(ctx); err == nil {
		ps.Title = title
	}
	return ps
}

func (o *Orchestrator) enrichedContext(ctx context.Context, query string) string {
	if o.cfg.Memory == nil {
		return ""
	}
	text, err := o.cfg.Memory.EnrichedContext(ctx, query)
	if err != nil {
		o.logf("[orchestrator] enriched context lookup failed: %v", err)
		return ""
	}
	return text
}

func (o *Orchestrator) completeTimeout() time.Duration {
	return defaultCompleteTimeout
}
