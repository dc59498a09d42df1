// Package orchestrator runs the ReAct loop: observe the page, ask the
// model (or the Router) for the next action, execute it through the
// Reliability fabric, and repeat until a final answer, a fatal run of
// consecutive failures, the iteration budget, or the goal's deadline ends
// the run (spec.md §4.1).
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ternlabs/tern/internal/agent/captcha"
	"github.com/ternlabs/tern/internal/agent/config"
	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/model"
	"github.com/ternlabs/tern/internal/agent/reliability"
	"github.com/ternlabs/tern/internal/agent/sitememory"
	"github.com/ternlabs/tern/internal/agent/snapshot"
	"github.com/ternlabs/tern/internal/agent/types"
	"github.com/ternlabs/tern/internal/agent/valence"
)

// MemoryProvider is the orchestrator's only dependency on the memory
// subsystem — kept as a narrow interface (not a concrete package import)
// so the kernel loop compiles and is testable before the full tiered
// memory manager exists, and so a goal run never hard-requires memory.
type MemoryProvider interface {
	EnrichedContext(ctx context.Context, query string) (string, error)
	SaveEpisode(ctx context.Context, ep types.Episode) error
	// AddStep records one completed step into working memory; it must
	// return before the next model call begins.
	AddStep(step types.Step) error
	// CompactWorking drops everything but the most recent keep steps
	// from working memory once the loop's soft-trim threshold trips.
	CompactWorking(keep int)
}

// Logf is a minimal logging hook; nil disables logging entirely.
type Logf func(format string, args ...any)

// Config bundles everything one Orchestrator needs. Driver and Model are
// required; everything else is an optional capability left nil when
// unused — the loop degrades gracefully rather than requiring a stub.
type Config struct {
	AgentConfig *config.AgentConfig
	Driver      driver.PageDriver
	Model       model.ModelClient
	Fabric      *reliability.Fabric
	Cache       *snapshot.Cache
	SiteMemory  *sitememory.Store
	Captcha     *captcha.Engine
	Valence     *valence.Bus
	Memory      MemoryProvider
	Log         Logf

	// AttachSession connects to an externally running browser on a
	// remote-debugging port and returns a page inside it. nil disables
	// the attach_session tool.
	AttachSession func(ctx context.Context, port int) (driver.PageDriver, error)
}

// Orchestrator runs one Config against any number of Goals.
type Orchestrator struct {
	cfg Config
}

// New builds an Orchestrator. Fabric and Cache are constructed from
// AgentConfig if not supplied.
func New(cfg Config) *Orchestrator {
	if cfg.Fabric == nil {
		cfg.Fabric = reliability.New(cfg.AgentConfig)
	}
	if cfg.Cache == nil {
		cfg.Cache = snapshot.NewCache(cfg.AgentConfig.SnapshotCacheTTL, 0)
	}
	return &Orchestrator{cfg: cfg}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.cfg.Log != nil {
		o.cfg.Log(format, args...)
	}
}

// recordStep mirrors a completed step into working memory. A write
// failure only costs crash recovery, so it is logged and the run goes on.
func (o *Orchestrator) recordStep(step types.Step) {
	if o.cfg.Memory == nil {
		return
	}
	if err := o.cfg.Memory.AddStep(step); err != nil {
		o.logf("[orchestrator] record step %d: %v", step.Index, err)
	}
}

// Run drives goal through the ReAct loop to completion.
func (o *Orchestrator) Run(ctx context.Context, goal types.Goal) (answer string, episode types.Episode, err error) {
	start := time.Now()
	deadline := goal.Deadline
	if deadline.IsZero() {
		deadline = start.Add(o.cfg.AgentConfig.GoalTimeout)
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	o.cfg.Fabric.ResetPage()

	var steps []types.Step
	consecutiveFailures := 0
	// Every explicit termination path assigns its own outcome before
	// breaking; running the full iteration range without one is budget
	// exhaustion, which spec.md §8 requires to terminate as timeout.
	outcome := types.OutcomeTimeout
	var failureKind types.ErrorKind
	routedAlready := false

loop:
	for iteration := 1; iteration <= o.cfg.AgentConfig.MaxIterations; iteration++ {
		select {
		case <-ctx.Done():
			outcome = outcomeForCtxErr(ctx.Err())
			break loop
		default:
		}

		step := types.Step{Index: iteration, StartedAt: time.Now()}

		call, viaRouter := o.nextCall(ctx, goal, steps, &routedAlready)
		step.Thought = call.thought

		if call.final {
			step.Success = true
			step.Tool = &types.ToolCall{Name: types.ToolFinalAnswer, Args: map[string]any{"answer": call.answer}, Origin: types.OriginModel}
			steps = append(steps, step)
			o.recordStep(step)
			answer = call.answer
			outcome = types.OutcomeSuccess
			break loop
		}

		if call.modelErr != nil {
			step.Success = false
			step.ErrorKind = types.ErrUnknown
			step.Result = &types.ActionResult{Reason: call.modelErr.Error()}
			steps = append(steps, step)
			o.recordStep(step)
			consecutiveFailures++
			failureKind = types.ErrUnknown
			if consecutiveFailures >= o.cfg.AgentConfig.MaxConsecutiveFailures {
				outcome = types.OutcomeFailed
				break loop
			}
			continue
		}

		origin := types.OriginModel
		if viaRouter {
			origin = types.OriginTrigger
		}
		tc := types.ToolCall{Name: call.name, Args: call.args, Origin: origin}
		step.Tool = &tc

		result := o.executeTool(ctx, tc)
		step.Result = &result
		step.Success = result.Success
		step.ErrorKind = result.ErrorKind
		step.Duration = time.Since(step.StartedAt)
		steps = append(steps, step)
		o.recordStep(step)

		o.emitValence(result)

		if result.Success {
			consecutiveFailures = 0
		} else {
			consecutiveFailures++
			failureKind = result.ErrorKind
			o.logf("[orchestrator] step %d failed: %s: %s", iteration, result.ErrorKind, result.Reason)
			if consecutiveFailures >= o.cfg.AgentConfig.MaxConsecutiveFailures {
				outcome = types.OutcomeFailed
				break loop
			}
		}

		if shouldCompact(renderSteps(steps, o.cfg.AgentConfig.KeepLastNStepsVerbatim), o.cfg.AgentConfig.ContextCap, o.cfg.AgentConfig.CompactThreshold) {
			o.logf("[orchestrator] compacting history at step %d", iteration)
			if o.cfg.Memory != nil {
				o.cfg.Memory.CompactWorking(o.cfg.AgentConfig.KeepLastNStepsVerbatim)
			}
		}
	}

	episode = buildEpisode(goal, steps, outcome, failureKind, time.Since(start))
	if o.cfg.Memory != nil {
		if saveErr := o.cfg.Memory.SaveEpisode(ctx, episode); saveErr != nil {
			o.logf("[orchestrator] save episode failed: %v", saveErr)
		}
	}

	if outcome != types.OutcomeSuccess {
		err = fmt.Errorf("orchestrator: goal ended in %s", outcome)
	}
	return answer, episode, err
}

func outcomeForCtxErr(err error) types.EpisodeOutcome {
	if err == context.DeadlineExceeded {
		return types.OutcomeTimeout
	}
	return types.OutcomeCancelled
}

// emitValence folds one tool outcome into the optional mood bus. A nil
// Valence bus makes this a no-op, matching spec.md §9's "off by default,
// never required for correctness."
func (o *Orchestrator) emitValence(result types.ActionResult) {
	if o.cfg.Valence == nil {
		return
	}
	switch {
	case result.ErrorKind == types.ErrCircuitOpen:
		o.cfg.Valence.Emit(valence.EventCircuitOpened, result)
	case result.ErrorKind == types.ErrObstruction:
		o.cfg.Valence.Emit(valence.EventObstructionFound, result)
	case result.ErrorKind == types.ErrCaptcha:
		o.cfg.Valence.Emit(valence.EventCaptchaEscalated, result)
	case result.Success:
		o.cfg.Valence.Emit(valence.EventActionSucceeded, result)
	default:
		o.cfg.Valence.Emit(valence.EventActionFailed, result)
	}
}

func buildEpisode(goal types.Goal, steps []types.Step, outcome types.EpisodeOutcome, failureKind types.ErrorKind, duration time.Duration) types.Episode {
	lines := make([]string, 0, len(steps))
	calls := make([]types.ToolCall, 0, len(steps))
	tagSet := map[string]bool{}
	for _, s := range steps {
		lines = append(lines, s.OneLine())
		if s.Tool != nil {
			calls = append(calls, *s.Tool)
			tagSet[string(s.Tool.Name)] = true
		}
	}
	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	summary := joinLines(lines)
	return types.Episode{
		GoalText:     goal.Text,
		StepsSummary: summary,
		Steps:        calls,
		Outcome:      outcome,
		Success:      outcome == types.OutcomeSuccess,
		FailureKind:  failureKind,
		Duration:     duration,
		Tags:         tags,
		CreatedAt:    time.Now(),
	}
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
