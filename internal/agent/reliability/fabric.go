package reliability

import (
	"context"
	"sync"
	"time"

	"github.com/ternlabs/tern/internal/agent/config"
	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/types"
)

// Clock abstracts time so tests can control backoff sleeps without
// actually waiting; production code uses realClock.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time     { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Fabric is the Reliability fabric of spec.md §4.3: one Execute entry
// point that applies pre-action validation, typed retry with backoff, the
// per-domain circuit breaker, and obstruction handling to every ToolCall.
type Fabric struct {
	cfg     *config.AgentConfig
	breaker *CircuitBreaker
	clock   Clock

	mu                    sync.Mutex
	dismissedObstructions map[string]bool
}

// New builds a Fabric wired to cfg's retry policy and circuit-breaker
// tuning.
func New(cfg *config.AgentConfig) *Fabric {
	return &Fabric{
		cfg:                   cfg,
		breaker:               NewCircuitBreaker(cfg.CircuitFailureThreshold, cfg.CircuitCoolOff),
		clock:                 realClock{},
		dismissedObstructions: make(map[string]bool),
	}
}

// Breaker exposes the circuit breaker for diagnostics/testing.
func (fb *Fabric) Breaker() *CircuitBreaker { return fb.breaker }

// domainFor extracts the comparison key the breaker tracks from a
// ToolCall: the "url" arg when present (navigate), otherwise the page's
// current URL.
func domainFor(ctx context.Context, drv driver.PageDriver, call types.ToolCall) string {
	if u, ok := call.Args["url"].(string); ok && u != "" {
		return DomainOf(u)
	}
	if cur, err := drv.CurrentURL(ctx); err == nil {
		return DomainOf(cur)
	}
	return ""
}

// Execute runs call through the §4.3.5 state machine: circuit check,
// pre-action validation (for interaction tools), attempt with typed retry,
// and bookkeeping into the circuit breaker.
func (fb *Fabric) Execute(ctx context.Context, drv driver.PageDriver, call types.ToolCall) types.ActionResult {
	start := fb.clock.Now()
	domain := domainFor(ctx, drv, call)

	if domain != "" && !fb.breaker.Allow(domain) {
		return types.ActionResult{
			Success:   false,
			ErrorKind: types.ErrCircuitOpen,
			Reason:    "circuit open for domain " + domain,
			Latency:   fb.clock.Now().Sub(start),
		}
	}

	if ref, ok := call.Args["ref"].(string); ok && interactionTools[call.Name] {
		if vf := fb.validate(ctx, drv, ref); vf != nil {
			if domain != "" {
				fb.breaker.RecordFailure(domain)
			}
			return types.ActionResult{
				Success:   false,
				ErrorKind: vf.Kind,
				Reason:    vf.Reason,
				Latency:   fb.clock.Now().Sub(start),
			}
		}
	}

	result := fb.attempt(ctx, drv, call, domain)
	result.Latency = fb.clock.Now().Sub(start)
	return result
}

// attempt runs the ATTEMPT/CLASSIFY_ERROR/BACKOFF loop of §4.3.5 until
// success, a non-retryable error, or the policy's max attempts.
func (fb *Fabric) attempt(ctx context.Context, drv driver.PageDriver, call types.ToolCall, domain string) types.ActionResult {
	var lastErr error
	var lastKind types.ErrorKind
	attempts := 0

	for {
		attempts++
		data, err := dispatch(ctx, drv, call)
		if err == nil {
			if domain != "" {
				fb.breaker.RecordSuccess(domain)
			}
			return types.ActionResult{Success: true, Data: data, Attempts: attempts}
		}

		lastErr = err
		lastKind = Classify(err)

		if lastKind == types.ErrSelectorMissing || lastKind == types.ErrStaleElement {
			// Re-snapshot is the caller's (Orchestrator's) job; the
			// fabric just surfaces the kind so the next model turn can
			// request a fresh snapshot before retrying the action.
		}

		policy := fb.cfg.RetryPolicy[lastKind]
		if !Retryable(policy, attempts) {
			if domain != "" {
				fb.breaker.RecordFailure(domain)
			}
			return types.ActionResult{
				Success:   false,
				Error:     lastErr,
				ErrorKind: lastKind,
				Attempts:  attempts,
				Reason:    lastErr.Error(),
			}
		}

		delay := BackoffDelay(policy, attempts-1)
		if delay > 0 {
			fb.clock.Sleep(delay)
		}
	}
}
