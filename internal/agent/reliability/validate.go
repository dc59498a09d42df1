package reliability

import (
	"context"
	"fmt"

	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/types"
)

// interactionTools are the tool names whose "ref" argument must pass
// pre-action validation before the fabric attempts the underlying driver
// call (spec.md §4.3.3).
var interactionTools = map[types.ToolName]bool{
	types.ToolClick: true,
	types.ToolType:  true,
	types.ToolHover: true,
}

// obstructionProbe is the shape the fabric expects back from the
// page-obstruction JS probe run through PageDriver.Evaluate. A concrete
// driver adapter is responsible for implementing the actual script; the
// core only consumes this contract.
type obstructionProbe struct {
	Obstructed bool
	Category   string // "cookie-banner" | "modal" | "chat-widget" | "notification-banner" | "age-gate"
	Signature  string // geometric/identity signature, stable across calls to the same element
}

// validationFailure is returned by validate when, after remediation, the
// element still cannot be interacted with. Its Kind/Reason populate the
// ActionResult the fabric returns.
type validationFailure struct {
	Kind   types.ErrorKind
	Reason string
}

func (f *validationFailure) Error() string { return f.Reason }

// validate runs the five pre-action checks of spec.md §4.3.3 against
// ref, auto-remediating what it can (scroll-into-view, obstruction
// dismissal) and returning a *validationFailure describing the first
// check that still fails after remediation.
func (fb *Fabric) validate(ctx context.Context, drv driver.PageDriver, ref string) *validationFailure {
	el, err := drv.ResolveRef(ctx, ref)
	if err != nil {
		kind := Classify(err)
		if kind == "" || kind == types.ErrUnknown {
			kind = types.ErrStaleElement
		}
		return &validationFailure{Kind: kind, Reason: fmt.Sprintf("ref %q does not resolve: %v", ref, err)}
	}

	if el.W <= 0 || el.H <= 0 || !el.Visible {
		return &validationFailure{Kind: types.ErrSelectorMissing, Reason: fmt.Sprintf("ref %q has no visible geometry", ref)}
	}

	if !fb.inViewport(el) {
		_ = drv.Scroll(ctx, ref, 0, 0)
		el, err = drv.ResolveRef(ctx, ref)
		if err != nil {
			return &validationFailure{Kind: types.ErrStaleElement, Reason: fmt.Sprintf("ref %q vanished after scroll: %v", ref, err)}
		}
		if !fb.inViewport(el) {
			return &validationFailure{Kind: types.ErrSelectorMissing, Reason: fmt.Sprintf("ref %q still outside viewport after scroll", ref)}
		}
	}

	if probe, ok := fb.probeObstruction(ctx, drv, el); ok && probe.Obstructed {
		if dismissed := fb.dismissObstruction(ctx, drv, probe); !dismissed {
			return &validationFailure{Kind: types.ErrObstruction, Reason: fmt.Sprintf("ref %q obstructed by %s", ref, probe.Category)}
		}
		// Revalidate after a successful dismissal.
		el, err = drv.ResolveRef(ctx, ref)
		if err != nil {
			return &validationFailure{Kind: types.ErrStaleElement, Reason: fmt.Sprintf("ref %q vanished after obstruction dismissal: %v", ref, err)}
		}
		if probe2, ok := fb.probeObstruction(ctx, drv, el); ok && probe2.Obstructed {
			return &validationFailure{Kind: types.ErrObstruction, Reason: fmt.Sprintf("ref %q still obstructed by %s after dismissal attempt", ref, probe2.Category)}
		}
	}

	if disabled, _ := el.Attrs["disabled"]; disabled == "true" {
		return &validationFailure{Kind: types.ErrSelectorMissing, Reason: fmt.Sprintf("ref %q is disabled", ref)}
	}
	if readonly := el.Attrs["readonly"]; readonly == "true" {
		return &validationFailure{Kind: types.ErrSelectorMissing, Reason: fmt.Sprintf("ref %q is read-only", ref)}
	}
	if pe := el.Attrs["pointer-events"]; pe == "none" {
		return &validationFailure{Kind: types.ErrObstruction, Reason: fmt.Sprintf("ref %q has pointer-events: none", ref)}
	}

	return nil
}

// inViewport treats any element with a positive bounding box that the
// driver reported as visible as in-viewport; drivers that can only see
// the currently rendered viewport already exclude off-screen nodes from
// Visible, so this check is deliberately conservative rather than
// re-deriving scroll-position math the core has no window size for.
func (fb *Fabric) inViewport(el types.Element) bool {
	return el.Visible && el.W > 0 && el.H > 0
}
