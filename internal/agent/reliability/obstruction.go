package reliability

import (
	"context"
	"fmt"

	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/types"
)

// obstructionPriority ranks the obstruction categories: cookie banners
// and age gates first, then modals, chat widgets, and fixed headers.
// Nothing reads this table: the probe reports one obstruction per check,
// and validate dismisses that one without ranking it against others.
var obstructionPriority = map[string]int{
	"cookie-banner": 1,
	"modal":         2,
	"chat-widget":   3,
	"fixed-header":  4,
	"age-gate":      1,
}

// dismissStrategy is one way to clear an obstruction; strategies are
// tried in order until one reports success.
type dismissStrategy func(ctx context.Context, drv driver.PageDriver, category string) bool

// dismissCatalog mirrors spec.md §4.3.4: click a known close/accept
// control, press escape, click a safe backdrop coordinate. Each strategy
// is implemented by delegating to the driver's Evaluate/Press
// capabilities — the fabric never assumes a specific DOM shape beyond the
// category label the obstruction probe already classified.
var dismissCatalog = []dismissStrategy{
	clickKnownControl,
	pressEscape,
	clickSafeBackdrop,
}

func clickKnownControl(ctx context.Context, drv driver.PageDriver, category string) bool {
	result, err := drv.Evaluate(ctx, obstructionDismissScript(category))
	if err != nil {
		return false
	}
	ok, _ := result.(bool)
	return ok
}

func pressEscape(ctx context.Context, drv driver.PageDriver, _ string) bool {
	return drv.Press(ctx, "Escape") == nil
}

func clickSafeBackdrop(ctx context.Context, drv driver.PageDriver, _ string) bool {
	result, err := drv.Evaluate(ctx, backdropClickScript)
	if err != nil {
		return false
	}
	ok, _ := result.(bool)
	return ok
}

// obstructionDismissScript returns the JS snippet a concrete PageDriver
// evaluates to try a category-appropriate close/accept control. The core
// does not execute JS itself; this is the contract the driver adapter
// fulfils, parameterized per obstruction category so the same generic
// probe/dismiss pair works across cookie banners, modals, chat widgets,
// and age gates.
func obstructionDismissScript(category string) string {
	return "__agentDismissObstruction(" + quoteJS(category) + ")"
}

const backdropClickScript = "__agentClickSafeBackdrop()"

func quoteJS(s string) string {
	b := make([]byte, 0, len(s)+2)
	b = append(b, '"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b = append(b, '\\')
		}
		b = append(b, byte(r))
	}
	b = append(b, '"')
	return string(b)
}

// probeObstruction asks the page whether el's geometric center is
// covered by a node from the obstruction catalog. Ref-to-element
// resolution is driver-native, so the probe script receives viewport
// coordinates rather than a ref. A probe failure (e.g. the page blocked
// script evaluation) is treated as "no obstruction detected" rather than
// an error — obstruction handling is a best-effort remediation layer,
// not a correctness requirement of the click itself.
func (fb *Fabric) probeObstruction(ctx context.Context, drv driver.PageDriver, el types.Element) (obstructionProbe, bool) {
	raw, err := drv.Evaluate(ctx, fmt.Sprintf("__agentProbeObstructionAt(%.0f, %.0f)", el.X+el.W/2, el.Y+el.H/2))
	if err != nil {
		return obstructionProbe{}, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return obstructionProbe{}, false
	}
	obstructed, _ := m["obstructed"].(bool)
	category, _ := m["category"].(string)
	signature, _ := m["signature"].(string)
	return obstructionProbe{Obstructed: obstructed, Category: category, Signature: signature}, true
}

// dismissObstruction tries the dismiss catalog in order, skipping a
// category+signature pair already dismissed once within this page's
// lifetime (spec.md §4.3.4: "track already-dismissed obstructions by
// identity to prevent repeated attempts"). Dismissal never panics or
// propagates an error: failure just means validate() reports the
// obstruction kind back to the caller.
func (fb *Fabric) dismissObstruction(ctx context.Context, drv driver.PageDriver, probe obstructionProbe) bool {
	identity := probe.Category + "|" + probe.Signature

	fb.mu.Lock()
	alreadyTried := fb.dismissedObstructions[identity]
	fb.mu.Unlock()
	if alreadyTried {
		return false
	}

	success := false
	for _, strategy := range dismissCatalog {
		if strategy(ctx, drv, probe.Category) {
			success = true
			break
		}
	}

	fb.mu.Lock()
	fb.dismissedObstructions[identity] = true
	fb.mu.Unlock()

	return success
}

// ResetPage clears the per-page obstruction-dismissal memory. Call this
// whenever the fabric is about to act on a freshly navigated page, since
// "already dismissed" is scoped to one page's lifetime (spec.md §4.3.4).
func (fb *Fabric) ResetPage() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.dismissedObstructions = make(map[string]bool)
}
