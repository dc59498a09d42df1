package orchestrator

import (
	"context"

	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/sitememory"
	"github.com/ternlabs/tern/internal/agent/types"
)

// resolverFor builds a sitememory.Resolver backed by drv's JS evaluation
// capability, following the same "__agentXxx" convention-based script
// handoff the reliability fabric uses for obstruction handling
// (internal/agent/reliability/obstruction.go) — PageDriver stays a thin,
// DOM-shape-agnostic interface and the concrete adapter supplies the
// actual querySelector/XPath resolution behind a fixed function name.
func resolverFor(ctx context.Context, drv driver.PageDriver) sitememory.Resolver {
	return func(c types.SelectorCandidate) (float64, float64, bool) {
		raw, err := drv.Evaluate(ctx, "__agentResolveSelector("+jsQuote(string(c.Kind))+","+jsQuote(c.Value)+")")
		if err != nil {
			return 0, 0, false
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return 0, 0, false
		}
		x, xok := m["x"].(float64)
		y, yok := m["y"].(float64)
		return x, y, xok && yok
	}
}

// actOnSelector performs action ("click", "hover", "type") against the
// element a SelectorCandidate resolves to, bypassing ref-based resolution
// entirely. This is the reuse path of spec.md §4.6: when a ref goes stale
// or missing but the model supplied a human description of the target
// element, a previously learned, validated selector can still carry out
// the action without a fresh vision call.
func actOnSelector(ctx context.Context, drv driver.PageDriver, c types.SelectorCandidate, action, text string) (bool, error) {
	raw, err := drv.Evaluate(ctx, "__agentActOnSelector("+jsQuote(string(c.Kind))+","+jsQuote(c.Value)+","+jsQuote(action)+","+jsQuote(text)+")")
	if err != nil {
		return false, err
	}
	ok, _ := raw.(bool)
	return ok, nil
}

func jsQuote(s string) string {
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

// actionForTool maps a ToolName onto the action string actOnSelector's JS
// convention expects.
func actionForTool(name types.ToolName) string {
	switch name {
	case types.ToolClick:
		return "click"
	case types.ToolHover:
		return "hover"
	case types.ToolType:
		return "type"
	default:
		return ""
	}
}
