package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ternlabs/tern/internal/agent/config"
	"github.com/ternlabs/tern/internal/agent/model"
	"github.com/ternlabs/tern/internal/agent/types"
)

// systemPreamble is the kernel's fixed system prompt: what the model is,
// the contract for each turn, and the ref-based interaction model the
// Snapshot subsystem hands it. Unlike the teacher's DefaultSystemPrompt it
// carries no product identity or persona text — this kernel has none.
const systemPreamble = `You control one browser page through a fixed set of tools. Every turn you
either call exactly one tool or give a final answer. Elements are addressed
by the "ref" value from the most recent snapshot (e.g. "e12") — never by
raw CSS selector or coordinates. When a tool result says an element ref is
stale or missing, request a fresh snapshot before acting again. Call
final_answer only when the goal is fully satisfied or you are certain it
cannot be.`

// BuildPrompt assembles the full prompt for one Complete call: the fixed
// system preamble, optional enriched memory context, the goal, and the
// compacted step history, in that order.
func BuildPrompt(goal types.Goal, steps []types.Step, enrichedContext string, cfg *config.AgentConfig) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")

	if enrichedContext != "" {
		b.WriteString("## Relevant memory\n")
		b.WriteString(enrichedContext)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "## Goal\n%s\n\n", goal.Text)

	b.WriteString("## History\n")
	b.WriteString(renderSteps(steps, cfg.KeepLastNStepsVerbatim))
	return b.String()
}

// toolSpecs lists every ToolName as a model.ToolSpec. Argument schemas are
// intentionally minimal — the kernel validates actual calls structurally
// via the ToolCall/ActionResult path, not against this schema.
func toolSpecs() []model.ToolSpec {
	return []model.ToolSpec{
		spec(types.ToolNavigate, "Navigate to a URL.", "url", "wait_until"),
		spec(types.ToolClick, "Click the element at ref.", "ref", "button", "count"),
		spec(types.ToolType, "Type text into the element at ref.", "ref", "text", "delay_ms"),
		spec(types.ToolHover, "Hover over the element at ref.", "ref"),
		spec(types.ToolScroll, "Scroll the page or an element at ref.", "ref", "dx", "dy"),
		spec(types.ToolPress, "Press a named key.", "key"),
		spec(types.ToolSnapshot, "Get a fresh accessibility snapshot of the page.", "scope", "exclude", "diff"),
		spec(types.ToolScreenshot, "Capture a screenshot of the viewport or an element.", "ref", "full_page"),
		spec(types.ToolEvaluate, "Run a JavaScript expression on the page.", "script"),
		spec(types.ToolExtractLinks, "Extract every link on the page.", ""),
		spec(types.ToolExtractForms, "Extract every form on the page.", "filter"),
		spec(types.ToolExtractInputs, "Extract every input field on the page.", ""),
		spec(types.ToolExtractTable, "Extract the page's primary data table.", ""),
		spec(types.ToolConsoleErrors, "List console error messages.", ""),
		spec(types.ToolNetworkErrors, "List failed network requests.", ""),
		spec(types.ToolConsoleDump, "Dump and clear all buffered console output.", ""),
		spec(types.ToolAttachSession, "Attach to an already-running browser session.", "port"),
		spec(types.ToolParseHTML, "Parse the current page's HTML without navigating.", ""),
		spec(types.ToolSolveCaptcha, "Solve a CAPTCHA challenge visible on the page.", "captcha_type"),
		spec(types.ToolFinalAnswer, "Deliver the final answer for the goal.", "answer"),
	}
}

func spec(name types.ToolName, desc string, args ...string) model.ToolSpec {
	props := map[string]any{}
	for _, a := range args {
		if a == "" {
			continue
		}
		props[a] = map[string]any{"type": "string"}
	}
	return model.ToolSpec{
		Name:        string(name),
		Description: desc,
		Schema:      map[string]any{"type": "object", "properties": props},
	}
}
