// Package router implements the smart tool router: natural-language
// triggers that bypass the model for operations whose intent is
// unambiguous from the prompt, eliminating a round-trip on the fast path
// (spec.md §4.2).
package router

import (
	"regexp"
	"strings"

	"github.com/ternlabs/tern/internal/agent/types"
)

// PageState is the minimal page context a trigger predicate may consult —
// the Router never drives the page itself, it only decides whether a
// direct ToolCall is warranted.
type PageState struct {
	URL   string
	Title string
}

// trigger is one (predicate, constructor) pair. Predicates are evaluated
// in slice order; the first match wins (spec.md §4.2 tie-break rule).
type trigger struct {
	name      string
	predicate func(text string, page PageState) bool
	build     func(text string, page PageState) types.ToolCall
}

var debugPortPattern = regexp.MustCompile(`(?:port|:)\s*(\d{2,5})`)

// registry is the ordered trigger table. Structured-extraction triggers
// are listed before diagnostic ones, which precede session-reuse and
// fast-inspection triggers, matching spec.md §4.2's enumerated category
// order; within "structured extraction" more specific phrasings (forms,
// tables, contact detection) are checked before the generic "links" match
// so a prompt naming a specific kind of data is never shadowed by a
// broader keyword.
var registry = []trigger{
	{
		name: "contact_form",
		predicate: func(text string, _ PageState) bool {
			return strings.Contains(text, "contact form") || strings.Contains(text, "contact us form")
		},
		build: func(text string, _ PageState) types.ToolCall {
			return types.ToolCall{Name: types.ToolExtractForms, Args: map[string]any{"filter": "contact"}, Origin: types.OriginTrigger}
		},
	},
	{
		name: "extract_table",
		predicate: func(text string, _ PageState) bool {
			return containsAny(text, "extract the table", "extract table", "extract all tables", "scrape the table", "table data")
		},
		build: func(text string, _ PageState) types.ToolCall {
			return types.ToolCall{Name: types.ToolExtractTable, Origin: types.OriginTrigger}
		},
	},
	{
		name: "extract_forms",
		predicate: func(text string, _ PageState) bool {
			return containsAny(text, "extract all forms", "list the forms", "form inventory", "extract forms")
		},
		build: func(text string, _ PageState) types.ToolCall {
			return types.ToolCall{Name: types.ToolExtractForms, Origin: types.OriginTrigger}
		},
	},
	{
		name: "extract_inputs",
		predicate: func(text string, _ PageState) bool {
			return containsAny(text, "extract all inputs", "list the inputs", "input inventory", "extract the input fields")
		},
		build: func(text string, _ PageState) types.ToolCall {
			return types.ToolCall{Name: types.ToolExtractInputs, Origin: types.OriginTrigger}
		},
	},
	{
		name: "extract_links",
		predicate: func(text string, _ PageState) bool {
			return containsAny(text, "extract all links", "extract the links", "list all links", "list the links", "get all links")
		},
		build: func(text string, _ PageState) types.ToolCall {
			return types.ToolCall{Name: types.ToolExtractLinks, Origin: types.OriginTrigger}
		},
	},
	{
		name: "console_errors",
		predicate: func(text string, _ PageState) bool {
			return containsAny(text, "console errors", "javascript errors", "js errors")
		},
		build: func(text string, _ PageState) types.ToolCall {
			return types.ToolCall{Name: types.ToolConsoleErrors, Origin: types.OriginTrigger}
		},
	},
	{
		name: "network_errors",
		predicate: func(text string, _ PageState) bool {
			return containsAny(text, "failed network requests", "network errors", "failed requests")
		},
		build: func(text string, _ PageState) types.ToolCall {
			return types.ToolCall{Name: types.ToolNetworkErrors, Origin: types.OriginTrigger}
		},
	},
	{
		name: "console_dump",
		predicate: func(text string, _ PageState) bool {
			return containsAny(text, "console log", "dump the console", "console output")
		},
		build: func(text string, _ PageState) types.ToolCall {
			return types.ToolCall{Name: types.ToolConsoleDump, Origin: types.OriginTrigger}
		},
	},
	{
		name: "attach_session",
		predicate: func(text string, _ PageState) bool {
			return containsAny(text, "attach to the running browser", "attach to browser", "connect to debug port", "use the existing browser session")
		},
		build: func(text string, _ PageState) types.ToolCall {
			args := map[string]any{}
			if m := debugPortPattern.FindStringSubmatch(text); len(m) == 2 {
				args["port"] = m[1]
			}
			return types.ToolCall{Name: types.ToolAttachSession, Args: args, Origin: types.OriginTrigger}
		},
	},
	{
		name: "parse_html",
		predicate: func(text string, _ PageState) bool {
			return containsAny(text, "parse the current page", "parse the dom", "inspect the html", "parse current html", "without navigating")
		},
		build: func(text string, _ PageState) types.ToolCall {
			return types.ToolCall{Name: types.ToolParseHTML, Origin: types.OriginTrigger}
		},
	},
}

func containsAny(text string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// Route checks text against every registered trigger in order and
// returns the first match's ToolCall, or (types.ToolCall{}, false) if
// nothing matches — the Orchestrator then falls through to the model.
// Route never panics: a predicate or constructor panic is recovered and
// converted to "no match" so the model path remains the safety net
// (spec.md §4.2's fallback contract).
func Route(text string, page PageState) (call types.ToolCall, matched bool) {
	defer func() {
		if r := recover(); r != nil {
			call, matched = types.ToolCall{}, false
		}
	}()

	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return types.ToolCall{}, false
	}

	for _, trig := range registry {
		if trig.predicate(lower, page) {
			return trig.build(lower, page), true
		}
	}
	return types.ToolCall{}, false
}
