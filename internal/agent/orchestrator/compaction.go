package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ternlabs/tern/internal/agent/types"
)

// renderSteps turns steps into the prompt-ready history section: the last
// keepLastN steps in full detail, everything older collapsed to one line
// each. This mirrors the teacher's two-stage compaction (soft-trim then
// hard-clear) generalized from chat turns to ReAct steps: old steps are
// never dropped entirely, only summarized, and at most one screenshot
// (the most recent) is ever carried verbatim.
func renderSteps(steps []types.Step, keepLastN int) string {
	if len(steps) == 0 {
		return "(no steps taken yet)"
	}
	if keepLastN < 0 {
		keepLastN = 0
	}

	splitAt := len(steps) - keepLastN
	if splitAt < 0 {
		splitAt = 0
	}

	var b strings.Builder
	for _, s := range steps[:splitAt] {
		b.WriteString(s.OneLine())
		b.WriteString("\n")
	}

	lastScreenshotIdx := lastScreenshotStepIndex(steps)
	for i := splitAt; i < len(steps); i++ {
		renderStepDetail(&b, steps[i], steps[i].Index == lastScreenshotIdx)
	}
	return strings.TrimRight(b.String(), "\n")
}

func lastScreenshotStepIndex(steps []types.Step) int {
	idx := -1
	for _, s := range steps {
		if s.Tool != nil && s.Tool.Name == types.ToolScreenshot && s.Success {
			idx = s.Index
		}
	}
	return idx
}

func renderStepDetail(b *strings.Builder, s types.Step, keepScreenshot bool) {
	fmt.Fprintf(b, "--- Step %d ---\n", s.Index)
	if s.Thought != "" {
		fmt.Fprintf(b, "Thought: %s\n", s.Thought)
	}
	if s.Tool != nil {
		fmt.Fprintf(b, "Action: %s %v\n", s.Tool.Name, s.Tool.Args)
	}
	if s.Result == nil {
		b.WriteString("Result: (pending)\n")
		return
	}
	if !s.Success {
		fmt.Fprintf(b, "Result: FAILED (%s) %s\n", s.ErrorKind, s.Result.Reason)
		return
	}
	if _, isImage := s.Result.Data.([]byte); isImage && !keepScreenshot {
		b.WriteString("Result: OK [earlier screenshot omitted after compaction]\n")
		return
	}
	fmt.Fprintf(b, "Result: OK %s\n", summarizeData(s.Result.Data))
}

// summarizeData renders a tool result for the prompt without dumping
// arbitrarily large payloads; screenshots are represented by size alone.
func summarizeData(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case []byte:
		return fmt.Sprintf("[%d bytes of image data]", len(v))
	case string:
		if len(v) > 2000 {
			return v[:2000] + "...(truncated)"
		}
		return v
	default:
		s := fmt.Sprintf("%v", v)
		if len(s) > 2000 {
			s = s[:2000] + "...(truncated)"
		}
		return s
	}
}

// shouldCompact reports whether the rendered history has grown past the
// configured soft-trim threshold (spec.md's proactive, pre-limit
// compaction trigger rather than a reactive one).
func shouldCompact(rendered string, contextCap int, threshold float64) bool {
	if contextCap <= 0 {
		return false
	}
	return float64(len(rendered)) > float64(contextCap)*threshold
}
