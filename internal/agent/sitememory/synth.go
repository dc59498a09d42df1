package sitememory

import (
	"fmt"
	"strings"

	"github.com/ternlabs/tern/internal/agent/types"
)

// VisionElement is what the CAPTCHA-free vision path hands to synthesis:
// the coordinates and attributes of an element a vision call just
// identified, which Synthesize turns into a ranked set of
// SelectorCandidates.
type VisionElement struct {
	CenterX, CenterY float64
	Attrs            map[string]string // id, aria-label, data-testid, name, tag, class, text
	Tag              string
}

// candidateTolerancePx is the bounding-box-center tolerance used to mark a
// candidate "validated" against the vision-supplied coordinates (spec.md
// §4.6 "within ±50 px tolerance").
const candidateTolerancePx = 50.0

// Resolver validates a candidate selector on the live page, returning the
// resolved element's center, or ok=false if nothing matched.
type Resolver func(candidate types.SelectorCandidate) (centerX, centerY float64, ok bool)

// Synthesize produces the priority-ordered SelectorCandidate list for el,
// per the table in spec.md §4.6, filtering out unstable id/class values.
func Synthesize(el VisionElement) []types.SelectorCandidate {
	var candidates []types.SelectorCandidate

	if id := el.Attrs["id"]; id != "" && IsStable(id) {
		candidates = append(candidates, types.SelectorCandidate{Kind: types.SelectorID, Value: "#" + id, Priority: 100})
	}
	if label := el.Attrs["aria-label"]; label != "" {
		candidates = append(candidates, types.SelectorCandidate{Kind: types.SelectorAriaLabel, Value: fmt.Sprintf(`[aria-label=%q]`, label), Priority: 90})
	}
	if tid := el.Attrs["data-testid"]; tid != "" {
		candidates = append(candidates, types.SelectorCandidate{Kind: types.SelectorTestID, Value: fmt.Sprintf(`[data-testid=%q]`, tid), Priority: 85})
	}
	if name := el.Attrs["name"]; name != "" && isFormTag(el.Tag) {
		candidates = append(candidates, types.SelectorCandidate{Kind: types.SelectorName, Value: fmt.Sprintf(`%s[name=%q]`, el.Tag, name), Priority: 80})
	}
	if cls := stableClass(el.Attrs["class"]); cls != "" {
		candidates = append(candidates, types.SelectorCandidate{Kind: types.SelectorStableClass, Value: fmt.Sprintf("%s.%s", el.Tag, cls), Priority: 70})
	}
	if text := shortUniqueText(el.Attrs["text"]); text != "" {
		candidates = append(candidates, types.SelectorCandidate{Kind: types.SelectorExactText, Value: fmt.Sprintf(`//%s[text()=%q]`, orAny(el.Tag), text), Priority: 60})
	}
	if attr, val := stableStructuralAttr(el.Attrs); attr != "" {
		candidates = append(candidates, types.SelectorCandidate{Kind: types.SelectorStableAttr, Value: fmt.Sprintf(`%s[%s=%q]`, el.Tag, attr, val), Priority: 50})
	}
	if cls := stableClass(el.Attrs["class"]); cls != "" {
		candidates = append(candidates, types.SelectorCandidate{Kind: types.SelectorSingleClass, Value: "." + cls, Priority: 40})
	}
	if text := el.Attrs["text"]; text != "" {
		candidates = append(candidates, types.SelectorCandidate{Kind: types.SelectorContainsText, Value: fmt.Sprintf(`//%s[contains(text(),%q)]`, orAny(el.Tag), text), Priority: 30})
	}

	return candidates
}

// Validate tries every candidate against the live page via resolve,
// marking it Validated when its resolved center falls within
// candidateTolerancePx of el's vision-supplied center, and dropping
// candidates that don't resolve at all. Returns the surviving candidates
// in priority order (highest first) and the overall memory confidence:
// 1.0 if at least one candidate validated, 0.7 otherwise (spec.md §4.6
// "validation before save").
func Validate(el VisionElement, candidates []types.SelectorCandidate, resolve Resolver) ([]types.SelectorCandidate, float64) {
	var survivors []types.SelectorCandidate
	anyValidated := false
	for _, c := range candidates {
		cx, cy, ok := resolve(c)
		if !ok {
			continue
		}
		if withinTolerance(cx, cy, el.CenterX, el.CenterY) {
			c.Validated = true
			anyValidated = true
		}
		survivors = append(survivors, c)
	}
	confidence := 0.7
	if anyValidated {
		confidence = 1.0
	}
	return survivors, confidence
}

func withinTolerance(x1, y1, x2, y2 float64) bool {
	dx, dy := x1-x2, y1-y2
	return dx*dx+dy*dy <= candidateTolerancePx*candidateTolerancePx
}

func isFormTag(tag string) bool {
	switch strings.ToLower(tag) {
	case "input", "select", "textarea", "button":
		return true
	default:
		return false
	}
}

func stableClass(classAttr string) string {
	for _, cls := range strings.Fields(classAttr) {
		if IsStable(cls) {
			return cls
		}
	}
	return ""
}

func stableStructuralAttr(attrs map[string]string) (string, string) {
	for _, attr := range []string{"role", "type", "placeholder", "href"} {
		if v := attrs[attr]; v != "" {
			return attr, v
		}
	}
	return "", ""
}

func shortUniqueText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > 40 {
		return ""
	}
	return text
}

func orAny(tag string) string {
	if tag == "" {
		return "*"
	}
	return tag
}
