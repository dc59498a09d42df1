// Package snapshot produces a token-efficient accessibility view of the
// current page — the model reasons over refs, never raw coordinates. It
// owns the TTL+LRU cache and the diff/delta computation described in
// spec.md §4.4.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/types"
)

// defaultTruncateLen is the per-element accessible-name/value truncation
// length, spec.md §4.4 step 4.
const defaultTruncateLen = 200

// Options configures one Snapshot call.
type Options struct {
	Scope   string   // CSS scope selector; empty = whole page
	Exclude []string // CSS selectors to drop, matched against element attrs["selector"] when the driver supplies one
	Diff    bool
	Force   bool
}

// Generate builds a fresh Snapshot from drv's current accessibility tree,
// applying the scope filter, exclude list, collapse-uninteresting-nodes
// pass, and the per-element truncation (spec.md §4.4 steps 1-5). It does
// not touch the cache; callers that want caching go through Cache.Get,
// whose ref sequence additionally guarantees refs are never reused across
// snapshots of different navigation events. Called directly, refs are
// fresh per call and unique within the returned Snapshot.
func Generate(ctx context.Context, drv driver.PageDriver, opts Options) (*types.Snapshot, error) {
	seq := 0
	return generate(ctx, drv, opts, func() string {
		seq++
		return fmt.Sprintf("e%d", seq)
	})
}

// generate is Generate with the ref allocator injected, so the Cache can
// supply its own mutex-guarded sequence instead of sharing mutable
// package state.
func generate(ctx context.Context, drv driver.PageDriver, opts Options, nextRef func() string) (*types.Snapshot, error) {
	url, err := drv.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: current url: %w", err)
	}
	title, err := drv.Title(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: title: %w", err)
	}
	tree, err := drv.AccessibilityTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: accessibility tree: %w", err)
	}

	elements := make([]types.Element, 0, len(tree))
	for _, el := range tree {
		if opts.Scope != "" && el.Attrs["selector"] != "" && !strings.Contains(el.Attrs["selector"], opts.Scope) {
			continue
		}
		if matchesExclude(el, opts.Exclude) {
			continue
		}
		if el.Name == "" && el.Role == "" && !isInteractiveRole(el.Role) {
			// Collapse elements with no accessible name, no role, and no
			// interactivity (spec.md §4.4 step 3).
			continue
		}
		el.Name = truncate(el.Name, defaultTruncateLen)
		el.Value = truncate(el.Value, defaultTruncateLen)
		el.Ref = nextRef()
		elements = append(elements, el)
	}

	snap := &types.Snapshot{
		URL:      url,
		Title:    title,
		Elements: elements,
	}
	snap.Hash = hashElements(elements)
	return snap, nil
}

func matchesExclude(el types.Element, exclude []string) bool {
	sel := el.Attrs["selector"]
	if sel == "" {
		return false
	}
	for _, ex := range exclude {
		if ex != "" && strings.Contains(sel, ex) {
			return true
		}
	}
	return false
}

// isInteractiveRole mirrors the teacher's accessibility-role allowlist
// (internal/browser/snapshot.go's isInteractiveRole), extended with the
// non-interactive-but-named roles the kernel still wants to see (e.g.
// "heading", "text") — collapse only truly decorative nodes.
func isInteractiveRole(role string) bool {
	switch role {
	case "button", "link", "textbox", "checkbox", "radio", "combobox",
		"listbox", "option", "menuitem", "tab", "switch", "slider",
		"searchbox", "heading", "img", "table", "row", "cell", "form",
		"article", "region", "dialog", "alert", "status":
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func hashElements(els []types.Element) string {
	h := sha256.New()
	for _, el := range els {
		fmt.Fprintf(h, "%s|%s|%s|%s\n", el.Role, el.Name, el.Value, el.Attrs["selector"])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Render produces the newline-delimited wire representation spec.md §6
// mandates: `"[ref] role \"name\" [attrs]"`, children indented by two
// spaces. The core assigns no hierarchy information beyond document
// order, so this renderer treats the list as flat — nesting is reserved
// for drivers that supply an explicit Attrs["depth"].
func Render(snap *types.Snapshot) string {
	var b strings.Builder
	for _, el := range snap.Elements {
		indent := strings.Repeat("  ", depthOf(el))
		fmt.Fprintf(&b, "%s[%s] %s \"%s\"", indent, el.Ref, el.Role, el.Name)
		if attrs := formatAttrs(el); attrs != "" {
			b.WriteString(" ")
			b.WriteString(attrs)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderDiff produces the model-facing text form of a SnapshotDiff:
// added/removed/changed elements grouped under their own headers, using
// the same "[ref] role \"name\"" element line as Render.
func RenderDiff(diff *types.SnapshotDiff) string {
	var b strings.Builder
	writeElementGroup(&b, "Added", diff.Added)
	writeElementGroup(&b, "Removed", diff.Removed)
	if len(diff.Changed) > 0 {
		b.WriteString("Changed:\n")
		for _, c := range diff.Changed {
			fmt.Fprintf(&b, "  [%s] fields changed: %s\n", c.Ref, strings.Join(c.Fields, ", "))
		}
	}
	if b.Len() == 0 {
		return "(no changes)"
	}
	return b.String()
}

func writeElementGroup(b *strings.Builder, label string, els []types.Element) {
	if len(els) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, el := range els {
		fmt.Fprintf(b, "  [%s] %s \"%s\"\n", el.Ref, el.Role, el.Name)
	}
}

func depthOf(el types.Element) int {
	d := 0
	fmt.Sscanf(el.Attrs["depth"], "%d", &d)
	return d
}

func formatAttrs(el types.Element) string {
	if len(el.Attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(el.Attrs))
	for k := range el.Attrs {
		if k == "selector" || k == "depth" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, el.Attrs[k]))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
