package playwrightdriver

import (
	"regexp"
	"strings"

	"github.com/ternlabs/tern/internal/agent/types"
)

var rolePattern = regexp.MustCompile(`^(\s*)-\s+(\w+)(?:\s+"([^"]*)")?(.*)$`)

// interactiveRoles is the allowlist of ARIA roles the kernel assigns refs
// to; everything else is accessible-tree noise a Step never needs to
// address directly.
var interactiveRoles = map[string]bool{
	"button": true, "link": true, "textbox": true, "checkbox": true,
	"radio": true, "combobox": true, "listbox": true, "option": true,
	"menuitem": true, "menuitemcheckbox": true, "menuitemradio": true,
	"tab": true, "slider": true, "spinbutton": true, "switch": true,
	"searchbox": true, "textarea": true,
}

// parseAriaSnapshot walks Playwright's indented ariaSnapshot text and
// assigns a stable ref to every interactive line, returning flattened
// Elements in document order.
func parseAriaSnapshot(snapshot string, refs *refCache) []types.Element {
	lines := strings.Split(snapshot, "\n")
	elements := make([]types.Element, 0, len(lines))
	roleCounts := make(map[string]int)

	for _, line := range lines {
		match := rolePattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		role, name := match[2], match[3]
		if !interactiveRoles[role] {
			continue
		}

		key := role + "|" + name
		roleCounts[key]++
		ref := refs.GetOrCreate(role, name, roleCounts[key])

		elements = append(elements, types.Element{
			Ref:     ref.Ref,
			Role:    role,
			Name:    name,
			Visible: true,
		})
	}
	return elements
}
