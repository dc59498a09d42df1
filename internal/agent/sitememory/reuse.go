package sitememory

import "github.com/ternlabs/tern/internal/agent/types"

// Reuse tries mem's candidates in descending priority order against
// resolve, returning the first one that resolves. ok=false means every
// candidate was exhausted and the caller should fall back to vision
// (spec.md §4.6 "reuse path").
func Reuse(mem *types.SiteMemory, resolve Resolver) (types.SelectorCandidate, bool) {
	ordered := append([]types.SelectorCandidate(nil), mem.Candidates...)
	sortByPriorityDesc(ordered)
	for _, c := range ordered {
		if _, _, ok := resolve(c); ok {
			return c, true
		}
	}
	return types.SelectorCandidate{}, false
}

func sortByPriorityDesc(c []types.SelectorCandidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j-1].Priority < c[j].Priority; j-- {
			c[j-1], c[j] = c[j], c[j-1]
		}
	}
}
