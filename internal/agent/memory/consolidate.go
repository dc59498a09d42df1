package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternlabs/tern/internal/agent/types"
)

// minClusterSize is how many episodes must share a canonical key before
// consolidation materializes a semantic pattern for it.
const minClusterSize = 2

// stepLinePattern parses one types.Step.OneLine() rendering, "Step N:
// tool — outcome", to recover the tool name for skill-sequence promotion.
var stepLinePattern = regexp.MustCompile(`^Step \d+: (\S+) — (.+)$`)

// Consolidate reads the most recent episodes, clusters them by a
// canonical key, and materializes or updates a Semantic entry per
// cluster; a cluster whose successful members share an identical tool
// sequence is additionally promoted into a Skill. Both writes are
// idempotent by canonical key / name, satisfying spec.md §4.5.1's
// no-duplicate-entries requirement.
func (m *Manager) Consolidate(ctx context.Context) error {
	episodes, err := m.episodic.Recent(ctx, m.consolidationWindow)
	if err != nil {
		return fmt.Errorf("memory: consolidate: recent episodes: %w", err)
	}
	if len(episodes) == 0 {
		return nil
	}

	clusters := make(map[string][]types.Episode)
	for _, ep := range episodes {
		key := canonicalKey(ep)
		clusters[key] = append(clusters[key], ep)
	}

	for key, group := range clusters {
		if len(group) < minClusterSize {
			continue
		}
		if err := m.consolidateCluster(ctx, key, group); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) consolidateCluster(ctx context.Context, key string, group []types.Episode) error {
	succeeded, total := 0, len(group)
	ids := make([]string, 0, total)
	toolCounts := make(map[string]int)
	for _, ep := range group {
		ids = append(ids, ep.ID)
		if ep.Success {
			succeeded++
		}
		for _, tool := range toolSequence(ep.StepsSummary) {
			toolCounts[string(tool.Name)]++
		}
	}
	summary := fmt.Sprintf("Goals like %q: %d/%d attempts succeeded. Common actions: %s",
		key, succeeded, total, strings.Join(topTools(toolCounts, 3), ", "))
	if _, err := m.semantic.Upsert(ctx, key, summary, ids); err != nil {
		return fmt.Errorf("memory: consolidate: upsert semantic pattern: %w", err)
	}

	if seq, ok := repeatingSuccessfulSequence(group); ok {
		name := "skill-" + key
		if _, err := m.skill.Upsert(ctx, name, "Learned from repeated successful goals like "+key, seq, nil, nil); err != nil {
			return fmt.Errorf("memory: consolidate: upsert skill: %w", err)
		}
	}
	return nil
}

// canonicalKey derives a stable cluster key for an episode: its first tag
// if tagged, else its goal text's first three words lowercased. Identical
// goal phrasing across episodes (the common case for a recurring
// automation) collapses to the same key without any clustering model.
func canonicalKey(ep types.Episode) string {
	if len(ep.Tags) > 0 {
		return strings.ToLower(ep.Tags[0])
	}
	words := strings.Fields(ep.GoalText)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.ToLower(strings.Join(words, " "))
}

// toolSequence recovers the ordered tool names a StepsSummary records.
func toolSequence(summary string) []types.ToolCall {
	var out []types.ToolCall
	for _, line := range strings.Split(summary, "\n") {
		m := stepLinePattern.FindStringSubmatch(line)
		if m == nil || m[1] == "(none)" {
			continue
		}
		out = append(out, types.ToolCall{Name: types.ToolName(m[1])})
	}
	return out
}

// repeatingSuccessfulSequence reports a tool sequence shared by at least
// minClusterSize successful episodes in group. When several sequences
// qualify, which one is returned is not defined.
func repeatingSuccessfulSequence(group []types.Episode) ([]types.ToolCall, bool) {
	counts := make(map[string]int)
	seqs := make(map[string][]types.ToolCall)
	for _, ep := range group {
		if !ep.Success {
			continue
		}
		seq := toolSequence(ep.StepsSummary)
		if len(seq) == 0 {
			continue
		}
		key := sequenceKey(seq)
		counts[key]++
		seqs[key] = seq
	}
	for key, count := range counts {
		if count >= minClusterSize {
			return seqs[key], true
		}
	}
	return nil, false
}

func sequenceKey(seq []types.ToolCall) string {
	names := make([]string, len(seq))
	for i, tc := range seq {
		names[i] = string(tc.Name)
	}
	return strings.Join(names, ">")
}

func topTools(counts map[string]int, n int) []string {
	type kv struct {
		name  string
		count int
	}
	kvs := make([]kv, 0, len(counts))
	for name, count := range counts {
		kvs = append(kvs, kv{name, count})
	}
	// simple selection sort over a small slice; no need for sort.Slice overhead here
	for i := 0; i < len(kvs) && i < n; i++ {
		max := i
		for j := i + 1; j < len(kvs); j++ {
			if kvs[j].count > kvs[max].count {
				max = j
			}
		}
		kvs[i], kvs[max] = kvs[max], kvs[i]
	}
	if len(kvs) > n {
		kvs = kvs[:n]
	}
	out := make([]string, len(kvs))
	for i, e := range kvs {
		out[i] = e.name
	}
	return out
}
