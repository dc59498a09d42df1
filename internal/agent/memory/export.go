package memory

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ternlabs/tern/internal/agent/types"
)

var exportMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ExportMarkdown renders every tier into one markdown document for the
// `inspect memory export` CLI command: recent episodes, learned semantic
// patterns, and skills with their success rates.
func (m *Manager) ExportMarkdown(ctx context.Context, limit int) (string, error) {
	episodes, err := m.episodic.Recent(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("memory: export: episodes: %w", err)
	}
	patterns, err := m.semantic.Search(ctx, "", limit)
	if err != nil {
		return "", fmt.Errorf("memory: export: patterns: %w", err)
	}
	skills, err := m.skill.Search(ctx, "", limit)
	if err != nil {
		return "", fmt.Errorf("memory: export: skills: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Memory export\n\n")

	b.WriteString("## Episodes\n\n")
	for _, ep := range episodes {
		b.WriteString(formatEpisode(ep))
	}
	if len(episodes) == 0 {
		b.WriteString("_none recorded_\n\n")
	}

	b.WriteString("## Semantic patterns\n\n")
	for _, p := range patterns {
		b.WriteString(fmt.Sprintf("- **%s**: %s (%d source episodes)\n", p.CanonicalKey, p.Summary, len(p.SourceEpisodeIDs)))
	}
	if len(patterns) == 0 {
		b.WriteString("_none recorded_\n")
	}
	b.WriteString("\n")

	b.WriteString("## Skills\n\n")
	for _, s := range skills {
		b.WriteString(formatSkill(s))
	}
	if len(skills) == 0 {
		b.WriteString("_none recorded_\n")
	}

	return b.String(), nil
}

// ExportHTML renders ExportMarkdown's output to sanitized-by-default HTML
// (goldmark's default renderer escapes raw HTML), for a browser-viewable
// export artifact rather than a terminal-only one.
func (m *Manager) ExportHTML(ctx context.Context, limit int) (string, error) {
	md, err := m.ExportMarkdown(ctx, limit)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := exportMarkdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("memory: export: render html: %w", err)
	}
	return buf.String(), nil
}

func formatEpisode(ep types.Episode) string {
	return fmt.Sprintf("- **%s** — %s (%s, %s)\n", ep.GoalText, ep.Outcome, ep.Duration, ep.CreatedAt.Format("2006-01-02 15:04"))
}

func formatSkill(s types.Skill) string {
	return fmt.Sprintf("- **%s** — success rate %.0f%% over %d runs: %s\n", s.Name, s.SuccessRate*100, s.ExecCount, s.Description)
}
