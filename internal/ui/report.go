package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/halcyonic/contexture/internal/awareness"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONTEXT REPORT
// ═══════════════════════════════════════════════════════════════════════════════

// ContextMarkdown builds the markdown report for one context: identity,
// lineage, topics, entities by recency, and resolved references. lineage is
// the ancestor chain root-first and may be nil when the caller cannot
// resolve parents.
func ContextMarkdown(c *awareness.Context, lineage []*awareness.Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", c.Name)
	fmt.Fprintf(&b, "- **ID**: `%s`\n", c.ID)
	fmt.Fprintf(&b, "- **Type**: %s (level %d)\n", c.Type, c.Level)
	fmt.Fprintf(&b, "- **Importance**: %.2f\n", c.Importance)
	fmt.Fprintf(&b, "- **Started**: %s\n", c.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Last update**: %s\n", c.LastUpdate.Format(time.RFC3339))
	if len(c.Children) > 0 {
		fmt.Fprintf(&b, "- **Children**: %d\n", len(c.Children))
	}
	if len(lineage) > 0 {
		names := make([]string, 0, len(lineage))
		for _, p := range lineage {
			names = append(names, p.Name)
		}
		fmt.Fprintf(&b, "- **Lineage**: %s\n", strings.Join(names, " / "))
	}

	if len(c.Topics) > 0 {
		b.WriteString("\n## Topics\n\n")
		for _, topic := range c.Topics {
			fmt.Fprintf(&b, "- %s\n", topic)
		}
	}

	if mentions := c.EntitiesByRecency(); len(mentions) > 0 {
		b.WriteString("\n## Entities\n\n")
		b.WriteString("| Entity | Type | Mentions | Last mentioned |\n")
		b.WriteString("|--------|------|----------|----------------|\n")
		for _, m := range mentions {
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n",
				m.Name, m.Info.Type, m.Info.Occurrences,
				m.Info.LastMentioned.Format("15:04:05"))
		}
	}

	if len(c.References) > 0 {
		b.WriteString("\n## References\n\n")
		b.WriteString("| Token | Refers to | Confidence | Source |\n")
		b.WriteString("|-------|-----------|------------|--------|\n")
		for _, token := range sortedReferenceTokens(c) {
			rec := c.References[token]
			fmt.Fprintf(&b, "| %s | %s | %.2f | %s |\n",
				token, strings.Join(rec.Entities, ", "), rec.Confidence, rec.Source)
		}
	}

	return b.String()
}

// sortedReferenceTokens orders reference tokens by resolution time, newest
// first, with the token as tie-breaker so reports are stable.
func sortedReferenceTokens(c *awareness.Context) []string {
	tokens := make([]string, 0, len(c.References))
	for token := range c.References {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		a, b := c.References[tokens[i]], c.References[tokens[j]]
		if !a.ResolvedAt.Equal(b.ResolvedAt) {
			return a.ResolvedAt.After(b.ResolvedAt)
		}
		return tokens[i] < tokens[j]
	})
	return tokens
}

// RenderMarkdown renders markdown for the terminal, word-wrapped to width.
func RenderMarkdown(markdown string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("markdown renderer: %w", err)
	}
	out, err := renderer.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return out, nil
}
