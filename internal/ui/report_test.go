package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonic/contexture/internal/awareness"
)

func TestContextMarkdownSections(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	root := awareness.NewSessionContext("Session", now)
	c := awareness.NewTopicContext("basketball", root, now)
	c.Importance = 0.82
	c.MergeTopics([]string{"basketball", "playoff strategies"})
	c.UpsertEntity("Jordan", awareness.EntityInfo{Type: awareness.EntityNamed, Confidence: 0.7}, now)
	c.UpsertEntity("Chicago", awareness.EntityInfo{Type: awareness.EntityLocation, Confidence: 0.6}, now.Add(time.Minute))
	c.RecordReference("he", awareness.ReferenceRecord{
		Entities:   []string{"Jordan"},
		Confidence: 0.7,
		Source:     awareness.SourceGenderMatch,
		ResolvedAt: now,
	})

	md := ContextMarkdown(c, []*awareness.Context{root})

	assert.Contains(t, md, "# basketball")
	assert.Contains(t, md, "`"+c.ID+"`")
	assert.Contains(t, md, "**Importance**: 0.82")
	assert.Contains(t, md, "**Lineage**: Session")
	assert.Contains(t, md, "## Topics")
	assert.Contains(t, md, "- playoff strategies")
	assert.Contains(t, md, "## Entities")
	assert.Contains(t, md, "| Jordan | named_entity | 1 |")
	assert.Contains(t, md, "## References")
	assert.Contains(t, md, "| he | Jordan | 0.70 | gender_match |")
}

func TestContextMarkdownOmitsEmptySections(t *testing.T) {
	c := awareness.NewSessionContext("Session", time.Now())

	md := ContextMarkdown(c, nil)

	assert.Contains(t, md, "# Session")
	assert.NotContains(t, md, "## Topics")
	assert.NotContains(t, md, "## Entities")
	assert.NotContains(t, md, "## References")
	assert.NotContains(t, md, "Lineage")
}

func TestContextMarkdownOrdersReferencesNewestFirst(t *testing.T) {
	now := time.Now()
	c := awareness.NewSessionContext("Session", now)
	c.RecordReference("it", awareness.ReferenceRecord{
		Entities: []string{"Report"}, Confidence: 0.6,
		Source: awareness.SourceRecentNonPerson, ResolvedAt: now.Add(-time.Minute),
	})
	c.RecordReference("she", awareness.ReferenceRecord{
		Entities: []string{"Sarah"}, Confidence: 0.7,
		Source: awareness.SourceGenderMatch, ResolvedAt: now,
	})

	md := ContextMarkdown(c, nil)

	require.Less(t, strings.Index(md, "| she |"), strings.Index(md, "| it |"))
}

func TestRenderMarkdown(t *testing.T) {
	out, err := RenderMarkdown("# Title\n\nSome *styled* text.", 60)

	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Contains(t, out, "Title")
}
