package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/halcyonic/contexture/internal/awareness"
)

// This file renders transcript blocks: pure string builders with no model
// state, so they are testable without running the program.

// shortID trims a UUID to the prefix shown in listings. /switch expands the
// prefix back to the full ID.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func renderWelcome(s Styles) string {
	return s.Muted.Render("contexture repl, /help for commands, ctrl+c to quit")
}

func renderHelp(s Styles) string {
	rows := []string{
		"/switch <id>       make another context active (ID prefixes work)",
		"/contexts          list the active context and retained history",
		"/retrieve <query>  rank stored contexts against a query",
		"/report            render the active context as a markdown report",
		"/quit              leave the REPL",
	}
	var b strings.Builder
	b.WriteString(s.Muted.Render("commands"))
	for _, row := range rows {
		b.WriteString("\n" + s.Detail.Render(row))
	}
	return b.String()
}

func renderError(s Styles, text string) string {
	return s.Error.Render("error ") + text
}

// renderResult formats what one message changed: the receiving context,
// extracted entities and topics, reference resolutions, and any switch.
func renderResult(s Styles, result *awareness.MessageResult) string {
	if result == nil {
		return ""
	}
	var lines []string

	lines = append(lines, s.Detail.Render(fmt.Sprintf("context %s %s importance %.2f",
		result.ContextName,
		s.Muted.Render("("+shortID(result.ContextID)+")"),
		result.Importance)))

	if len(result.Entities) > 0 {
		names := make([]string, 0, len(result.Entities))
		for name := range result.Entities {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, s.EntityBadge.Render(name)+s.Muted.Render("/"+string(result.Entities[name].Type)))
		}
		lines = append(lines, s.Detail.Render("entities "+strings.Join(parts, " ")))
	}

	if len(result.Topics) > 0 {
		badged := make([]string, 0, len(result.Topics))
		for _, topic := range result.Topics {
			badged = append(badged, s.TopicBadge.Render(topic))
		}
		lines = append(lines, s.Detail.Render("topics "+strings.Join(badged, ", ")))
	}

	for _, res := range result.Resolutions {
		if !res.Resolved() {
			lines = append(lines, s.Detail.Render(fmt.Sprintf("%q unresolved", res.Token)))
			continue
		}
		lines = append(lines, s.Detail.Render(fmt.Sprintf("%q refers to %s %s",
			res.Token,
			strings.Join(res.Entities, ", "),
			s.Muted.Render(fmt.Sprintf("(%.2f %s)", res.Confidence, res.Source)))))
	}

	if sw := result.Switch; sw != nil {
		note := "resumed"
		if sw.CreatedNew {
			note = "created"
		}
		lines = append(lines, s.Detail.Render(fmt.Sprintf("%s %s context %s %s",
			s.SwitchBadge.Render("switch"),
			note,
			s.Muted.Render(shortID(sw.NewID)),
			s.Muted.Render(fmt.Sprintf("(%s %.2f)", sw.Reason, sw.Confidence)))))
	}

	return strings.Join(lines, "\n")
}

func renderSwitched(s Styles, msg SwitchedMsg) string {
	return s.Detail.Render(fmt.Sprintf("%s now in %s %s",
		s.SwitchBadge.Render("switch"),
		msg.Name,
		s.Muted.Render("("+shortID(msg.ID)+")")))
}

func renderRetrieved(s Styles, msg RetrievedMsg) string {
	if len(msg.Results) == 0 {
		return s.Detail.Render(s.Muted.Render("no stored contexts match " + fmt.Sprintf("%q", msg.Query)))
	}
	var lines []string
	for i, rc := range msg.Results {
		c := rc.Context
		lines = append(lines, s.Detail.Render(fmt.Sprintf("%d. %s %s relevance %.2f topics %s",
			i+1,
			c.Name,
			s.Muted.Render("("+shortID(c.ID)+")"),
			rc.Relevance,
			s.TopicBadge.Render(strings.Join(c.Topics, ", ")))))
	}
	return strings.Join(lines, "\n")
}

func renderContextList(s Styles, msg ContextListMsg) string {
	if len(msg.Contexts) == 0 {
		return s.Detail.Render(s.Muted.Render("no contexts yet"))
	}
	var lines []string
	lines = append(lines, s.Muted.Render(fmt.Sprintf("contexts (%d)", len(msg.Contexts))))
	for _, c := range msg.Contexts {
		entry := fmt.Sprintf("%s %s %s",
			s.Muted.Render(shortID(c.ID)),
			c.Name,
			s.Muted.Render(fmt.Sprintf("(%s, importance %.2f, %d entities)", c.Type, c.Importance, len(c.Entities))))
		if c.ID == msg.ActiveID {
			entry += " " + s.ActiveBadge.Render("active")
		}
		lines = append(lines, s.Detail.Render(entry))
	}
	return strings.Join(lines, "\n")
}
