package ui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/halcyonic/contexture/internal/awareness"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND MESSAGE TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// ProcessedMsg carries the engine's result for one typed message.
type ProcessedMsg struct {
	Text   string
	Result *awareness.MessageResult
	Err    error
}

// SwitchedMsg reports the outcome of /switch.
type SwitchedMsg struct {
	ID   string
	Name string
	Err  error
}

// RetrievedMsg carries the ranked results of /retrieve. The contexts are
// clones, detached from live engine state.
type RetrievedMsg struct {
	Query   string
	Results []awareness.RetrievedContext
}

// ContextListMsg carries the /contexts listing: the active context first,
// then the retained history. All entries are clones.
type ContextListMsg struct {
	ActiveID string
	Contexts []*awareness.Context
}

// ReportMsg carries the rendered /report output.
type ReportMsg struct {
	Report string
	Err    error
}

// HelpMsg requests the command reference block.
type HelpMsg struct{}

// CommandErrorMsg signals an invalid or unknown slash command.
type CommandErrorMsg struct {
	Command string
	Reason  string
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND ROUTER
// ═══════════════════════════════════════════════════════════════════════════════

// HandleCommand parses a slash command and returns the command that runs it.
//
// Supported commands:
//   - /help, /h, /?        - show the command reference
//   - /switch <id>         - make another context active (ID prefixes work)
//   - /contexts, /ls       - list the active context and retained history
//   - /retrieve <query>    - rank stored contexts against a query
//   - /report              - render the active context as a markdown report
//   - /quit, /q, /exit     - leave the REPL
func HandleCommand(input string, session Session, width int) tea.Cmd {
	input = strings.TrimPrefix(input, "/")
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return commandError("", "empty command, try /help")
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		return func() tea.Msg { return HelpMsg{} }

	case "switch":
		if len(args) != 1 {
			return commandError("switch", "usage: /switch <context-id>")
		}
		return switchCmd(session, args[0])

	case "contexts", "ls":
		return contextListCmd(session)

	case "retrieve", "r":
		if len(args) == 0 {
			return commandError("retrieve", "usage: /retrieve <query>")
		}
		return retrieveCmd(session, strings.Join(args, " "))

	case "report":
		return reportCmd(session, width)

	case "quit", "q", "exit":
		return tea.Quit

	default:
		return commandError(cmd, "unknown command, try /help")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

// processCmd feeds one message through the engine.
func processCmd(session Session, text string) tea.Cmd {
	return func() tea.Msg {
		result, err := session.ProcessMessage(context.Background(), text)
		return ProcessedMsg{Text: text, Result: result, Err: err}
	}
}

// switchCmd activates another context, expanding a unique ID prefix first so
// the short IDs shown by /contexts work directly.
func switchCmd(session Session, id string) tea.Cmd {
	return func() tea.Msg {
		target := resolveContextID(session, id)
		if err := session.SwitchContext(context.Background(), target); err != nil {
			return SwitchedMsg{ID: target, Err: err}
		}
		active := session.ActiveContext()
		return SwitchedMsg{ID: active.ID, Name: active.Name}
	}
}

// resolveContextID expands an ID prefix to the full context ID. Exact IDs
// pass through; an ambiguous or unknown prefix is returned unchanged so the
// engine reports the failure.
func resolveContextID(session Session, id string) string {
	if _, ok := session.ContextByID(id); ok {
		return id
	}
	candidates := session.History().All()
	if active := session.ActiveContext(); active != nil {
		candidates = append(candidates, active)
	}
	match := ""
	for _, c := range candidates {
		if !strings.HasPrefix(c.ID, id) {
			continue
		}
		if match != "" && match != c.ID {
			return id
		}
		match = c.ID
	}
	if match != "" {
		return match
	}
	return id
}

// retrieveCmd ranks stored contexts against the query and clones the results
// off the live engine state.
func retrieveCmd(session Session, query string) tea.Cmd {
	return func() tea.Msg {
		ranked := session.RetrieveContext(query)
		results := make([]awareness.RetrievedContext, 0, len(ranked))
		for _, rc := range ranked {
			results = append(results, awareness.RetrievedContext{
				Context:   rc.Context.Clone(),
				Relevance: rc.Relevance,
			})
		}
		return RetrievedMsg{Query: query, Results: results}
	}
}

// contextListCmd snapshots the active context plus the retained history,
// active first, deduplicated by ID.
func contextListCmd(session Session) tea.Cmd {
	return func() tea.Msg {
		var (
			contexts []*awareness.Context
			seen     = make(map[string]bool)
			activeID string
		)
		if active := session.ActiveContext(); active != nil {
			activeID = active.ID
			contexts = append(contexts, active.Clone())
			seen[active.ID] = true
		}
		for _, c := range session.History().All() {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			contexts = append(contexts, c.Clone())
		}
		return ContextListMsg{ActiveID: activeID, Contexts: contexts}
	}
}

// reportCmd renders the active context through the markdown report.
func reportCmd(session Session, width int) tea.Cmd {
	return func() tea.Msg {
		active := session.ActiveContext()
		if active == nil {
			return ReportMsg{Err: awareness.ErrContextNotFound}
		}
		markdown := ContextMarkdown(active, lineageOf(session, active))
		rendered, err := RenderMarkdown(markdown, width)
		return ReportMsg{Report: rendered, Err: err}
	}
}

// lineageOf walks parent links from the context up to its root and returns
// the chain root-first. A broken link truncates the chain rather than
// failing the report.
func lineageOf(session Session, c *awareness.Context) []*awareness.Context {
	var chain []*awareness.Context
	for cur := c; cur.ParentID != ""; {
		parent, ok := session.ContextByID(cur.ParentID)
		if !ok {
			break
		}
		chain = append([]*awareness.Context{parent}, chain...)
		cur = parent
	}
	return chain
}

func commandError(command, reason string) tea.Cmd {
	return func() tea.Msg {
		return CommandErrorMsg{Command: command, Reason: reason}
	}
}
