package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// view lays the REPL out as header, scrollback, input, status. It renders
// only from model state; the session is never touched here because a command
// goroutine may be mutating the engine mid-frame.
func view(m Model) string {
	if !m.ready {
		return "\n  starting..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		renderHeader(m),
		m.viewport.View(),
		m.input.View(),
		renderStatus(m),
	)
}

func renderHeader(m Model) string {
	title := m.styles.Title.Render("contexture")
	info := m.styles.HeaderInfo.Render(fmt.Sprintf("%s (%s) importance %.2f",
		m.status.contextName, shortID(m.status.contextID), m.status.importance))
	gap := m.width - lipgloss.Width(title) - lipgloss.Width(info) - 2
	if gap < 1 {
		gap = 1
	}
	return m.styles.Header.Width(m.width).Render(title + lipgloss.NewStyle().Width(gap).Render("") + info)
}

func renderStatus(m Model) string {
	if m.busy {
		return m.styles.StatusBar.Render(m.spinner.View() + " processing")
	}
	return m.styles.StatusBar.Render(fmt.Sprintf("%d in history · enter to send · /help", m.status.historyLen))
}
