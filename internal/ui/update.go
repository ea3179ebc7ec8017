package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// update is the single message handler behind Model.Update.
func update(m Model, msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return resize(m, msg), nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return submit(m)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ProcessedMsg:
		m.busy = false
		m.refreshStatus()
		if msg.Err != nil {
			m.pushBlock(renderError(m.styles, msg.Err.Error()))
			return m, nil
		}
		m.pushBlock(renderResult(m.styles, msg.Result))
		return m, nil

	case SwitchedMsg:
		m.busy = false
		m.refreshStatus()
		if msg.Err != nil {
			m.pushBlock(renderError(m.styles, msg.Err.Error()))
			return m, nil
		}
		m.pushBlock(renderSwitched(m.styles, msg))
		return m, nil

	case RetrievedMsg:
		m.busy = false
		m.pushBlock(renderRetrieved(m.styles, msg))
		return m, nil

	case ContextListMsg:
		m.busy = false
		m.pushBlock(renderContextList(m.styles, msg))
		return m, nil

	case ReportMsg:
		m.busy = false
		if msg.Err != nil {
			m.pushBlock(renderError(m.styles, "report failed: "+msg.Err.Error()))
			return m, nil
		}
		m.pushBlock(msg.Report)
		return m, nil

	case HelpMsg:
		m.busy = false
		m.pushBlock(renderHelp(m.styles))
		return m, nil

	case CommandErrorMsg:
		m.busy = false
		m.pushBlock(renderError(m.styles, msg.Reason))
		return m, nil
	}

	// Everything else flows into the input and the viewport so typing,
	// pasting, and scrolling keep working while a command runs.
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit dispatches the current input line. Engine commands are serialized:
// while one is in flight the line stays in the input box untouched.
func submit(m Model) (Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()

	if strings.HasPrefix(text, "/") {
		m.pushBlock(m.styles.CommandPrompt.Render("cmd") + " " + text)
		m.busy = true
		return m, HandleCommand(text, m.session, m.contentWidth())
	}

	m.pushBlock(m.styles.UserPrompt.Render("you") + " " + text)
	m.busy = true
	return m, processCmd(m.session, text)
}

// resize fits the chrome to the terminal. The viewport takes whatever the
// header, input, and status lines leave over.
func resize(m Model, msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height

	const chromeLines = 4
	vpHeight := msg.Height - chromeLines
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = msg.Width
	m.viewport.Height = vpHeight
	m.input.Width = msg.Width - 4

	if !m.ready {
		m.ready = true
		m.viewport.SetContent(strings.Join(m.transcript, "\n"))
		m.viewport.GotoBottom()
	}
	return m
}
