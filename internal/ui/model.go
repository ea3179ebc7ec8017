package ui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/halcyonic/contexture/internal/awareness"
)

// Session is the slice of the engine the REPL drives. The engine's public
// API satisfies it as-is; tests substitute a fake.
type Session interface {
	ProcessMessage(ctx context.Context, text string) (*awareness.MessageResult, error)
	SwitchContext(ctx context.Context, id string) error
	RetrieveContext(query string) []awareness.RetrievedContext
	ActiveContext() *awareness.Context
	History() *awareness.History
	ContextByID(id string) (*awareness.Context, bool)
}

// Model is the Bubble Tea model for the REPL. The engine underneath is
// single-threaded, so the model runs at most one engine command at a time:
// busy is set when a command is dispatched and cleared when its message
// comes back, and input submitted in between is ignored.
type Model struct {
	session Session

	width  int
	height int
	ready  bool

	styles Styles

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	// busy marks an engine command in flight.
	busy bool

	// status is the header/footer snapshot of engine state. It is refreshed
	// only while no command is in flight, so the view never reads the live
	// session concurrently with a mutation.
	status statusLine

	// transcript holds the rendered scrollback blocks, oldest first.
	transcript []string
}

// statusLine caches what the chrome shows about the engine.
type statusLine struct {
	contextName string
	contextID   string
	importance  float64
	historyLen  int
}

func newModel(session Session) Model {
	styles := NewStyles()

	ti := textinput.New()
	ti.Placeholder = "Type a message, or /help for commands"
	ti.CharLimit = 2000
	ti.Prompt = "› "
	ti.PromptStyle = styles.InputPrompt
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	m := Model{
		session:  session,
		styles:   styles,
		viewport: viewport.New(0, 0),
		input:    ti,
		spinner:  sp,
	}
	m.refreshStatus()
	m.pushBlock(renderWelcome(styles))
	return m
}

// refreshStatus re-reads the session for the chrome. Callers must hold the
// single-flight invariant: no engine command may be running.
func (m *Model) refreshStatus() {
	if active := m.session.ActiveContext(); active != nil {
		m.status.contextName = active.Name
		m.status.contextID = active.ID
		m.status.importance = active.Importance
	}
	m.status.historyLen = m.session.History().Len()
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Update implements tea.Model, delegating to update.go.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return update(m, msg)
}

// View implements tea.Model, delegating to view.go.
func (m Model) View() string {
	return view(m)
}

// pushBlock appends one rendered block to the scrollback and keeps the
// viewport pinned to the newest entry.
func (m *Model) pushBlock(block string) {
	if block == "" {
		return
	}
	m.transcript = append(m.transcript, block)
	m.viewport.SetContent(strings.Join(m.transcript, "\n"))
	m.viewport.GotoBottom()
}

// contentWidth is the usable width for rendered blocks and reports.
func (m Model) contentWidth() int {
	if m.width <= 2 {
		return 78
	}
	return m.width - 2
}
