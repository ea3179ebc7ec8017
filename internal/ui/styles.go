package ui

import "github.com/charmbracelet/lipgloss"

// Styles holds the pre-computed lipgloss styles for every REPL element, so
// rendering never rebuilds a style per frame.
type Styles struct {
	// Header is the top bar with the program name and active context.
	Header lipgloss.Style
	// Title styles the program name inside the header.
	Title lipgloss.Style
	// HeaderInfo styles the active-context summary inside the header.
	HeaderInfo lipgloss.Style

	// UserPrompt labels typed messages in the scrollback.
	UserPrompt lipgloss.Style
	// CommandPrompt labels slash commands in the scrollback.
	CommandPrompt lipgloss.Style
	// InputPrompt styles the input caret.
	InputPrompt lipgloss.Style

	// Detail styles indented secondary lines under a transcript entry.
	Detail lipgloss.Style
	// Muted styles de-emphasized fragments like IDs and timestamps.
	Muted lipgloss.Style

	// EntityBadge marks extracted entities.
	EntityBadge lipgloss.Style
	// TopicBadge marks extracted topics.
	TopicBadge lipgloss.Style
	// SwitchBadge marks context-switch notices.
	SwitchBadge lipgloss.Style
	// ActiveBadge marks the active context in listings.
	ActiveBadge lipgloss.Style

	// Error styles failures in the scrollback.
	Error lipgloss.Style
	// Spinner styles the in-flight indicator.
	Spinner lipgloss.Style
	// StatusBar is the bottom hint/status line.
	StatusBar lipgloss.Style
}

// NewStyles builds the default dark-terminal palette.
func NewStyles() Styles {
	var (
		violet = lipgloss.Color("99")
		cyan   = lipgloss.Color("86")
		green  = lipgloss.Color("78")
		orange = lipgloss.Color("214")
		pink   = lipgloss.Color("205")
		red    = lipgloss.Color("196")
		gray   = lipgloss.Color("241")
		dim    = lipgloss.Color("238")
	)

	return Styles{
		Header:     lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(dim).Padding(0, 1),
		Title:      lipgloss.NewStyle().Bold(true).Foreground(violet),
		HeaderInfo: lipgloss.NewStyle().Foreground(gray),

		UserPrompt:    lipgloss.NewStyle().Bold(true).Foreground(cyan),
		CommandPrompt: lipgloss.NewStyle().Bold(true).Foreground(orange),
		InputPrompt:   lipgloss.NewStyle().Foreground(violet),

		Detail: lipgloss.NewStyle().PaddingLeft(2),
		Muted:  lipgloss.NewStyle().Foreground(gray),

		EntityBadge: lipgloss.NewStyle().Foreground(green),
		TopicBadge:  lipgloss.NewStyle().Foreground(cyan),
		SwitchBadge: lipgloss.NewStyle().Bold(true).Foreground(orange),
		ActiveBadge: lipgloss.NewStyle().Bold(true).Foreground(green),

		Error:     lipgloss.NewStyle().Bold(true).Foreground(red),
		Spinner:   lipgloss.NewStyle().Foreground(pink),
		StatusBar: lipgloss.NewStyle().Foreground(gray).Padding(0, 1),
	}
}
