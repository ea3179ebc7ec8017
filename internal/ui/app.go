// Package ui is the interactive REPL for a context engine: a Bubble Tea
// program that feeds typed messages through the engine and renders what each
// one changed. Slash commands expose switching, retrieval, and reporting.
// Everything the UI does goes through the Session interface, which the
// engine's public API satisfies directly.
package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Options holds REPL startup options.
type Options struct {
	// MouseSupport enables mouse wheel scrolling in the viewport.
	MouseSupport bool
}

// DefaultOptions returns the stock REPL options.
func DefaultOptions() Options {
	return Options{MouseSupport: true}
}

// New builds the Bubble Tea program around a session.
func New(session Session, opts Options) *tea.Program {
	progOpts := []tea.ProgramOption{tea.WithAltScreen()}
	if opts.MouseSupport {
		progOpts = append(progOpts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(session), progOpts...)
}

// Run starts the REPL and blocks until it exits.
func Run(session Session, opts Options) error {
	if _, err := New(session, opts).Run(); err != nil {
		return fmt.Errorf("repl: %w", err)
	}
	return nil
}
