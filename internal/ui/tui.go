// ABOUTME: Runs the status monitor program
// ABOUTME: The monitor owns the terminal until the user quits or the context ends
package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
)

// Monitor displays server state in the terminal.
type Monitor struct {
	poll     PollFunc
	quitChan chan struct{}
}

// NewMonitor creates a monitor that refreshes from poll.
func NewMonitor(poll PollFunc) *Monitor {
	return &Monitor{
		poll:     poll,
		quitChan: make(chan struct{}, 1),
	}
}

// Run blocks until the user quits or ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	p := tea.NewProgram(NewModel(m.poll, m.quitChan), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "status monitor failed")
	}
	return nil
}

// QuitChan returns the channel that signals when the user wants to quit
func (m *Monitor) QuitChan() <-chan struct{} {
	return m.quitChan
}
