// ABOUTME: Bubbletea model for the server status monitor
// ABOUTME: Shows the header, sample and event counts, and connected sessions
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Resonate-Protocol/ftbuffer/internal/server"
	"github.com/Resonate-Protocol/ftbuffer/internal/store"
)

// Snapshot is one poll of server state.
type Snapshot struct {
	Name      string
	Addr      string
	WebSocket string
	Stats     store.Stats
	Sessions  []server.SessionInfo
}

// PollFunc returns the current server state.
type PollFunc func() Snapshot

// Model is the monitor state
type Model struct {
	snapshot  Snapshot
	poll      PollFunc
	startTime time.Time
	now       func() time.Time
	quitting  bool
	quitChan  chan struct{}
	width     int
}

type tickMsg time.Time

// SnapshotMsg replaces the displayed state.
type SnapshotMsg Snapshot

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("220"))

	helpStyle = lipgloss.NewStyle().Faint(true)
)

// NewModel creates a model that polls with poll every second.
func NewModel(poll PollFunc, quitChan chan struct{}) Model {
	return Model{
		poll:      poll,
		startTime: time.Now(),
		now:       time.Now,
		quitChan:  quitChan,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.pollCmd(), tickEvery())
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) pollCmd() tea.Cmd {
	if m.poll == nil {
		return nil
	}
	poll := m.poll
	return func() tea.Msg {
		return SnapshotMsg(poll())
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		return m, tea.Batch(m.pollCmd(), tickEvery())

	case SnapshotMsg:
		m.snapshot = Snapshot(msg)
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return "Shutting down buffer...\n"
	}

	var b strings.Builder
	st := m.snapshot.Stats

	b.WriteString(titleStyle.Render("FieldTrip Buffer"))
	b.WriteString("\n\n")

	field(&b, "Server: ", m.snapshot.Name)
	field(&b, "Listen: ", m.snapshot.Addr)
	if m.snapshot.WebSocket != "" {
		field(&b, "WebSocket: ", m.snapshot.WebSocket)
	}
	field(&b, "Uptime: ", m.now().Sub(m.startTime).Round(time.Second).String())
	b.WriteString("\n")

	field(&b, "State: ", st.State.String())
	if st.State == store.Empty {
		b.WriteString(valueStyle.Render("  No header"))
		b.WriteString("\n")
	} else {
		h := st.Header
		field(&b, "Header: ", fmt.Sprintf("%d channels, %s, %g Hz", h.NumChannels, h.DataType, h.SampleRate))
		field(&b, "Samples: ", fmt.Sprintf("%d (%s)", st.Samples, formatBytes(st.DataBytes)))
		field(&b, "Events: ", fmt.Sprintf("%d", st.Events))
		if names := h.ChannelNames(); len(names) > 0 {
			field(&b, "Channels: ", truncate(strings.Join(names, ", "), 60))
		}
	}
	b.WriteString("\n")

	b.WriteString(sessionHeaderStyle.Render(fmt.Sprintf("Sessions (%d)", len(m.snapshot.Sessions))))
	b.WriteString("\n\n")
	if len(m.snapshot.Sessions) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n")
	}
	for _, s := range m.snapshot.Sessions {
		b.WriteString(fmt.Sprintf("  * %s", s.Remote))
		b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %d requests, %s)",
			s.Transport, s.Requests, m.now().Sub(s.Connected).Round(time.Second))))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

func field(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(name))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func formatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
