package tui

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/maypaper/maypaper/internal/client"
	"github.com/maypaper/maypaper/internal/router"
	"github.com/maypaper/maypaper/internal/session"
)

// Source is the observer stream the watch view follows.
type Source interface {
	Listen(ctx context.Context) tea.Cmd
	ReadLoop(ctx context.Context) tea.Cmd
	Close()
}

// Model is the live watch view. It keeps the latest entry per connector,
// starting from the snapshot sent on connect.
type Model struct {
	src    Source
	ctx    context.Context
	cancel context.CancelFunc
	keys   KeyMap

	width int

	connected       bool
	topologyVersion uint64
	connectors      []string
	entries         map[string]session.Entry
	pending         map[string]string
	leases          int
	lastErr         string
}

func NewModel(src Source) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		src:     src,
		ctx:     ctx,
		cancel:  cancel,
		keys:    DefaultKeyMap(),
		entries: make(map[string]session.Entry),
		pending: make(map[string]string),
	}
}

func (m Model) Init() tea.Cmd {
	return m.src.Listen(m.ctx)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			m.src.Close()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			m.src.Close()
			return m, nil
		}
		return m, nil

	case client.ConnectedMsg:
		m.connected = true
		m.lastErr = ""
		return m, m.src.ReadLoop(m.ctx)

	case client.DisconnectedMsg:
		m.connected = false
		if msg.Err != nil {
			m.lastErr = msg.Err.Error()
		}
		return m, m.src.Listen(m.ctx)

	case client.SnapshotMsg:
		m.applySnapshot(msg.Payload.State)
		return m, m.src.ReadLoop(m.ctx)

	case client.DeltaMsg:
		for _, e := range msg.Payload.Updates {
			if cur, ok := m.entries[e.Connector]; ok && cur.Revision > e.Revision {
				continue
			}
			m.entries[e.Connector] = e
			if e.Reference.Kind == session.Path && m.pending[e.Connector] == e.Reference.Path {
				delete(m.pending, e.Connector)
			}
		}
		return m, m.src.ReadLoop(m.ctx)

	case client.TopologyMsg:
		m.topologyVersion = msg.Payload.Version
		m.connectors = msg.Payload.Connectors
		return m, m.src.ReadLoop(m.ctx)

	case client.ErrorMsg:
		m.lastErr = msg.Payload.Message
		return m, m.src.ReadLoop(m.ctx)
	}
	return m, nil
}

func (m *Model) applySnapshot(st router.State) {
	m.topologyVersion = st.TopologyVersion
	m.connectors = st.Connectors
	m.entries = make(map[string]session.Entry, len(st.Entries))
	for _, e := range st.Entries {
		m.entries[e.Connector] = e
	}
	m.pending = make(map[string]string, len(st.Pending))
	for c, p := range st.Pending {
		m.pending[c] = p
	}
	m.leases = len(st.Leases)
}

// Entries returns the tracked entries sorted by connector.
func (m Model) Entries() []session.Entry {
	out := make([]session.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Connector < out[j].Connector })
	return out
}

func (m Model) View() string {
	var conn string
	if m.connected {
		conn = lipgloss.NewStyle().Foreground(ColorHealthy).Render("● connected")
	} else {
		conn = lipgloss.NewStyle().Foreground(ColorDanger).Render("○ connecting...")
	}
	sep := lipgloss.NewStyle().Foreground(ColorBorder).Render(" | ")
	status := conn + sep + fmt.Sprintf("topology v%d (%d)", m.topologyVersion, len(m.connectors))
	if m.leases > 0 {
		status += sep + fmt.Sprintf("%d lease(s) at connect", m.leases)
	}

	sections := []string{status, EntriesTable(m.Entries(), m.pending)}
	if m.lastErr != "" {
		sections = append(sections, StyleError.Render(m.lastErr))
	}
	sections = append(sections, StyleDimmed.Render("r:reconnect  q:quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
