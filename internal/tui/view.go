package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/maypaper/maypaper/internal/router"
	"github.com/maypaper/maypaper/internal/session"
)

// RenderState renders connectors and leases as tables.
func RenderState(st router.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n",
		StyleHeader.Render("Topology"),
		StyleDimmed.Render(fmt.Sprintf("v%d, %d connector(s)", st.TopologyVersion, len(st.Connectors))),
	)
	b.WriteString(EntriesTable(st.Entries, st.Pending))
	b.WriteString("\n")

	b.WriteString(StyleHeader.Render("Leases"))
	b.WriteString("\n")
	if len(st.Leases) == 0 {
		b.WriteString(StyleDimmed.Render("no local servers"))
		b.WriteString("\n")
		return b.String()
	}
	t := newTable("PATH", "ADDRESS", "HOLDS", "READY")
	for _, l := range st.Leases {
		t.Row(l.Path, l.Address, strconv.Itoa(l.Count), strconv.FormatBool(l.Ready))
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

// EntriesTable renders one row per connector. pending maps connectors to
// paths whose servers are still starting.
func EntriesTable(entries []session.Entry, pending map[string]string) string {
	t := newTable("CONNECTOR", "KIND", "CONTENT", "REV", "PENDING")
	t.StyleFunc(func(row, col int) lipgloss.Style {
		style := lipgloss.NewStyle().Padding(0, 1)
		if row == table.HeaderRow {
			return style.Bold(true)
		}
		if col == 1 && row >= 0 && row < len(entries) {
			return style.Foreground(KindColor(entries[row].Reference.Kind))
		}
		if col == 4 {
			return style.Foreground(ColorPending)
		}
		return style
	})
	for _, e := range entries {
		t.Row(
			e.Connector,
			e.Reference.Kind.String(),
			content(e.Reference),
			strconv.Itoa(e.Revision),
			pending[e.Connector],
		)
	}
	return t.Render()
}

func content(ref session.Reference) string {
	switch ref.Kind {
	case session.URL:
		return ref.URL
	case session.Path:
		return ref.Path
	}
	return "-"
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorBorder)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true)
			}
			return style
		})
}
