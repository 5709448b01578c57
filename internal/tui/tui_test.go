package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maypaper/maypaper/internal/bridge"
	"github.com/maypaper/maypaper/internal/client"
	"github.com/maypaper/maypaper/internal/lease"
	"github.com/maypaper/maypaper/internal/router"
	"github.com/maypaper/maypaper/internal/session"
)

type fakeSource struct {
	listens, reads, closes int
}

func (f *fakeSource) Listen(context.Context) tea.Cmd {
	f.listens++
	return func() tea.Msg { return nil }
}

func (f *fakeSource) ReadLoop(context.Context) tea.Cmd {
	f.reads++
	return func() tea.Msg { return nil }
}

func (f *fakeSource) Close() { f.closes++ }

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func sampleState() router.State {
	return router.State{
		TopologyVersion: 2,
		Connectors:      []string{"DP-1", "HDMI-1"},
		Entries: []session.Entry{
			{Connector: "DP-1", Reference: session.URLReference("https://example.test"), Revision: 1},
			{Connector: "HDMI-1", Reference: session.Reference{Kind: session.None}},
		},
		Leases:  []lease.Info{{Path: "/srv/wall", Address: "http://127.0.0.1:4000/x/", Count: 1, Ready: true}},
		Pending: map[string]string{"HDMI-1": "/srv/wall"},
	}
}

func TestModelSnapshotThenDelta(t *testing.T) {
	src := &fakeSource{}
	m := NewModel(src)

	m, cmd := update(t, m, client.ConnectedMsg{})
	assert.NotNil(t, cmd)
	assert.True(t, m.connected)

	m, _ = update(t, m, client.SnapshotMsg{Payload: bridge.SnapshotPayload{State: sampleState()}})
	require.Len(t, m.Entries(), 2)
	assert.Equal(t, "/srv/wall", m.pending["HDMI-1"])

	m, _ = update(t, m, client.DeltaMsg{Payload: bridge.DeltaPayload{Updates: []session.Entry{
		{Connector: "HDMI-1", Reference: session.PathReference("/srv/wall", "http://127.0.0.1:4000/x/"), Revision: 1},
	}}})
	entries := m.Entries()
	assert.Equal(t, "DP-1", entries[0].Connector)
	assert.Equal(t, session.Path, entries[1].Reference.Kind)
	assert.Empty(t, m.pending, "committed path clears pending")
	assert.Equal(t, 3, src.reads)
}

func TestModelIgnoresOlderRevision(t *testing.T) {
	m := NewModel(&fakeSource{})
	m, _ = update(t, m, client.SnapshotMsg{Payload: bridge.SnapshotPayload{State: sampleState()}})

	m, _ = update(t, m, client.DeltaMsg{Payload: bridge.DeltaPayload{Updates: []session.Entry{
		{Connector: "DP-1", Reference: session.Reference{Kind: session.None}, Revision: 0},
	}}})
	assert.Equal(t, session.URL, m.entries["DP-1"].Reference.Kind)
}

func TestModelTopologyAndErrors(t *testing.T) {
	m := NewModel(&fakeSource{})
	m, _ = update(t, m, client.TopologyMsg{Payload: bridge.TopologyPayload{Version: 7, Connectors: []string{"eDP-1"}}})
	assert.Equal(t, uint64(7), m.topologyVersion)
	assert.Equal(t, []string{"eDP-1"}, m.connectors)

	m, _ = update(t, m, client.ErrorMsg{Payload: bridge.ErrorPayload{Message: "bad payload"}})
	assert.Contains(t, m.View(), "bad payload")
}

func TestModelReconnectsOnDisconnect(t *testing.T) {
	src := &fakeSource{}
	m := NewModel(src)
	m, _ = update(t, m, client.ConnectedMsg{})

	m, cmd := update(t, m, client.DisconnectedMsg{Err: errors.New("connection reset")})
	assert.NotNil(t, cmd)
	assert.False(t, m.connected)
	assert.Equal(t, 1, src.listens)
	assert.Contains(t, m.View(), "connecting")
}

func TestModelQuit(t *testing.T) {
	src := &fakeSource{}
	m := NewModel(src)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, 1, src.closes)
	assert.Error(t, m.ctx.Err())
}

func TestRenderState(t *testing.T) {
	out := RenderState(sampleState())
	for _, want := range []string{"v2", "DP-1", "HDMI-1", "https://example.test", "/srv/wall", "http://127.0.0.1:4000/x/"} {
		assert.Contains(t, out, want)
	}

	empty := RenderState(router.State{})
	assert.Contains(t, empty, "no local servers")
}
