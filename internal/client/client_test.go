package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maypaper/maypaper/internal/bridge"
	"github.com/maypaper/maypaper/internal/router"
	"github.com/maypaper/maypaper/internal/session"
)

func TestBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"127.0.0.1:7878", "http://127.0.0.1:7878"},
		{"http://localhost:9000", "http://localhost:9000"},
		{"ws://127.0.0.1:7878/ws", "http://127.0.0.1:7878"},
		{"wss://example.test/ws", "https://example.test"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BaseURL(tt.in), tt.in)
	}
}

func TestWatchURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:7878/ws", WatchURL("http://127.0.0.1:7878"))
	assert.Equal(t, "wss://example.test/ws", WatchURL("https://example.test"))
}

func TestHTTPClientState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/state", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(router.State{
			TopologyVersion: 3,
			Connectors:      []string{"DP-1"},
			Entries: []session.Entry{{
				Connector: "DP-1",
				Reference: session.URLReference("https://example.test"),
				Revision:  1,
			}},
		})
	}))
	defer srv.Close()

	st, err := NewHTTPClient(srv.URL+"/", "secret").State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.TopologyVersion)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, session.URL, st.Entries[0].Reference.Kind)
}

func TestHTTPClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "router stopped", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "").State(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "router stopped")
}

// observerServer writes msgs to each websocket client, then waits for it to
// go away.
func observerServer(t *testing.T, msgs ...bridge.Message) *httptest.Server {
	t.Helper()
	var upgrader websocket.Upgrader
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteJSON(bridge.Message{Type: "unknown", Payload: nil})
		for _, msg := range msgs {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWSClientDispatch(t *testing.T) {
	srv := observerServer(t,
		bridge.Message{Type: bridge.MsgSnapshot, Payload: bridge.SnapshotPayload{State: router.State{Connectors: []string{"DP-1"}}}},
		bridge.Message{Type: bridge.MsgDelta, Payload: bridge.DeltaPayload{Updates: []session.Entry{{Connector: "DP-1"}}}},
		bridge.Message{Type: bridge.MsgTopology, Payload: bridge.TopologyPayload{Version: 2, Connectors: []string{"DP-1", "HDMI-1"}}},
		bridge.Message{Type: bridge.MsgError, Payload: bridge.ErrorPayload{Message: "boom"}},
	)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws := NewWSClient(wsURL(srv), "")
	require.NoError(t, ws.Connect(ctx))
	defer ws.Close()

	snap, ok := ws.Next(ctx).(SnapshotMsg)
	require.True(t, ok)
	assert.Equal(t, []string{"DP-1"}, snap.Payload.State.Connectors)

	delta, ok := ws.Next(ctx).(DeltaMsg)
	require.True(t, ok)
	require.Len(t, delta.Payload.Updates, 1)

	topo, ok := ws.Next(ctx).(TopologyMsg)
	require.True(t, ok)
	assert.Equal(t, uint64(2), topo.Payload.Version)

	errMsg, ok := ws.Next(ctx).(ErrorMsg)
	require.True(t, ok)
	assert.Equal(t, "boom", errMsg.Payload.Message)
}

func TestWSClientDisconnect(t *testing.T) {
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws := NewWSClient(wsURL(srv), "")
	require.NoError(t, ws.Connect(ctx))

	msg, ok := ws.Next(ctx).(DisconnectedMsg)
	require.True(t, ok)
	assert.Error(t, msg.Err)

	msg, ok = ws.Next(ctx).(DisconnectedMsg)
	require.True(t, ok)
	assert.ErrorIs(t, msg.Err, errNotConnected)
}

func TestWSClientListenStopsOnCancel(t *testing.T) {
	ws := NewWSClient("ws://127.0.0.1:1/ws", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, ws.Listen(ctx)())
}

func TestWSClientSendsToken(t *testing.T) {
	got := make(chan string, 1)
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	ws := NewWSClient(wsURL(srv), "secret")
	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Close()
	assert.Equal(t, "Bearer secret", <-got)
}
