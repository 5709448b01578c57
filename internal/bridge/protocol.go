package bridge

import (
	"encoding/json"

	"github.com/maypaper/maypaper/internal/router"
	"github.com/maypaper/maypaper/internal/session"
)

type MessageType string

const (
	// Daemon to renderer.
	MsgSetWebview MessageType = "set_webview"

	// Renderer to daemon.
	MsgConnectors MessageType = "connectors"

	// Daemon to observers.
	MsgSnapshot MessageType = "snapshot"
	MsgDelta    MessageType = "delta"
	MsgTopology MessageType = "topology"

	MsgError MessageType = "error"
)

type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// Envelope is a Message whose payload is decoded later, by type.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type SetWebviewPayload struct {
	Connector string `json:"connector"`
	Address   string `json:"address"`
}

type ConnectorsPayload struct {
	Connectors []string `json:"connectors"`
}

type SnapshotPayload struct {
	State router.State `json:"state"`
}

type DeltaPayload struct {
	Updates []session.Entry `json:"updates"`
}

type TopologyPayload struct {
	Version    uint64   `json:"version"`
	Connectors []string `json:"connectors"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
