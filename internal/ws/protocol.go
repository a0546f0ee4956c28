package ws

import (
	"github.com/bingosuite/inspector/internal/bridge"
	"github.com/bingosuite/inspector/internal/journal"
)

// Target is one debuggable script as listed by /json/list.
// WebSocketDebuggerURL is left out while a client is attached.
type Target struct {
	Description          string `json:"description"`
	DevtoolsFrontendURL  string `json:"devtoolsFrontendUrl,omitempty"`
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// Version is served at /json/version.
type Version struct {
	Browser         string `json:"Browser"`
	ProtocolVersion string `json:"Protocol-Version"`
}

const (
	targetType      = "node"
	browserName     = "inspector/lua"
	protocolVersion = "1.3"
)

// Bridge is the part of bridge.Bridge the transport drives.
type Bridge interface {
	Connect(breakOnNextLine bool, sink bridge.Sink) error
	Disconnect()
	SendCommand(raw string)
}

// Recorder receives a copy of every message of a session.
type Recorder interface {
	Record(sessionID string, dir journal.Direction, payload string)
}

var _ Bridge = (*bridge.Bridge)(nil)
var _ Recorder = (*journal.Journal)(nil)
