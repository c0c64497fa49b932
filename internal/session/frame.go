// Package session runs the console's WebSocket channel: the gate that
// authenticates each connection, the registry that maps users to their
// live connection, and a small client for driving the channel.
package session

import "encoding/json"

// Event names carried in Frame.Event.
const (
	EventAuth            = "auth"
	EventChatCommand     = "chatCommand"
	EventPing            = "ping"
	EventCommandStatus   = "commandStatus"
	EventTypingIndicator = "typingIndicator"
	EventAPIResponse     = "apiResponse"
	EventPong            = "pong"
)

// Command status values.
const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusError      = "error"
)

// Frame is one JSON text message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthData is the payload of the first client frame.
type AuthData struct {
	Token string `json:"token"`
}

// ChatCommand is a client command. Timestamp is informational.
type ChatCommand struct {
	Command   string `json:"command"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// CommandStatus reports progress of a command or of the handshake.
type CommandStatus struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// TypingIndicator tells the client a command is in flight.
type TypingIndicator struct {
	IsProcessing bool `json:"isProcessing"`
}

// APIResponse carries a successful command result. Timestamp is unix
// milliseconds.
type APIResponse struct {
	Command   string `json:"command"`
	Result    any    `json:"result"`
	API       string `json:"api"`
	Timestamp int64  `json:"timestamp"`
}

// Pong answers a ping.
type Pong struct {
	Message string `json:"message"`
	User    string `json:"user"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
