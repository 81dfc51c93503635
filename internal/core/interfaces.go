package core

import "encoding/json"

// Frame is one message on a relay socket. Replies carry the ref of the frame
// they acknowledge; relay pushes carry a null ref.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

// Socket-level events and the topic reserved for heartbeats.
const (
	PhoenixTopic   = "phoenix"
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Reply is the payload of a phx_reply frame.
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// SignalConnection is the relay's outbound half of a client socket.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend([]byte) error
	Close()
}
