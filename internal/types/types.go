package types

import (
	"github.com/JustinCarm001/MLAApp-sub001/internal/position"
	"github.com/JustinCarm001/MLAApp-sub001/internal/session"
)

// ClientMessage is every camera-to-server websocket frame.
type ClientMessage struct {
	Type string `json:"type"` // "sync" | "sync_report" | "ready" | "heartbeat" | "start_ack" | "stop_ack" | "leave"

	// clock sync round trip, all milliseconds
	T0 int64 `json:"t0,omitempty"` // client send time
	T1 int64 `json:"t1,omitempty"` // server receive time (echoed back in sync_report)
	T2 int64 `json:"t2,omitempty"` // server reply time (echoed back in sync_report)
	T3 int64 `json:"t3,omitempty"` // client receive time
}

// ServerMessage is every server-to-camera websocket frame.
type ServerMessage struct {
	Type string `json:"type"` // "joined" | "sync_reply" | "event" | "start_recording" | "stop_recording" | "aborted" | "error"

	// joined
	Position  position.Position   `json:"position,omitempty"`
	Plan      []position.Position `json:"plan,omitempty"`
	ArenaType position.ArenaType  `json:"arena_type,omitempty"`

	// sync_reply
	T0 int64 `json:"t0,omitempty"`
	T1 int64 `json:"t1,omitempty"`
	T2 int64 `json:"t2,omitempty"`

	// event
	Event        string        `json:"event,omitempty"`
	CameraID     string        `json:"camera_id,omitempty"`
	SessionState session.State `json:"session_state,omitempty"`

	// start_recording: the start instant on this camera's own clock
	LocalStartMs int64 `json:"local_start_ms,omitempty"`

	// aborted
	Reason string `json:"reason,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}
