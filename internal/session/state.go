package session

import (
	"time"

	"github.com/JustinCarm001/MLAApp-sub001/internal/clocksync"
	"github.com/JustinCarm001/MLAApp-sub001/internal/position"
)

// State is the session lifecycle state. Transitions are monotonic:
// open -> synchronizing -> armed -> recording -> stopping -> closed, with
// aborted reachable from any non-closed state.
type State string

const (
	StateOpen          State = "open"
	StateSynchronizing State = "synchronizing"
	StateArmed         State = "armed"
	StateRecording     State = "recording"
	StateStopping      State = "stopping"
	StateClosed        State = "closed"
	StateAborted       State = "aborted"
)

// Terminal reports whether no further participant actions are accepted.
func (s State) Terminal() bool { return s == StateClosed || s == StateAborted }

type ParticipantStatus string

const (
	StatusJoined        ParticipantStatus = "joined"
	StatusSynchronizing ParticipantStatus = "synchronizing"
	StatusReady         ParticipantStatus = "ready"
	StatusRecording     ParticipantStatus = "recording"
	StatusDisconnected  ParticipantStatus = "disconnected"
	StatusLeft          ParticipantStatus = "left"
)

// AbortReason is delivered to every participant when a session aborts, so the
// client UI can explain the failure instead of failing silently.
type AbortReason string

const (
	ReasonSyncTimeout   AbortReason = "SyncTimeout"
	ReasonOperatorAbort AbortReason = "OperatorAbort"
)

// Chunk is one video chunk as submitted by a camera. Payload is opaque.
type Chunk struct {
	SequenceNumber  int64
	CapturedAtLocal int64 // client clock, ms
	Payload         []byte
}

type participant struct {
	cameraID  string
	position  position.Position
	estimator *clocksync.Estimator
	// offsetMs is the NTP-style offset: the amount to add to the camera's
	// clock reading to get server time. The camera's local instant for a
	// server instant T is therefore T minus offsetMs.
	offsetMs      int64
	ready         bool
	status        ParticipantStatus
	lastHeartbeat time.Time
	joinedAt      time.Time
	outbox        chan Push

	// chunk bookkeeping, owned solely by this participant's record
	nextSeq int64 // next expected sequence number, starts at 0
	pending int   // accepted chunks awaiting downstream persistence

	startAcked bool
	stopAcked  bool
}

// highestSeq is the highest accepted sequence number, -1 if none.
func (p *participant) highestSeq() int64 { return p.nextSeq - 1 }

// PushKind discriminates server-to-client push messages.
type PushKind string

const (
	PushEvent          PushKind = "event"
	PushStartRecording PushKind = "start_recording"
	PushStopRecording  PushKind = "stop_recording"
	PushAborted        PushKind = "aborted"
)

// Push is a server-initiated message delivered on a participant's outbox.
// The websocket layer serializes it; the session never touches the wire.
type Push struct {
	Kind         PushKind
	Event        string // for PushEvent: participant_joined, participant_left, dropout, reconnected, state_changed, closed
	CameraID     string // subject camera for participant events
	State        State  // session state at emit time
	LocalStartMs int64  // for PushStartRecording: start instant on the receiver's clock
	Reason       AbortReason
}

// View is a race-free snapshot of session state, served through the actor.
type View struct {
	ID            string
	JoinCode      string
	Arena         position.ArenaType
	State         State
	ExpectedCount int
	CreatedAt     time.Time
	AbortReason   AbortReason
	Participants  []ParticipantView
}

type ParticipantView struct {
	CameraID      string
	Position      position.Position
	Status        ParticipantStatus
	Ready         bool
	OffsetMs      int64
	LastHeartbeat time.Time
	HighestSeq    int64
	PendingChunks int
}
