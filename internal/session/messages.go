package session

import (
	"time"

	"github.com/JustinCarm001/MLAApp-sub001/internal/clocksync"
	"github.com/JustinCarm001/MLAApp-sub001/internal/position"
)

type Msg interface{ isSessionMsg() }

// Join adds a camera to the session, or reattaches a known camera after a
// dropped connection (same cameraID keeps its position and sequence numbers).
type Join struct {
	CameraID string
	Outbox   chan Push
	Reply    chan JoinReply
}

type JoinReply struct {
	Position position.Position
	Plan     position.Plan
	Arena    position.ArenaType
	Err      error
}

// Leave removes a participant and frees its slot. Idempotent.
type Leave struct{ CameraID string }

// SyncReport records one completed clock round trip for a camera.
type SyncReport struct {
	CameraID string
	Sample   clocksync.Sample
}

// ReportReady marks a camera ready for recording once its clock offset is
// estimable. Replies clocksync.ErrInsufficientSamples to demand a full retry.
type ReportReady struct {
	CameraID string
	Reply    chan error
}

// StartAck acknowledges receipt of the start broadcast.
type StartAck struct{ CameraID string }

// StopAck acknowledges the flush-and-stop instruction.
type StopAck struct{ CameraID string }

// Heartbeat is a liveness ping.
type Heartbeat struct {
	CameraID string
	At       time.Time
}

// SubmitChunk offers one video chunk for ingestion.
type SubmitChunk struct {
	CameraID string
	Chunk    Chunk
	Reply    chan error
}

// OperatorStart moves the session from open to synchronizing.
type OperatorStart struct{ Reply chan error }

// OperatorStop moves a recording session to stopping.
type OperatorStop struct{ Reply chan error }

// OperatorAbort aborts the session from any non-terminal state.
type OperatorAbort struct {
	Reason AbortReason
	Reply  chan error
}

// GetState snapshots session state without data races.
type GetState struct{ Reply chan View }

type Shutdown struct{}

// deadlineFired is the generation-tagged expiry of the current state deadline
// (readiness window, ack timeout, or drain timeout). Stale generations are
// dropped so a superseded timer can never fire into a newer state.
type deadlineFired struct{ gen int }

// sweepTick drives the heartbeat liveness sweep.
type sweepTick struct{}

// chunkPersisted reports the outcome of one downstream persistence job.
type chunkPersisted struct {
	cameraID string
	seq      int64
	err      error
}

func (Join) isSessionMsg()           {}
func (Leave) isSessionMsg()          {}
func (SyncReport) isSessionMsg()     {}
func (ReportReady) isSessionMsg()    {}
func (StartAck) isSessionMsg()       {}
func (StopAck) isSessionMsg()        {}
func (Heartbeat) isSessionMsg()      {}
func (SubmitChunk) isSessionMsg()    {}
func (OperatorStart) isSessionMsg()  {}
func (OperatorStop) isSessionMsg()   {}
func (OperatorAbort) isSessionMsg()  {}
func (GetState) isSessionMsg()       {}
func (Shutdown) isSessionMsg()       {}
func (deadlineFired) isSessionMsg()  {}
func (sweepTick) isSessionMsg()      {}
func (chunkPersisted) isSessionMsg() {}
