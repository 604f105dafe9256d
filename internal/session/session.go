package session

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/JustinCarm001/MLAApp-sub001/internal/archive"
	"github.com/JustinCarm001/MLAApp-sub001/internal/clocksync"
	"github.com/JustinCarm001/MLAApp-sub001/internal/config"
	"github.com/JustinCarm001/MLAApp-sub001/internal/position"
)

// Session is one coordinated recording session. All state is owned by a
// single goroutine; every interaction goes through the inbox, so concurrent
// joins, readiness reports and chunk submissions are serialized against a
// consistent snapshot. Sessions never contend with each other.
type Session struct {
	inbox  chan Msg
	ctx    context.Context
	cancel context.CancelFunc

	id            string
	joinCode      string
	arena         position.ArenaType
	expectedCount int
	createdAt     time.Time

	state       State
	abortReason AbortReason
	plan        position.Plan
	order       []string // cameraIDs in join order
	parts       map[string]*participant

	gen int // current deadline generation

	clock clockwork.Clock
	proto config.Protocol
	log   *zap.Logger
	rec   archive.Recorder

	persistQ    chan persistJob
	persistDone chan struct{} // closed when persistLoop exits with persistQ empty
	stopped     chan struct{} // closed at shutdown; persistence feedback stops

	onTerminal func() // invoked once from the actor goroutine at closed/aborted
}

type persistJob struct {
	cameraID string
	chunk    Chunk
}

// New creates a session actor and starts its goroutine. onTerminal is called
// exactly once when the session reaches a terminal state; the registry uses
// it to release the join code.
func New(parent context.Context, id, joinCode string, plan position.Plan, expectedCount int,
	proto config.Protocol, clock clockwork.Clock, rec archive.Recorder, log *zap.Logger, onTerminal func()) *Session {

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:         make(chan Msg, 64),
		ctx:           ctx,
		cancel:        cancel,
		id:            id,
		joinCode:      joinCode,
		arena:         plan.Arena,
		expectedCount: expectedCount,
		createdAt:     clock.Now(),
		state:         StateOpen,
		plan:          plan,
		parts:         make(map[string]*participant),
		clock:         clock,
		proto:         proto,
		log:           log.With(zap.String("session_id", id), zap.String("join_code", joinCode)),
		rec:           rec,
		persistQ:      make(chan persistJob, proto.MaxCameras*proto.ChunkQueueLimit),
		persistDone:   make(chan struct{}),
		stopped:       make(chan struct{}),
		onTerminal:    onTerminal,
	}
	go s.loop()
	go s.persistLoop()
	go s.sweepLoop()
	return s
}

// Inbox exposes the message channel to the transport layers and tests.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// JoinCode returns the session's join code.
func (s *Session) JoinCode() string { return s.joinCode }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- s.handleJoin(msg)
			case Leave:
				s.handleLeave(msg.CameraID)
			case SyncReport:
				s.handleSyncReport(msg)
			case ReportReady:
				msg.Reply <- s.handleReportReady(msg.CameraID)
			case StartAck:
				s.handleStartAck(msg.CameraID)
			case StopAck:
				s.handleStopAck(msg.CameraID)
			case Heartbeat:
				s.handleHeartbeat(msg)
			case SubmitChunk:
				msg.Reply <- s.handleSubmitChunk(msg)
			case chunkPersisted:
				s.handleChunkPersisted(msg)
			case OperatorStart:
				msg.Reply <- s.startSynchronizing()
			case OperatorStop:
				msg.Reply <- s.startStopping()
			case OperatorAbort:
				msg.Reply <- s.operatorAbort(msg.Reason)
			case deadlineFired:
				if msg.gen == s.gen {
					s.handleDeadline()
				}
			case sweepTick:
				s.sweep()
			case GetState:
				msg.Reply <- s.view()
			case Shutdown:
				s.shutdown()
				return
			}

			if s.state.Terminal() {
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) handleJoin(msg Join) JoinReply {
	// Reattach: a known camera reconnecting keeps its slot and sequencing.
	if p, ok := s.parts[msg.CameraID]; ok && p.status != StatusLeft {
		if p.outbox != nil {
			close(p.outbox)
		}
		p.outbox = msg.Outbox
		p.lastHeartbeat = s.clock.Now()
		if p.status == StatusDisconnected {
			p.status = s.restoredStatus(p)
			s.broadcastEvent("reconnected", p.cameraID)
		}
		return JoinReply{Position: p.position, Plan: s.plan, Arena: s.arena}
	}

	if s.state != StateOpen {
		return JoinReply{Err: ErrSessionNotOpen}
	}

	pos, ok := s.nextFreePosition()
	if !ok {
		return JoinReply{Err: ErrSessionFull}
	}

	now := s.clock.Now()
	p := &participant{
		cameraID:      msg.CameraID,
		position:      pos,
		estimator:     clocksync.NewEstimator(s.clock, s.proto.SyncWindow, s.proto.SyncMinSamples),
		status:        StatusJoined,
		lastHeartbeat: now,
		joinedAt:      now,
		outbox:        msg.Outbox,
	}
	s.parts[msg.CameraID] = p
	s.order = append(s.order, msg.CameraID)
	s.log.Info("participant joined",
		zap.String("camera_id", msg.CameraID), zap.String("position", string(pos)))
	s.broadcastEvent("participant_joined", msg.CameraID)
	return JoinReply{Position: pos, Plan: s.plan, Arena: s.arena}
}

// nextFreePosition walks the plan in priority order and returns the first
// slot not held by a current participant. A disconnected participant still
// holds its slot; only an explicit leave frees it.
func (s *Session) nextFreePosition() (position.Position, bool) {
	for _, pos := range s.plan.Positions {
		taken := false
		for _, p := range s.parts {
			if p.status != StatusLeft && p.position == pos {
				taken = true
				break
			}
		}
		if !taken {
			return pos, true
		}
	}
	return "", false
}

func (s *Session) handleLeave(cameraID string) {
	p, ok := s.parts[cameraID]
	if !ok || p.status == StatusLeft {
		return // idempotent
	}
	p.status = StatusLeft
	if p.outbox != nil {
		close(p.outbox)
		p.outbox = nil
	}
	delete(s.parts, cameraID)
	for i, id := range s.order {
		if id == cameraID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.log.Info("participant left", zap.String("camera_id", cameraID))
	s.broadcastEvent("participant_left", cameraID)

	// An emptied session closes no matter what phase it was in; there is
	// nothing left to coordinate and the join code should be released.
	if len(s.parts) == 0 && !s.state.Terminal() {
		s.toClosed()
	}
}

func (s *Session) handleSyncReport(msg SyncReport) {
	p, ok := s.parts[msg.CameraID]
	if !ok {
		return
	}
	if s.state == StateOpen || s.state == StateSynchronizing {
		p.estimator.Add(msg.Sample)
		if p.status == StatusJoined {
			p.status = StatusSynchronizing
		}
	}
}

func (s *Session) handleReportReady(cameraID string) error {
	p, ok := s.parts[cameraID]
	if !ok {
		return ErrUnknownParticipant
	}
	if s.state != StateOpen && s.state != StateSynchronizing {
		return ErrInvalidState
	}
	off, err := p.estimator.Best()
	if err != nil {
		// The whole exchange is retried, never partially accepted.
		p.estimator.Reset()
		return err
	}
	p.offsetMs = off
	p.ready = true
	p.status = StatusReady
	s.log.Info("participant ready",
		zap.String("camera_id", cameraID), zap.Int64("offset_ms", off))

	if s.state == StateSynchronizing && s.allReady() {
		s.toArmed()
	}
	return nil
}

func (s *Session) handleStartAck(cameraID string) {
	p, ok := s.parts[cameraID]
	if !ok || s.state != StateArmed {
		return
	}
	p.startAcked = true
	if s.allAcked(func(p *participant) bool { return p.startAcked }) {
		s.toRecording()
	}
}

func (s *Session) handleStopAck(cameraID string) {
	p, ok := s.parts[cameraID]
	if !ok || s.state != StateStopping {
		return
	}
	p.stopAcked = true
	if s.allAcked(func(p *participant) bool { return p.stopAcked }) {
		s.toClosed()
	}
}

func (s *Session) handleHeartbeat(msg Heartbeat) {
	p, ok := s.parts[msg.CameraID]
	if !ok {
		return
	}
	p.lastHeartbeat = msg.At
	if p.status == StatusDisconnected {
		p.status = s.restoredStatus(p)
		s.log.Info("participant reconnected", zap.String("camera_id", msg.CameraID))
		s.broadcastEvent("reconnected", msg.CameraID)
	}
}

// restoredStatus maps a reconnecting participant back to the status implied
// by the session state. Reconnection, not rejoin: position and sequence
// numbering are untouched.
func (s *Session) restoredStatus(p *participant) ParticipantStatus {
	switch s.state {
	case StateRecording, StateStopping:
		return StatusRecording
	case StateArmed:
		return StatusReady
	case StateSynchronizing:
		if p.ready {
			return StatusReady
		}
		return StatusSynchronizing
	default:
		return StatusJoined
	}
}

// sweep marks participants whose last heartbeat is older than 3x the
// heartbeat period as disconnected. They are not removed: a disconnected
// camera may still hold recoverable footage.
func (s *Session) sweep() {
	if s.state.Terminal() {
		return
	}
	cutoff := s.clock.Now().Add(-3 * s.proto.HeartbeatPeriod)
	for _, p := range s.parts {
		if p.status == StatusDisconnected || p.status == StatusLeft {
			continue
		}
		if p.lastHeartbeat.Before(cutoff) {
			p.status = StatusDisconnected
			s.log.Warn("participant dropout", zap.String("camera_id", p.cameraID),
				zap.Time("last_heartbeat", p.lastHeartbeat))
			s.broadcastEvent("dropout", p.cameraID)
		}
	}
}

func (s *Session) allReady() bool {
	if len(s.parts) == 0 {
		return false
	}
	for _, p := range s.parts {
		if !p.ready {
			return false
		}
	}
	return true
}

func (s *Session) allAcked(acked func(*participant) bool) bool {
	for _, p := range s.parts {
		if p.status == StatusDisconnected {
			continue // a dead camera must not stall the others
		}
		if !acked(p) {
			return false
		}
	}
	return true
}

func (s *Session) view() View {
	v := View{
		ID:            s.id,
		JoinCode:      s.joinCode,
		Arena:         s.arena,
		State:         s.state,
		ExpectedCount: s.expectedCount,
		CreatedAt:     s.createdAt,
		AbortReason:   s.abortReason,
	}
	for _, id := range s.order {
		p := s.parts[id]
		v.Participants = append(v.Participants, ParticipantView{
			CameraID:      p.cameraID,
			Position:      p.position,
			Status:        p.status,
			Ready:         p.ready,
			OffsetMs:      p.offsetMs,
			LastHeartbeat: p.lastHeartbeat,
			HighestSeq:    p.highestSeq(),
			PendingChunks: p.pending,
		})
	}
	return v
}

// broadcast sends a push to every attached participant. A participant whose
// outbox is full loses the connection, not the slot: the channel is closed
// and the camera is expected to reconnect.
func (s *Session) broadcast(push Push) {
	push.State = s.state
	for _, p := range s.parts {
		s.send(p, push)
	}
}

func (s *Session) send(p *participant, push Push) {
	if p.outbox == nil {
		return
	}
	select {
	case p.outbox <- push:
	default:
		close(p.outbox)
		p.outbox = nil
	}
}

func (s *Session) broadcastEvent(event, cameraID string) {
	s.broadcast(Push{Kind: PushEvent, Event: event, CameraID: cameraID})
}

// armDeadline supersedes any in-flight state deadline with a new one.
func (s *Session) armDeadline(d time.Duration) {
	s.gen++
	gen := s.gen
	s.clock.AfterFunc(d, func() {
		select {
		case s.inbox <- deadlineFired{gen: gen}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Session) sweepLoop() {
	t := s.clock.NewTicker(s.proto.HeartbeatPeriod)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.Chan():
			select {
			case s.inbox <- sweepTick{}:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Session) shutdown() {
	for _, p := range s.parts {
		if p.outbox != nil {
			close(p.outbox)
			p.outbox = nil
		}
	}

	// Every chunk a camera was told was accepted must reach the archive
	// before the final record claims its range. Only the loop goroutine
	// sends on persistQ, so closing it here is safe.
	close(s.stopped)
	close(s.persistQ)
	select {
	case <-s.persistDone:
	case <-s.clock.After(s.proto.DrainTimeout):
		s.log.Warn("chunk drain timed out at shutdown")
	}

	if s.state.Terminal() {
		s.archiveFinal()
	}
	if s.onTerminal != nil {
		s.onTerminal()
		s.onTerminal = nil
	}
	s.cancel()
}
