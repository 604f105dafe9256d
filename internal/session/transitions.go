package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JustinCarm001/MLAApp-sub001/internal/archive"
)

// startSynchronizing handles the operator's explicit request to begin. The
// transition is never automatic on reaching the expected count; a human
// confirms intent.
func (s *Session) startSynchronizing() error {
	if s.state != StateOpen {
		return ErrInvalidState
	}
	if len(s.parts) == 0 {
		return ErrInvalidState
	}
	s.state = StateSynchronizing
	for _, p := range s.parts {
		if p.status == StatusJoined {
			p.status = StatusSynchronizing
		}
	}
	s.log.Info("synchronizing", zap.Int("participants", len(s.parts)))
	s.broadcastEvent("state_changed", "")
	s.armDeadline(s.proto.ReadinessWindow)

	// Cameras that finished their exchange while the session was still open
	// may already all be ready.
	if s.allReady() {
		s.toArmed()
	}
	return nil
}

// toArmed computes one common future start instant and unicasts each camera
// its own local start instant, corrected by that camera's clock offset.
func (s *Session) toArmed() {
	s.state = StateArmed
	tStart := s.clock.Now().Add(s.proto.GuardInterval)
	serverStartMs := tStart.UnixMilli()
	s.log.Info("armed", zap.Int64("t_start_ms", serverStartMs))
	for _, p := range s.parts {
		p.startAcked = false
		s.send(p, Push{
			Kind:         PushStartRecording,
			State:        s.state,
			LocalStartMs: serverStartMs - p.offsetMs,
		})
	}
	s.armDeadline(s.proto.AckTimeout)
}

// toRecording runs either when every participant acknowledged the start
// broadcast or when the ack timeout elapsed. A missed ack does not block:
// the camera acts on its locally computed deadline regardless.
func (s *Session) toRecording() {
	s.state = StateRecording
	for _, p := range s.parts {
		if p.status == StatusReady {
			p.status = StatusRecording
		}
		if !p.startAcked {
			s.log.Warn("start not acknowledged", zap.String("camera_id", p.cameraID))
		}
	}
	s.gen++ // invalidate the ack timer if it has not fired
	s.log.Info("recording")
	s.broadcastEvent("state_changed", "")
}

func (s *Session) startStopping() error {
	if s.state != StateRecording {
		return ErrInvalidState
	}
	s.state = StateStopping
	s.log.Info("stopping")
	for _, p := range s.parts {
		p.stopAcked = false
		s.send(p, Push{Kind: PushStopRecording, State: s.state})
	}
	s.armDeadline(s.proto.DrainTimeout)
	return nil
}

func (s *Session) operatorAbort(reason AbortReason) error {
	if s.state.Terminal() {
		return ErrInvalidState
	}
	if reason == "" {
		reason = ReasonOperatorAbort
	}
	s.abort(reason)
	return nil
}

// handleDeadline receives the current-generation state deadline expiry.
func (s *Session) handleDeadline() {
	switch s.state {
	case StateSynchronizing:
		// At least one participant failed to report ready in time. Partial
		// starts are disallowed, so the whole session aborts and every
		// participant learns why.
		for _, p := range s.parts {
			if !p.ready {
				s.log.Warn("sync timeout", zap.String("camera_id", p.cameraID))
			}
		}
		s.abort(ReasonSyncTimeout)

	case StateArmed:
		s.toRecording()

	case StateStopping:
		for _, p := range s.parts {
			if !p.stopAcked {
				s.log.Warn("stop not acknowledged", zap.String("camera_id", p.cameraID))
			}
		}
		s.toClosed()
	}
}

func (s *Session) abort(reason AbortReason) {
	s.abortReason = reason
	s.state = StateAborted
	s.broadcast(Push{Kind: PushAborted, Reason: reason})
	s.log.Warn("aborted", zap.String("reason", string(reason)))
}

func (s *Session) toClosed() {
	s.state = StateClosed
	s.broadcastEvent("closed", "")
	s.log.Info("closed")
}

// archiveFinal durably records the roster, assignments and accepted-chunk
// ranges for downstream compilation. It runs from shutdown, after the chunk
// queue has drained, so the recorded ranges only cover durable chunks.
func (s *Session) archiveFinal() {
	rec := archive.SessionRecord{
		ID:          s.id,
		JoinCode:    s.joinCode,
		ArenaType:   string(s.arena),
		FinalState:  string(s.state),
		AbortReason: string(s.abortReason),
		CreatedAt:   s.createdAt,
		FinishedAt:  s.clock.Now(),
	}
	for _, id := range s.order {
		p := s.parts[id]
		rec.Participants = append(rec.Participants, archive.ParticipantRecord{
			SessionID:   s.id,
			CameraID:    p.cameraID,
			Position:    string(p.position),
			ClockOffset: p.offsetMs,
			FinalStatus: string(p.status),
			HighestSeq:  p.highestSeq(),
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.rec.RecordSession(ctx, rec); err != nil {
		s.log.Error("archive session record failed", zap.Error(err))
	}
}
