package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JustinCarm001/MLAApp-sub001/internal/archive"
)

const persistTimeout = 30 * time.Second

// handleSubmitChunk enforces the per-camera ingestion contract: chunks are
// accepted only from live participants of a recording session, only in
// exactly-next sequence order, and only while that camera's persistence
// queue has room.
func (s *Session) handleSubmitChunk(msg SubmitChunk) error {
	if s.state != StateRecording && s.state != StateStopping {
		return ErrUnknownParticipant
	}
	p, ok := s.parts[msg.CameraID]
	if !ok || p.status == StatusLeft {
		return ErrUnknownParticipant
	}
	if msg.Chunk.SequenceNumber != p.nextSeq {
		return ErrOutOfOrder
	}
	if p.pending >= s.proto.ChunkQueueLimit {
		return ErrBackpressure
	}

	p.nextSeq++
	p.pending++
	// Never blocks: persistQ capacity covers every camera at its queue limit.
	s.persistQ <- persistJob{cameraID: msg.CameraID, chunk: msg.Chunk}
	return nil
}

func (s *Session) handleChunkPersisted(msg chunkPersisted) {
	if msg.err != nil {
		s.log.Error("chunk persistence failed",
			zap.String("camera_id", msg.cameraID),
			zap.Int64("seq", msg.seq),
			zap.Error(msg.err))
	}
	if p, ok := s.parts[msg.cameraID]; ok {
		if p.pending > 0 {
			p.pending--
		}
	}
}

// persistLoop drains accepted chunks to the archive, decoupled from the
// actor goroutine so a slow sink shows up as backpressure to the one camera
// that outruns it, never as a stall of the session. The queue is closed at
// shutdown and drained to empty first: a chunk the client was told was
// accepted is never dropped, even at session close. Writes run against their
// own context so cancelling the session cannot void one mid-flight.
func (s *Session) persistLoop() {
	defer close(s.persistDone)
	for job := range s.persistQ {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := s.rec.RecordChunk(ctx, archive.ChunkRecord{
			SessionID:       s.id,
			CameraID:        job.cameraID,
			SequenceNumber:  job.chunk.SequenceNumber,
			CapturedAtLocal: job.chunk.CapturedAtLocal,
			SizeBytes:       int64(len(job.chunk.Payload)),
			Payload:         job.chunk.Payload,
			ReceivedAt:      s.clock.Now(),
		})
		cancel()
		select {
		case s.inbox <- chunkPersisted{cameraID: job.cameraID, seq: job.chunk.SequenceNumber, err: err}:
		case <-s.stopped:
		}
	}
}
