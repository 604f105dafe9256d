package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/JustinCarm001/MLAApp-sub001/internal/clocksync"
	"github.com/JustinCarm001/MLAApp-sub001/internal/registry"
	"github.com/JustinCarm001/MLAApp-sub001/internal/session"
	"github.com/JustinCarm001/MLAApp-sub001/internal/types"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 60 * time.Second
	replyWait    = 2 * time.Second
)

// Handler is the camera-client connection: join by code, clock-sync round
// trips, readiness, heartbeats, and server pushes (start instant, stop,
// abort, events).
func Handler(reg *registry.Registry, clock clockwork.Clock, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		cameraID := r.URL.Query().Get("camera_id")
		if code == "" || cameraID == "" {
			http.Error(w, "missing code or camera_id", http.StatusBadRequest)
			return
		}

		reply := make(chan *session.Session, 1)
		reg.Inbox() <- registry.GetByCode{Code: code, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan session.Push, 16)
		joinReply := make(chan session.JoinReply, 1)
		var jr session.JoinReply
		select {
		case sess.Inbox() <- session.Join{CameraID: cameraID, Outbox: out, Reply: joinReply}:
		case <-time.After(replyWait):
			// The session went terminal between lookup and join.
			writeMsg(r.Context(), conn, types.ServerMessage{Type: "error", Error: "SessionNotFound"})
			return
		}
		select {
		case jr = <-joinReply:
		case <-time.After(replyWait):
			writeMsg(r.Context(), conn, types.ServerMessage{Type: "error", Error: "SessionNotFound"})
			return
		}
		if jr.Err != nil {
			writeMsg(r.Context(), conn, types.ServerMessage{Type: "error", Error: errorCode(jr.Err)})
			return
		}

		writeMsg(r.Context(), conn, types.ServerMessage{
			Type:      "joined",
			Position:  jr.Position,
			Plan:      jr.Plan.Positions,
			ArenaType: jr.Arena,
		})

		// Writer goroutine: pushes from the session actor. The session closes
		// the outbox on leave, terminal state, or when this connection falls
		// too far behind; cancelling writeCtx then unblocks the reader, so a
		// dead session never leaves this handler parked on an inbox send.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for push := range out {
				writeMsg(writeCtx, conn, pushToMessage(push))
			}
			writeCancel()
		}()

		// send gives up once the session stops consuming its inbox.
		send := func(m session.Msg) bool {
			select {
			case sess.Inbox() <- m:
				return true
			case <-writeCtx.Done():
				return false
			}
		}

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(writeCtx, readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				// No Leave on read failure: a dropped connection keeps its
				// slot so the camera can reconnect. The heartbeat sweep
				// handles real dropouts.
				return
			}
			t1 := clock.Now().UnixMilli()

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeMsg(writeCtx, conn, types.ServerMessage{Type: "error", Error: "bad json"})
				continue
			}

			switch cm.Type {
			case "sync":
				// Round trip leg two: stamp receipt and reply immediately.
				writeMsg(writeCtx, conn, types.ServerMessage{
					Type: "sync_reply",
					T0:   cm.T0,
					T1:   t1,
					T2:   clock.Now().UnixMilli(),
				})

			case "sync_report":
				if !send(session.SyncReport{CameraID: cameraID, Sample: sampleFrom(cm)}) {
					return
				}

			case "ready":
				errReply := make(chan error, 1)
				if !send(session.ReportReady{CameraID: cameraID, Reply: errReply}) {
					return
				}
				select {
				case err := <-errReply:
					if err != nil {
						writeMsg(writeCtx, conn, types.ServerMessage{Type: "error", Error: errorCode(err)})
					}
				case <-time.After(replyWait):
					return
				}

			case "heartbeat":
				if !send(session.Heartbeat{CameraID: cameraID, At: clock.Now()}) {
					return
				}

			case "start_ack":
				if !send(session.StartAck{CameraID: cameraID}) {
					return
				}

			case "stop_ack":
				if !send(session.StopAck{CameraID: cameraID}) {
					return
				}

			case "leave":
				send(session.Leave{CameraID: cameraID})
				return

			default:
				writeMsg(writeCtx, conn, types.ServerMessage{Type: "error", Error: "unknown type"})
			}
		}
	}
}

func sampleFrom(cm types.ClientMessage) clocksync.Sample {
	return clocksync.Sample{T0: cm.T0, T1: cm.T1, T2: cm.T2, T3: cm.T3}
}

func pushToMessage(push session.Push) types.ServerMessage {
	switch push.Kind {
	case session.PushStartRecording:
		return types.ServerMessage{
			Type:         "start_recording",
			SessionState: push.State,
			LocalStartMs: push.LocalStartMs,
		}
	case session.PushStopRecording:
		return types.ServerMessage{Type: "stop_recording", SessionState: push.State}
	case session.PushAborted:
		return types.ServerMessage{Type: "aborted", Reason: string(push.Reason), SessionState: push.State}
	default:
		return types.ServerMessage{
			Type:         "event",
			Event:        push.Event,
			CameraID:     push.CameraID,
			SessionState: push.State,
		}
	}
}

func writeMsg(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, _ := json.Marshal(msg)
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	_ = conn.Write(wctx, websocket.MessageText, payload)
	cancel()
}

func errorCode(err error) string {
	switch err {
	case session.ErrSessionFull:
		return "SessionFull"
	case session.ErrSessionNotOpen:
		return "SessionNotFound"
	case session.ErrUnknownParticipant:
		return "UnknownParticipant"
	case session.ErrInvalidState:
		return "InvalidState"
	case clocksync.ErrInsufficientSamples:
		return "InsufficientSamples"
	default:
		return err.Error()
	}
}
