package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JustinCarm001/MLAApp-sub001/internal/position"
	"github.com/JustinCarm001/MLAApp-sub001/internal/registry"
	"github.com/JustinCarm001/MLAApp-sub001/internal/session"
)

// replyWait bounds every wait on an actor reply; a session that went
// terminal between lookup and send must not hang the request.
const replyWait = 2 * time.Second

type API struct {
	reg *registry.Registry
	log *zap.Logger
}

func NewAPI(reg *registry.Registry, log *zap.Logger) *API {
	return &API{reg: reg, log: log}
}

type createGameRequest struct {
	ArenaType       string `json:"arena_type"`
	ExpectedCameras int    `json:"expected_cameras"`
}

type createGameResponse struct {
	ID            string `json:"id"`
	JoinCode      string `json:"join_code"`
	OperatorToken string `json:"operator_token"`
}

// CreateGame opens a new session and returns its join code plus the operator
// token that guards the privileged controls.
func (a *API) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "bad json")
		return
	}
	arena, err := position.ParseArena(req.ArenaType)
	if err != nil {
		httpError(w, http.StatusBadRequest, "UnknownArenaType")
		return
	}

	reply := make(chan registry.CreateReply, 1)
	a.reg.Inbox() <- registry.CreateSession{Arena: arena, ExpectedCount: req.ExpectedCameras, Reply: reply}
	res := <-reply
	if res.Err != nil {
		if errors.Is(res.Err, registry.ErrBadCameraCount) {
			httpError(w, http.StatusBadRequest, res.Err.Error())
			return
		}
		httpError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, createGameResponse{
		ID:            res.Session.ID(),
		JoinCode:      res.JoinCode,
		OperatorToken: res.OperatorToken,
	})
}

// GetGame returns a read-only snapshot of a session.
func (a *API) GetGame(w http.ResponseWriter, r *http.Request) {
	entry, ok := a.lookup(chi.URLParam(r, "id"))
	if !ok {
		httpError(w, http.StatusNotFound, "SessionNotFound")
		return
	}
	reply := make(chan session.View, 1)
	entry.Session.Inbox() <- session.GetState{Reply: reply}
	select {
	case v := <-reply:
		writeJSON(w, http.StatusOK, viewToJSON(v))
	case <-time.After(replyWait):
		httpError(w, http.StatusNotFound, "SessionNotFound")
	}
}

// StartSync, StopGame and AbortGame are the operator controls. They require
// the operator token issued at create.
func (a *API) StartSync(w http.ResponseWriter, r *http.Request) {
	a.operatorCall(w, r, func(s *session.Session, reply chan error) {
		s.Inbox() <- session.OperatorStart{Reply: reply}
	})
}

func (a *API) StopGame(w http.ResponseWriter, r *http.Request) {
	a.operatorCall(w, r, func(s *session.Session, reply chan error) {
		s.Inbox() <- session.OperatorStop{Reply: reply}
	})
}

func (a *API) AbortGame(w http.ResponseWriter, r *http.Request) {
	a.operatorCall(w, r, func(s *session.Session, reply chan error) {
		s.Inbox() <- session.OperatorAbort{Reason: session.ReasonOperatorAbort, Reply: reply}
	})
}

func (a *API) operatorCall(w http.ResponseWriter, r *http.Request, send func(*session.Session, chan error)) {
	entry, ok := a.lookup(chi.URLParam(r, "id"))
	if !ok {
		httpError(w, http.StatusNotFound, "SessionNotFound")
		return
	}
	if r.Header.Get("X-Operator-Token") != entry.OperatorToken {
		httpError(w, http.StatusForbidden, "operator token required")
		return
	}
	reply := make(chan error, 1)
	send(entry.Session, reply)
	select {
	case err := <-reply:
		if err != nil {
			httpError(w, http.StatusConflict, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case <-time.After(replyWait):
		httpError(w, http.StatusNotFound, "SessionNotFound")
	}
}

// SubmitChunk ingests one video chunk. The payload is the request body;
// sequencing metadata rides in headers.
func (a *API) SubmitChunk(w http.ResponseWriter, r *http.Request) {
	entry, ok := a.lookup(chi.URLParam(r, "id"))
	if !ok {
		httpError(w, http.StatusNotFound, "SessionNotFound")
		return
	}
	cameraID := r.Header.Get("X-Camera-Id")
	seq, err := strconv.ParseInt(r.Header.Get("X-Sequence-Number"), 10, 64)
	if cameraID == "" || err != nil {
		httpError(w, http.StatusBadRequest, "missing camera or sequence header")
		return
	}
	capturedAt, _ := strconv.ParseInt(r.Header.Get("X-Captured-At"), 10, 64)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httpError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	reply := make(chan error, 1)
	entry.Session.Inbox() <- session.SubmitChunk{
		CameraID: cameraID,
		Chunk: session.Chunk{
			SequenceNumber:  seq,
			CapturedAtLocal: capturedAt,
			Payload:         payload,
		},
		Reply: reply,
	}

	select {
	case err := <-reply:
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
		case errors.Is(err, session.ErrOutOfOrder):
			httpError(w, http.StatusConflict, "OutOfOrder")
		case errors.Is(err, session.ErrBackpressure):
			httpError(w, http.StatusTooManyRequests, "Backpressure")
		case errors.Is(err, session.ErrUnknownParticipant):
			httpError(w, http.StatusNotFound, "UnknownParticipant")
		default:
			httpError(w, http.StatusInternalServerError, err.Error())
		}
	case <-time.After(replyWait):
		httpError(w, http.StatusNotFound, "SessionNotFound")
	}
}

// ArenaTypes lists the configured arenas and their camera capacity.
func (a *API) ArenaTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"arena_types": position.Arenas()})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "multicam-coordinator",
	})
}

func (a *API) lookup(id string) (registry.Entry, bool) {
	reply := make(chan registry.Entry, 1)
	a.reg.Inbox() <- registry.GetByID{ID: id, Reply: reply}
	entry := <-reply
	return entry, entry.Session != nil
}

type participantJSON struct {
	CameraID   string `json:"camera_id"`
	Position   string `json:"position"`
	Status     string `json:"status"`
	Ready      bool   `json:"ready"`
	OffsetMs   int64  `json:"offset_ms"`
	HighestSeq int64  `json:"highest_seq"`
}

type viewJSON struct {
	ID              string            `json:"id"`
	JoinCode        string            `json:"join_code"`
	ArenaType       string            `json:"arena_type"`
	State           string            `json:"state"`
	ExpectedCameras int               `json:"expected_cameras"`
	CreatedAt       time.Time         `json:"created_at"`
	AbortReason     string            `json:"abort_reason,omitempty"`
	Participants    []participantJSON `json:"participants"`
}

func viewToJSON(v session.View) viewJSON {
	out := viewJSON{
		ID:              v.ID,
		JoinCode:        v.JoinCode,
		ArenaType:       string(v.Arena),
		State:           string(v.State),
		ExpectedCameras: v.ExpectedCount,
		CreatedAt:       v.CreatedAt,
		AbortReason:     string(v.AbortReason),
		Participants:    []participantJSON{},
	}
	for _, p := range v.Participants {
		out.Participants = append(out.Participants, participantJSON{
			CameraID:   p.CameraID,
			Position:   string(p.Position),
			Status:     string(p.Status),
			Ready:      p.Ready,
			OffsetMs:   p.OffsetMs,
			HighestSeq: p.HighestSeq,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
