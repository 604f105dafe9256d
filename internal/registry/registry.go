package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/JustinCarm001/MLAApp-sub001/internal/archive"
	"github.com/JustinCarm001/MLAApp-sub001/internal/config"
	"github.com/JustinCarm001/MLAApp-sub001/internal/position"
	"github.com/JustinCarm001/MLAApp-sub001/internal/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBadCameraCount  = errors.New("camera count out of range")
)

const codeLength = 6

type Msg interface{ isRegistryMsg() }

// CreateSession opens a new session with a freshly reserved join code.
type CreateSession struct {
	Arena         position.ArenaType
	ExpectedCount int
	Reply         chan CreateReply
}

type CreateReply struct {
	Session       *session.Session
	JoinCode      string
	OperatorToken string
	Err           error
}

// GetByCode looks up an open session by its join code. The code is
// case-insensitive; it is normalized to uppercase here.
type GetByCode struct {
	Code  string
	Reply chan *session.Session
}

// GetByID looks up a session and its operator token.
type GetByID struct {
	ID    string
	Reply chan Entry
}

type Entry struct {
	Session       *session.Session
	OperatorToken string
}

// Remove releases a session's join code. Sent by the session itself when it
// reaches a terminal state.
type Remove struct{ ID string }

type ShutdownRegistry struct{}

func (CreateSession) isRegistryMsg()    {}
func (GetByCode) isRegistryMsg()        {}
func (GetByID) isRegistryMsg()          {}
func (Remove) isRegistryMsg()           {}
func (ShutdownRegistry) isRegistryMsg() {}

type entry struct {
	sess  *session.Session
	code  string
	token string
}

// Registry owns the join-code namespace. Code generation and reservation
// happen inside one goroutine, so two concurrent creates can never commit
// the same code.
type Registry struct {
	inbox  chan Msg
	byCode map[string]*entry
	byID   map[string]*entry

	proto  config.Protocol
	clock  clockwork.Clock
	rec    archive.Recorder
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, proto config.Protocol, clock clockwork.Clock, rec archive.Recorder, log *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:  make(chan Msg, 64),
		byCode: make(map[string]*entry),
		byID:   make(map[string]*entry),
		proto:  proto,
		clock:  clock,
		rec:    rec,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	go r.loop()
	return r
}

func (r *Registry) Inbox() chan<- Msg { return r.inbox }

func (r *Registry) loop() {
	for {
		select {
		case <-r.ctx.Done():
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case CreateSession:
				msg.Reply <- r.create(msg)

			case GetByCode:
				code := NormalizeCode(msg.Code)
				if e, ok := r.byCode[code]; ok {
					msg.Reply <- e.sess
				} else {
					msg.Reply <- nil
				}

			case GetByID:
				if e, ok := r.byID[msg.ID]; ok {
					msg.Reply <- Entry{Session: e.sess, OperatorToken: e.token}
				} else {
					msg.Reply <- Entry{}
				}

			case Remove:
				if e, ok := r.byID[msg.ID]; ok {
					delete(r.byCode, e.code)
					delete(r.byID, msg.ID)
				}

			case ShutdownRegistry:
				for _, e := range r.byID {
					e.sess.Inbox() <- session.Shutdown{}
				}
				clear(r.byCode)
				clear(r.byID)
				r.cancel()
				return
			}
		}
	}
}

func (r *Registry) create(msg CreateSession) CreateReply {
	if msg.ExpectedCount < r.proto.MinCameras || msg.ExpectedCount > r.proto.MaxCameras {
		return CreateReply{Err: ErrBadCameraCount}
	}
	plan, err := position.ResolvePlan(msg.Arena, msg.ExpectedCount)
	if err != nil {
		return CreateReply{Err: err}
	}

	// Collisions regenerate, they never fail the create.
	var code string
	for {
		c, err := generateCode()
		if err != nil {
			return CreateReply{Err: err}
		}
		if _, taken := r.byCode[c]; !taken {
			code = c
			break
		}
		r.log.Info("join code collision, regenerating")
	}

	id := uuid.New().String()
	token := uuid.New().String()
	sess := session.New(r.ctx, id, code, plan, msg.ExpectedCount, r.proto, r.clock, r.rec, r.log,
		func() {
			select {
			case r.inbox <- Remove{ID: id}:
			case <-r.ctx.Done():
			}
		})

	e := &entry{sess: sess, code: code, token: token}
	r.byCode[code] = e
	r.byID[id] = e
	r.log.Info("session created",
		zap.String("session_id", id),
		zap.String("join_code", code),
		zap.String("arena", string(msg.Arena)),
		zap.Int("expected_cameras", msg.ExpectedCount))
	return CreateReply{Session: sess, JoinCode: code, OperatorToken: token}
}

// NormalizeCode uppercases a human-entered join code.
func NormalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

func generateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, codeLength)
	for i := 0; i < codeLength; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}
