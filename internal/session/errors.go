package session

import "errors"

var (
	ErrSessionFull        = errors.New("session full")
	ErrSessionNotOpen     = errors.New("session not accepting joins")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrOutOfOrder         = errors.New("chunk sequence out of order")
	ErrBackpressure       = errors.New("chunk queue full")
	ErrInvalidState       = errors.New("operation not valid in current state")
)
