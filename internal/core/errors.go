package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/callbridge/internal/domain"
)

var (
	ErrBackpressure   = errors.New("backpressure")
	ErrHandleReleased = errors.New("room handle released")
	ErrUnknownCall    = errors.New("unknown call")
	ErrSessionClosed  = errors.New("session closed")
	ErrWrongDirection = errors.New("direction not supported")
)

type JoinReason string

const (
	JoinReasonAuth        JoinReason = "auth"
	JoinReasonUnavailable JoinReason = "room_unavailable"
	JoinReasonTimeout     JoinReason = "timeout"
	JoinReasonCanceled    JoinReason = "canceled"
	JoinReasonTransport   JoinReason = "transport"
)

// JoinError is fatal for the session that issued the join.
type JoinError struct {
	Room   domain.RoomName
	Reason JoinReason
	Err    error
}

func (e *JoinError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("join room %q: %s: %v", e.Room, e.Reason, e.Err)
	}
	return fmt.Sprintf("join room %q: %s", e.Room, e.Reason)
}

func (e *JoinError) Unwrap() error { return e.Err }

// PublishError covers one frame; the session stays up.
type PublishError struct {
	Seq uint64
	Err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publish frame %d: %v", e.Seq, e.Err) }
func (e *PublishError) Unwrap() error { return e.Err }

// TeardownError is logged; local cleanup proceeds regardless.
type TeardownError struct {
	Call domain.CallID
	Err  error
}

func (e *TeardownError) Error() string { return fmt.Sprintf("teardown %s: %v", e.Call, e.Err) }
func (e *TeardownError) Unwrap() error { return e.Err }

// DuplicateSessionError rejects a start for a call that already has a live session.
type DuplicateSessionError struct {
	Call domain.CallID
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session for call %s already exists", e.Call)
}
