package bridge

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/looplab/fsm"
)

// State is the lifecycle stage of a bridge session.
type State int32

const (
	StateInitializing State = iota
	StateJoining
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateJoining:
		return "JOINING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

func (s State) IsTerminal() bool { return s == StateClosed }

func stringToState(name string) State {
	switch name {
	case "INITIALIZING":
		return StateInitializing
	case "JOINING":
		return StateJoining
	case "ACTIVE":
		return StateActive
	case "CLOSING":
		return StateClosing
	case "CLOSED":
		return StateClosed
	default:
		return StateClosed
	}
}

const (
	eventJoin   = "join"
	eventJoined = "joined"
	eventFail   = "fail"
	eventAbort  = "abort"
	eventStop   = "stop"
	eventClosed = "closed"
)

// machine guards the transition table. Only the session's run goroutine
// fires events; observers read the mirrored atomic.
type machine struct {
	fsm     *fsm.FSM
	current atomic.Int32
}

func newMachine(onChange func(from, to State)) *machine {
	m := &machine{}
	m.fsm = fsm.NewFSM(
		StateInitializing.String(),
		fsm.Events{
			{Name: eventJoin, Src: []string{StateInitializing.String()}, Dst: StateJoining.String()},
			{Name: eventJoined, Src: []string{StateJoining.String()}, Dst: StateActive.String()},
			{Name: eventFail, Src: []string{StateJoining.String()}, Dst: StateClosed.String()},
			{Name: eventAbort, Src: []string{StateInitializing.String(), StateJoining.String()}, Dst: StateClosed.String()},
			{Name: eventStop, Src: []string{StateActive.String()}, Dst: StateClosing.String()},
			{Name: eventClosed, Src: []string{StateClosing.String()}, Dst: StateClosed.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				to := stringToState(e.Dst)
				m.current.Store(int32(to))
				if onChange != nil {
					onChange(stringToState(e.Src), to)
				}
			},
		},
	)
	return m
}

func (m *machine) fire(event string) error {
	return m.fsm.Event(context.Background(), event)
}

func (m *machine) state() State {
	return State(m.current.Load())
}
