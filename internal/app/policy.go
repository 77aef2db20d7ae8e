package app

import (
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what a local room does with a member that cannot keep up.
type Policy interface {
	OnBackPressure(room domain.RoomName, member core.MemberSession) BackpressureAction
}

// SimplePolicy drops frames for a slow member; a phone leg that stalls
// briefly recovers on its own.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomName, core.MemberSession) BackpressureAction {
	return DropFrame
}

// StrictPolicy evicts slow members from the fan-out.
type StrictPolicy struct{}

func (StrictPolicy) OnBackPressure(domain.RoomName, core.MemberSession) BackpressureAction {
	return KickMember
}
