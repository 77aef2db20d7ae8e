package sfu

import (
	"sync/atomic"

	"github.com/dkeye/callbridge/internal/core"
)

// SubState is the delivery state of one member's subscription to a relay.
type SubState int32

const (
	SubActive SubState = iota
	SubPaused
	SubRemoved
)

// Subscription delivers a publisher's packets to one member's port.
// The relay owns it; policies flip its state from other goroutines.
type Subscription struct {
	Member core.MemberSession
	state  atomic.Int32
}

func NewSubscription(member core.MemberSession) *Subscription {
	return &Subscription{Member: member}
}

func (s *Subscription) State() SubState { return SubState(s.state.Load()) }

func (s *Subscription) Resume() { s.state.Store(int32(SubActive)) }

// Pause keeps the member subscribed but skips delivery.
func (s *Subscription) Pause() { s.state.Store(int32(SubPaused)) }

// Remove is final; the relay drops the subscription on its next publish.
func (s *Subscription) Remove() { s.state.Store(int32(SubRemoved)) }

// deliver hands d to the member's port. A paused subscription reports
// delivered=false with no error.
func (s *Subscription) deliver(d core.Delivery) (delivered bool, err error) {
	if s.State() != SubActive {
		return false, nil
	}
	if err := s.Member.Port().TrySend(d); err != nil {
		return false, err
	}
	return true, nil
}
