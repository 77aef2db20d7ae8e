package core

import (
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/pion/rtp"
)

// Delivery is one packet fanned out to a member, with its publisher.
type Delivery struct {
	Source domain.Identity
	Packet *rtp.Packet
}

// MediaPort is a member's receive side in a local room.
// Owned by the adapter; the adapter must Close() it.
type MediaPort interface {
	TrySend(Delivery) error
	Close()
}

// MemberSession binds domain.Member and its media endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Port() MediaPort
}
