package core

import (
	"errors"
	"time"

	"github.com/dkeye/callbridge/internal/domain"
)

var ErrIdentityInUse = errors.New("identity already in room")

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID       domain.MemberID `json:"id"`
	Identity domain.Identity `json:"identity"`
}

// RoomService is the core-facing API of a local room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Name() domain.RoomName
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Members() []MemberSession

	AddMember(ms MemberSession) error
	RemoveMember(id domain.MemberID)
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
	Created     time.Time       `json:"created"`
}

type RoomManager interface {
	GetOrCreate(name domain.RoomName) RoomService
	Get(name domain.RoomName) (RoomService, bool)
	List() []RoomInfo
	StopRoomIfEmpty(name domain.RoomName) bool
}
