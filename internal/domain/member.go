package domain

import "github.com/google/uuid"

type MemberID string

// Member represents a participant's presence in a local room.
// No transport or lifecycle logic here.
type Member struct {
	ID       MemberID
	Identity Identity
	Muted    bool
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(identity Identity) *Member {
	return &Member{ID: MemberID(uuid.NewString()), Identity: identity}
}
