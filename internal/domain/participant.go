// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxIdentityLen = 128

var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
)

// Identity names a participant inside a room.
type Identity string

// BridgeIdentity is the identity a call's bridge joins the room under.
func BridgeIdentity(prefix string, id CallID) Identity {
	return Identity(prefix + string(id))
}

func ParseIdentity(raw string) (Identity, error) {
	if len(raw) == 0 {
		return "", ErrIdentityEmpty
	}
	if len(raw) > MaxIdentityLen {
		return "", ErrIdentityTooLong
	}
	return Identity(raw), nil
}

// NewGuestIdentity is a tiny helper for browser participants that did not pick a name.
func NewGuestIdentity() Identity {
	return Identity("guest-" + uuid.NewString())
}
