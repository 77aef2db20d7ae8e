package core

import (
	"context"

	"github.com/dkeye/callbridge/internal/domain"
)

// RoomAudio is one chunk of linear PCM heard in the room, tagged with the
// participant that published it.
type RoomAudio struct {
	Source  domain.Identity
	Samples []int16
}

// RoomGateway abstracts the real-time room service.
// Join must honour ctx; a failed join returns *JoinError.
type RoomGateway interface {
	Join(ctx context.Context, room domain.RoomName, identity domain.Identity) (RoomHandle, error)
}

// RoomHandle is one live presence in a room. It is owned by exactly one
// bridge session and never shared with other sessions.
type RoomHandle interface {
	// Publish sends caller audio into the room. Calls for one handle are
	// delivered in order.
	Publish(ctx context.Context, dir domain.Direction, samples []int16) error
	// Subscribe returns the room's audio for this participant. The channel is
	// closed when the handle is released or the remote side goes away.
	Subscribe(dir domain.Direction) (<-chan RoomAudio, error)
	// Leave releases the presence. Safe to call more than once.
	Leave(ctx context.Context) error
}
