// Package local is an in-process room gateway. Rooms live in memory and
// audio is fanned out between members as L16 RTP packets by sfu relays.
package local

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/callbridge/internal/app"
	"github.com/dkeye/callbridge/internal/app/sfu"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultPortSize = 50

type Gateway struct {
	Rooms    core.RoomManager
	Relays   *sfu.RelayManager
	Policy   app.Policy
	PortSize int

	// Serializes membership changes so fan-out wiring sees a stable room.
	mu sync.Mutex
}

func NewGateway(rooms core.RoomManager, relays *sfu.RelayManager, policy app.Policy) *Gateway {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Gateway{Rooms: rooms, Relays: relays, Policy: policy, PortSize: DefaultPortSize}
}

func (g *Gateway) Join(ctx context.Context, name domain.RoomName, identity domain.Identity) (core.RoomHandle, error) {
	if err := ctx.Err(); err != nil {
		reason := core.JoinReasonCanceled
		if errors.Is(err, context.DeadlineExceeded) {
			reason = core.JoinReasonTimeout
		}
		return nil, &core.JoinError{Room: name, Reason: reason, Err: err}
	}
	if _, err := domain.ParseRoomName(string(name)); err != nil {
		return nil, &core.JoinError{Room: name, Reason: core.JoinReasonUnavailable, Err: err}
	}
	if _, err := domain.ParseIdentity(string(identity)); err != nil {
		return nil, &core.JoinError{Room: name, Reason: core.JoinReasonAuth, Err: err}
	}

	port := sfu.NewPort(g.PortSize)
	member := core.NewMemberSession(domain.NewMember(identity), port)
	id := member.Meta().ID

	g.mu.Lock()
	defer g.mu.Unlock()

	room := g.Rooms.GetOrCreate(name)
	if err := room.AddMember(member); err != nil {
		port.Close()
		g.Rooms.StopRoomIfEmpty(name)
		return nil, &core.JoinError{Room: name, Reason: core.JoinReasonAuth, Err: err}
	}
	g.Relays.StartRelay(id, identity)
	for _, other := range room.Members() {
		otherID := other.Meta().ID
		if otherID == id {
			continue
		}
		g.Relays.Subscribe(otherID, member)
		g.Relays.Subscribe(id, other)
	}

	log.Info().
		Str("module", "adapters.local").
		Str("room", string(name)).
		Str("identity", string(identity)).
		Int("members", room.MemberCount()).
		Msg("joined")
	return &handle{gw: g, room: room, member: member, port: port, quit: make(chan struct{})}, nil
}

func (g *Gateway) leave(room core.RoomService, member core.MemberSession) {
	id := member.Meta().ID

	g.mu.Lock()
	defer g.mu.Unlock()

	g.Relays.StopRelay(id)
	for _, other := range room.Members() {
		g.Relays.Unsubscribe(other.Meta().ID, id)
	}
	room.RemoveMember(id)
	member.Port().Close()
	g.Rooms.StopRoomIfEmpty(room.Name())

	log.Info().
		Str("module", "adapters.local").
		Str("room", string(room.Name())).
		Str("identity", string(member.Meta().Identity)).
		Msg("left")
}

// onBackPressure applies the policy to members that could not take a frame.
func (g *Gateway) onBackPressure(room core.RoomService, src domain.MemberID, slow []domain.MemberID) {
	if len(slow) == 0 {
		return
	}
	byID := make(map[domain.MemberID]core.MemberSession, len(slow))
	for _, ms := range room.Members() {
		byID[ms.Meta().ID] = ms
	}
	for _, dst := range slow {
		ms, ok := byID[dst]
		if !ok {
			continue
		}
		switch g.Policy.OnBackPressure(room.Name(), ms) {
		case app.KickMember:
			log.Warn().
				Str("module", "adapters.local").
				Str("room", string(room.Name())).
				Str("identity", string(ms.Meta().Identity)).
				Msg("slow member dropped from fan-out")
			g.Relays.Unsubscribe(src, dst)
		case app.DropFrame, app.NoAction:
		}
	}
}
