package local

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/callbridge/internal/app/sfu"
	"github.com/dkeye/callbridge/internal/codec"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/rs/zerolog/log"
)

type handle struct {
	gw     *Gateway
	room   core.RoomService
	member core.MemberSession
	port   *sfu.Port

	released  atomic.Bool
	leaveOnce sync.Once
	quit      chan struct{}

	subOnce sync.Once
	audio   chan core.RoomAudio
}

func (h *handle) Publish(_ context.Context, dir domain.Direction, samples []int16) error {
	if dir != domain.DirectionCallerToRoom {
		return core.ErrWrongDirection
	}
	if h.released.Load() {
		return core.ErrHandleReleased
	}
	id := h.member.Meta().ID
	res, err := h.gw.Relays.Publish(id, samples)
	if err != nil {
		return err
	}
	h.gw.onBackPressure(h.room, id, res.Dropped)
	return nil
}

// Subscribe converts the member's deliveries back to PCM. Repeated calls
// return the same stream.
func (h *handle) Subscribe(dir domain.Direction) (<-chan core.RoomAudio, error) {
	if dir != domain.DirectionRoomToCaller {
		return nil, core.ErrWrongDirection
	}
	h.subOnce.Do(func() {
		h.audio = make(chan core.RoomAudio, cap(h.port.C()))
		go h.depacketize()
	})
	return h.audio, nil
}

func (h *handle) depacketize() {
	defer close(h.audio)
	for d := range h.port.C() {
		samples, err := codec.PCMFromL16(d.Packet.Payload)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.local").Msg("bad L16 payload")
			continue
		}
		select {
		case h.audio <- core.RoomAudio{Source: d.Source, Samples: samples}:
		case <-h.quit:
			return
		}
	}
}

func (h *handle) Leave(context.Context) error {
	h.leaveOnce.Do(func() {
		h.released.Store(true)
		close(h.quit)
		h.gw.leave(h.room, h.member)
	})
	return nil
}
