package livekit

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/callbridge/internal/codec"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	media "github.com/livekit/media-sdk"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const audioBuffer = 100

// pcmPublisher is the part of the local track a handle needs.
type pcmPublisher interface {
	WriteSample(sample media.PCM16Sample) error
}

type handle struct {
	name     domain.RoomName
	identity domain.Identity
	logger   zerolog.Logger

	mu      sync.RWMutex
	room    *lksdk.Room
	track   pcmPublisher
	unpub   func()
	remotes map[string]*lkmedia.PCMRemoteTrack
	closed  bool
	audio   chan core.RoomAudio

	leaveOnce sync.Once
	dropWarn  rate.Sometimes
}

func newHandle(name domain.RoomName, identity domain.Identity) *handle {
	return &handle{
		name:     name,
		identity: identity,
		logger: log.With().
			Str("module", "adapters.livekit").
			Str("room", string(name)).
			Str("identity", string(identity)).
			Logger(),
		remotes:  make(map[string]*lkmedia.PCMRemoteTrack),
		audio:    make(chan core.RoomAudio, audioBuffer),
		dropWarn: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

func (h *handle) attach(room *lksdk.Room, track pcmPublisher, unpub func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.room = room
	h.track = track
	h.unpub = unpub
}

func (h *handle) Publish(_ context.Context, dir domain.Direction, samples []int16) error {
	if dir != domain.DirectionCallerToRoom {
		return core.ErrWrongDirection
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed || h.track == nil {
		return core.ErrHandleReleased
	}
	return h.track.WriteSample(media.PCM16Sample(samples))
}

func (h *handle) Subscribe(dir domain.Direction) (<-chan core.RoomAudio, error) {
	if dir != domain.DirectionRoomToCaller {
		return nil, core.ErrWrongDirection
	}
	return h.audio, nil
}

func (h *handle) Leave(context.Context) error {
	h.leaveOnce.Do(func() {
		h.mu.RLock()
		room := h.room
		h.mu.RUnlock()
		if room != nil {
			room.Disconnect()
		}
		h.release()
		h.logger.Info().Msg("left")
	})
	return nil
}

// release closes every local resource. Safe to call more than once.
func (h *handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sid, rt := range h.remotes {
		rt.Close()
		delete(h.remotes, sid)
	}
	if h.unpub != nil {
		h.unpub()
	}
	close(h.audio)
}

func (h *handle) onDisconnected() {
	h.logger.Warn().Msg("room connection lost")
	h.release()
}

func (h *handle) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	src := domain.Identity(rp.Identity())
	w := &roomWriter{h: h, source: src}
	rt, err := lkmedia.NewPCMRemoteTrack(track, w,
		lkmedia.WithTargetSampleRate(codec.SampleRate),
		lkmedia.WithTargetChannels(1),
		lkmedia.WithHandleJitter(true),
	)
	if err != nil {
		h.logger.Error().Err(err).Str("source", string(src)).Msg("remote track")
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		rt.Close()
		return
	}
	h.remotes[pub.SID()] = rt
	h.mu.Unlock()
	h.logger.Info().Str("source", string(src)).Str("track", pub.SID()).Msg("subscribed to remote audio")
}

func (h *handle) onTrackUnsubscribed(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	h.mu.Lock()
	rt, ok := h.remotes[pub.SID()]
	delete(h.remotes, pub.SID())
	h.mu.Unlock()
	if ok {
		rt.Close()
		h.logger.Info().Str("source", rp.Identity()).Str("track", pub.SID()).Msg("remote audio gone")
	}
}

// deliver never blocks the SDK's media goroutine; a full stream drops.
func (h *handle) deliver(a core.RoomAudio) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.audio <- a:
	default:
		h.dropWarn.Do(func() { h.logger.Warn().Msg("room audio backlog, dropping") })
	}
}

// roomWriter receives one participant's resampled PCM from the SDK.
type roomWriter struct {
	h      *handle
	source domain.Identity
}

func (w *roomWriter) String() string  { return "callbridge(" + string(w.source) + ")" }
func (w *roomWriter) SampleRate() int { return codec.SampleRate }

func (w *roomWriter) WriteSample(sample media.PCM16Sample) error {
	if len(sample) == 0 {
		return nil
	}
	w.h.deliver(core.RoomAudio{Source: w.source, Samples: append([]int16(nil), sample...)})
	return nil
}

func (w *roomWriter) Close() error { return nil }
