// Package orch routes transport events for many calls to their bridge
// sessions.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dkeye/callbridge/internal/app"
	"github.com/dkeye/callbridge/internal/app/bridge"
	"github.com/dkeye/callbridge/internal/codec"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrMissingCallID = errors.New("start without call id")
	ErrShuttingDown  = errors.New("shutting down")
)

// StartEvent is what the transport knows when a media stream begins.
type StartEvent struct {
	Call   domain.CallID
	Room   string
	Format domain.MediaFormat
}

type Orchestrator struct {
	Registry       *app.SessionRegistry
	Gateway        core.RoomGateway
	Config         bridge.Config
	IdentityPrefix string
	Metrics        bridge.Metrics

	closing     atomic.Bool
	unknownWarn rate.Sometimes
}

func New(reg *app.SessionRegistry, gw core.RoomGateway, cfg bridge.Config, identityPrefix string, m bridge.Metrics) *Orchestrator {
	return &Orchestrator{
		Registry:       reg,
		Gateway:        gw,
		Config:         cfg,
		IdentityPrefix: identityPrefix,
		Metrics:        m,
		unknownWarn:    rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// OnStart creates and starts the bridge session for a new call. A second
// start for a live call is rejected and leaves the running session alone.
func (o *Orchestrator) OnStart(ctx context.Context, ev StartEvent, sink core.MediaSink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.closing.Load() {
		return ErrShuttingDown
	}
	if ev.Call == "" {
		return ErrMissingCallID
	}
	room, err := domain.ParseRoomName(ev.Room)
	if err != nil {
		return fmt.Errorf("call %s: %w", ev.Call, err)
	}
	c, err := codec.Lookup(ev.Format.Encoding, ev.Format.SampleRate, ev.Format.Channels)
	if err != nil {
		return fmt.Errorf("call %s: %w", ev.Call, err)
	}
	identity := domain.BridgeIdentity(o.IdentityPrefix, ev.Call)

	s, created := o.Registry.GetOrCreate(ev.Call, func() *bridge.Session {
		return bridge.New(bridge.Params{
			Call:     ev.Call,
			Room:     room,
			Identity: identity,
			Codec:    c,
			Gateway:  o.Gateway,
			Sink:     sink,
			Config:   o.Config,
			Metrics:  o.Metrics,
			OnClosed: o.onClosed,
		})
	})
	if !created {
		err := &core.DuplicateSessionError{Call: ev.Call}
		log.Warn().
			Str("module", "orch").
			Err(err).
			Str("room", string(s.Room())).
			Str("state", s.State().String()).
			Msg("duplicate start rejected")
		return err
	}

	if err := o.admit(s); err != nil {
		return err
	}
	log.Info().
		Str("module", "orch").
		Str("call_id", string(ev.Call)).
		Str("room", string(room)).
		Str("codec", c.Name()).
		Msg("bridge starting")
	return nil
}

// admit starts a freshly registered session. A session that was inserted
// after Shutdown took its snapshot is closed here instead.
func (o *Orchestrator) admit(s *bridge.Session) error {
	if o.closing.Load() {
		s.Stop(bridge.CloseShutdown)
		s.Start()
		return ErrShuttingDown
	}
	s.Start()
	return nil
}

// OnMedia routes one frame from the stream behind sink. Frames for calls
// without a session owned by that stream are dropped, never used to
// resurrect one.
func (o *Orchestrator) OnMedia(call domain.CallID, sink core.MediaSink, f domain.AudioFrame) error {
	s, ok := o.owned(call, sink)
	if !ok {
		o.unknownWarn.Do(func() {
			log.Warn().Str("module", "orch").Str("call_id", string(call)).Msg("media for unknown call dropped")
		})
		return core.ErrUnknownCall
	}
	return s.Push(f)
}

// OnStop handles a normal end of the stream behind sink.
func (o *Orchestrator) OnStop(call domain.CallID, sink core.MediaSink) {
	o.stop(call, sink, bridge.CloseNormal)
}

// OnDisconnect handles the stream behind sink going away, with or without a stop.
func (o *Orchestrator) OnDisconnect(call domain.CallID, sink core.MediaSink) {
	o.stop(call, sink, bridge.CloseDisconnect)
}

// EndCall stops a call whatever stream carries it. Used when the carrier
// reports the call finished.
func (o *Orchestrator) EndCall(call domain.CallID) {
	o.stop(call, nil, bridge.CloseNormal)
}

// owned finds the session for call. A non-nil sink must be the one the
// session emits to; streams never act on another stream's session.
func (o *Orchestrator) owned(call domain.CallID, sink core.MediaSink) (*bridge.Session, bool) {
	s, ok := o.Registry.Get(call)
	if !ok {
		return nil, false
	}
	if sink != nil && s.Sink() != sink {
		return nil, false
	}
	return s, true
}

func (o *Orchestrator) stop(call domain.CallID, sink core.MediaSink, reason bridge.CloseReason) {
	s, ok := o.owned(call, sink)
	if !ok {
		log.Debug().Str("module", "orch").Str("call_id", string(call)).Str("reason", string(reason)).Msg("stop for unknown call")
		return
	}
	s.Stop(reason)
}

// EvictRoom stops every bridge into room and reports how many were asked to stop.
func (o *Orchestrator) EvictRoom(room domain.RoomName) int {
	n := 0
	for _, info := range o.Registry.Snapshot() {
		if info.Room != room {
			continue
		}
		if s, ok := o.Registry.Get(info.Call); ok {
			s.Stop(bridge.CloseNormal)
			n++
		}
	}
	log.Info().Str("module", "orch").Str("room", string(room)).Int("sessions", n).Msg("room evicted")
	return n
}

// Shutdown refuses new calls and closes every live session.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closing.Store(true)
	return o.Registry.CloseAll(ctx, bridge.CloseShutdown)
}

func (o *Orchestrator) onClosed(s *bridge.Session) {
	o.Registry.Remove(s.Call(), s)
}
