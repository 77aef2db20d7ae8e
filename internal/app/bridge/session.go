// Package bridge runs one phone call's audio bridge to a room.
//
// A Session is an actor: a single goroutine owns its state, its pending
// buffer and its room handle. Transport events reach it through a bounded
// mailbox, the room join runs on its own goroutine and reports back, and
// room audio is pumped to the phone leg by a third goroutine.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/callbridge/internal/codec"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"
)

// ErrRoomDisconnected closes an ACTIVE session whose room stream ended
// without a local stop.
var ErrRoomDisconnected = errors.New("room disconnected")

// CloseReason explains why a session reached CLOSED.
type CloseReason string

const (
	CloseNormal      CloseReason = "normal"
	CloseDisconnect  CloseReason = "disconnect"
	CloseJoinFailed  CloseReason = "join_failed"
	CloseJoinTimeout CloseReason = "join_timeout"
	CloseShutdown    CloseReason = "shutdown"
)

type Config struct {
	JoinTimeout         time.Duration
	LeaveTimeout        time.Duration
	BufferMaxFrames     int
	BufferMaxDuration   time.Duration
	MailboxSize         int
	CounterpartIdentity domain.Identity
	CounterpartIdle     time.Duration
}

func DefaultConfig() Config {
	return Config{
		JoinTimeout:       10 * time.Second,
		LeaveTimeout:      5 * time.Second,
		BufferMaxFrames:   250,
		BufferMaxDuration: 5 * time.Second,
		MailboxSize:       64,
		CounterpartIdle:   2 * time.Second,
	}
}

type Params struct {
	Call     domain.CallID
	Room     domain.RoomName
	Identity domain.Identity
	Codec    codec.Codec
	Gateway  core.RoomGateway
	Sink     core.MediaSink
	Config   Config
	Metrics  Metrics
	// OnClosed runs on the session goroutine after CLOSED and before Done
	// is closed.
	OnClosed func(*Session)
}

// Info is a point-in-time view for the HTTP API.
type Info struct {
	Call      domain.CallID   `json:"call_id"`
	Room      domain.RoomName `json:"room"`
	Identity  domain.Identity `json:"identity"`
	State     string          `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	Published uint64          `json:"frames_published"`
	Emitted   uint64          `json:"frames_emitted"`
	Dropped   uint64          `json:"frames_dropped"`
}

type joinResult struct {
	handle core.RoomHandle
	err    error
	took   time.Duration
}

type Session struct {
	call     domain.CallID
	room     domain.RoomName
	identity domain.Identity
	codec    codec.Codec
	gateway  core.RoomGateway
	sink     core.MediaSink
	cfg      Config
	metrics  Metrics
	onClosed func(*Session)
	logger   zerolog.Logger

	createdAt time.Time
	machine   *machine

	// Owned by the run goroutine.
	buffer  *FrameBuffer
	handle  core.RoomHandle
	nextSeq uint64

	// Owned by the pump goroutine.
	peer *counterpart

	ctx    context.Context
	cancel context.CancelFunc
	pumps  conc.WaitGroup

	mailbox    chan domain.AudioFrame
	stopOnce   sync.Once
	stopReq    chan struct{}
	stopReason CloseReason
	started    atomic.Bool
	done       chan struct{}

	closeMu     sync.Mutex
	closeReason CloseReason
	closeErr    error

	published atomic.Uint64
	emitted   atomic.Uint64
	dropped   atomic.Uint64

	warnEvery rate.Sometimes
}

// New allocates a session in INITIALIZING. Nothing runs until Start.
func New(p Params) *Session {
	cfg := p.Config
	def := DefaultConfig()
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = def.MailboxSize
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	if cfg.LeaveTimeout <= 0 {
		cfg.LeaveTimeout = def.LeaveTimeout
	}
	m := p.Metrics
	if m == nil {
		m = NopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		call:      p.Call,
		room:      p.Room,
		identity:  p.Identity,
		codec:     p.Codec,
		gateway:   p.Gateway,
		sink:      p.Sink,
		cfg:       cfg,
		metrics:   m,
		onClosed:  p.OnClosed,
		createdAt: time.Now(),
		buffer:    NewFrameBuffer(cfg.BufferMaxFrames, cfg.BufferMaxDuration),
		peer:      newCounterpart(cfg.CounterpartIdentity, cfg.CounterpartIdle),
		ctx:       ctx,
		cancel:    cancel,
		mailbox:   make(chan domain.AudioFrame, cfg.MailboxSize),
		stopReq:   make(chan struct{}),
		done:      make(chan struct{}),
		warnEvery: rate.Sometimes{First: 3, Interval: 5 * time.Second},
	}
	s.logger = log.With().
		Str("module", "bridge").
		Str("session", uuid.NewString()).
		Str("call_id", string(p.Call)).
		Str("room", string(p.Room)).
		Str("identity", string(p.Identity)).
		Logger()
	s.machine = newMachine(s.onTransition)
	return s
}

func (s *Session) Call() domain.CallID       { return s.call }
func (s *Session) Room() domain.RoomName     { return s.room }
func (s *Session) Identity() domain.Identity { return s.identity }
func (s *Session) State() State              { return s.machine.state() }

// Sink is the transport leg this session emits to. It identifies the stream
// that owns the session.
func (s *Session) Sink() core.MediaSink { return s.sink }

// Done is closed once the session is CLOSED and has left the registry.
func (s *Session) Done() <-chan struct{} { return s.done }

// CloseReason is valid after Done is closed.
func (s *Session) CloseReason() (CloseReason, error) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closeReason, s.closeErr
}

func (s *Session) Info() Info {
	return Info{
		Call:      s.call,
		Room:      s.room,
		Identity:  s.identity,
		State:     s.State().String(),
		CreatedAt: s.createdAt,
		Published: s.published.Load(),
		Emitted:   s.emitted.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Start begins the room join. Only the first call has an effect.
func (s *Session) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.metrics.SessionStarted()
	go s.run()
}

// Push hands one frame from the phone leg to the session. It blocks while
// the mailbox is full and fails once the session is stopping.
func (s *Session) Push(f domain.AudioFrame) error {
	select {
	case <-s.stopReq:
		return core.ErrSessionClosed
	case <-s.done:
		return core.ErrSessionClosed
	default:
	}
	select {
	case s.mailbox <- f:
		return nil
	case <-s.stopReq:
		return core.ErrSessionClosed
	case <-s.done:
		return core.ErrSessionClosed
	}
}

// Stop requests teardown. Later calls are no-ops and keep the first reason.
func (s *Session) Stop(reason CloseReason) {
	s.stopOnce.Do(func() {
		s.stopReason = reason
		close(s.stopReq)
	})
}

func (s *Session) run() {
	s.transition(eventJoin)

	select {
	case <-s.stopReq:
		s.transition(eventAbort)
		s.finish(s.stopReason, nil)
		return
	default:
	}

	joinCtx, cancelJoin := context.WithTimeout(s.ctx, s.cfg.JoinTimeout)
	results := make(chan joinResult)
	abandoned := make(chan struct{})
	go s.join(joinCtx, results, abandoned)

	res, reason, ok := s.awaitJoin(results)
	close(abandoned)
	cancelJoin()
	if !ok {
		s.abortJoin(reason, res.err)
		return
	}

	s.handle = res.handle
	s.metrics.JoinDuration(res.took)
	s.transition(eventJoined)
	s.logger.Info().Dur("took", res.took).Int("buffered", s.buffer.Len()).Msg("joined room")

	for _, f := range s.buffer.DrainInOrder() {
		s.publish(f)
	}
	s.active()
}

// awaitJoin buffers caller audio until the join settles. ok is false when
// the session must close without ever becoming ACTIVE.
func (s *Session) awaitJoin(results <-chan joinResult) (joinResult, CloseReason, bool) {
	timer := time.NewTimer(s.cfg.JoinTimeout)
	defer timer.Stop()
	for {
		select {
		case res := <-results:
			if res.err == nil {
				return res, "", true
			}
			jerr := asJoinError(s.room, res.err)
			if jerr.Reason == core.JoinReasonTimeout {
				return joinResult{err: jerr}, CloseJoinTimeout, false
			}
			return joinResult{err: jerr}, CloseJoinFailed, false
		case <-timer.C:
			jerr := &core.JoinError{Room: s.room, Reason: core.JoinReasonTimeout, Err: context.DeadlineExceeded}
			return joinResult{err: jerr}, CloseJoinTimeout, false
		case f := <-s.mailbox:
			s.bufferFrame(f)
		case <-s.stopReq:
			return joinResult{}, s.stopReason, false
		}
	}
}

func (s *Session) abortJoin(reason CloseReason, err error) {
	discarded := s.buffer.Discard()
	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Warn().Err(err)
		s.transition(eventFail)
	} else {
		s.transition(eventAbort)
	}
	ev.Str("reason", string(reason)).Int("discarded", discarded).Msg("join abandoned")
	s.finish(reason, err)
}

// join runs off the session goroutine. A handle that arrives after the
// session gave up on it is released here.
func (s *Session) join(ctx context.Context, results chan<- joinResult, abandoned <-chan struct{}) {
	started := time.Now()
	h, err := s.gateway.Join(ctx, s.room, s.identity)
	res := joinResult{handle: h, err: err, took: time.Since(started)}
	if err != nil {
		res.handle = nil
	}
	select {
	case results <- res:
	case <-abandoned:
		if res.handle == nil {
			return
		}
		s.logger.Info().Msg("releasing late room handle")
		s.leave(res.handle)
	}
}

func (s *Session) active() {
	audio, err := s.handle.Subscribe(domain.DirectionRoomToCaller)
	var pumpDone chan struct{}
	if err != nil {
		s.logger.Warn().Err(err).Msg("room audio unavailable, caller will hear nothing")
	} else {
		pumpDone = make(chan struct{})
		s.pumps.Go(func() {
			defer close(pumpDone)
			s.pump(audio)
		})
	}

	for {
		select {
		case f := <-s.mailbox:
			s.handleFrame(f)
		case <-s.stopReq:
			s.drainMailbox()
			s.teardown(s.stopReason, nil)
			return
		case <-pumpDone:
			s.logger.Warn().Msg("room stream ended")
			s.teardown(CloseDisconnect, ErrRoomDisconnected)
			return
		}
	}
}

func (s *Session) drainMailbox() {
	for {
		select {
		case f := <-s.mailbox:
			s.handleFrame(f)
		default:
			return
		}
	}
}

func (s *Session) teardown(reason CloseReason, cause error) {
	s.transition(eventStop)
	s.cancel()
	s.leave(s.handle)
	s.handle = nil
	s.transition(eventClosed)
	s.finish(reason, cause)
}

// leave is bounded by LeaveTimeout. The handle counts as released either way.
func (s *Session) leave(h core.RoomHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LeaveTimeout)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- h.Leave(ctx) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		terr := &core.TeardownError{Call: s.call, Err: err}
		s.logger.Warn().Err(terr).Msg("leave failed, local state released")
	}
}

func (s *Session) finish(reason CloseReason, cause error) {
	s.cancel()
	s.pumps.Wait()

	s.closeMu.Lock()
	s.closeReason = reason
	s.closeErr = cause
	s.closeMu.Unlock()

	s.logger.Info().
		Str("reason", string(reason)).
		Uint64("published", s.published.Load()).
		Uint64("emitted", s.emitted.Load()).
		Uint64("dropped", s.dropped.Load()).
		Msg("session closed")
	s.metrics.SessionClosed(reason)
	if cause != nil && s.sink != nil {
		s.sink.BridgeFailed(cause)
	}
	if s.onClosed != nil {
		s.onClosed(s)
	}
	close(s.done)
}

func (s *Session) transition(event string) {
	if err := s.machine.fire(event); err != nil {
		s.logger.Error().Err(err).Str("event", event).Str("state", s.State().String()).Msg("invalid transition")
	}
}

func (s *Session) onTransition(from, to State) {
	s.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	s.metrics.StateChanged(from, to)
}

func (s *Session) bufferFrame(f domain.AudioFrame) {
	if !s.accept(&f) {
		return
	}
	if n := s.buffer.Push(f); n > 0 {
		s.drop(DropOverflow, n)
		s.warnEvery.Do(func() {
			s.logger.Warn().Uint64("dropped_total", s.buffer.Dropped()).Msg("join buffer full, dropped oldest audio")
		})
	}
}

func (s *Session) handleFrame(f domain.AudioFrame) {
	if !s.accept(&f) {
		return
	}
	s.publish(f)
}

// accept stamps the arrival sequence and filters out far-end audio, which
// the room already produced.
func (s *Session) accept(f *domain.AudioFrame) bool {
	s.nextSeq++
	f.Seq = s.nextSeq
	if f.Track != domain.TrackInbound {
		s.drop(DropFarEnd, 1)
		return false
	}
	return true
}

func (s *Session) publish(f domain.AudioFrame) {
	var pc panics.Catcher
	pc.Try(func() {
		samples, err := s.codec.Decode(f.Payload)
		if err != nil {
			s.drop(DropDecode, 1)
			s.warnEvery.Do(func() {
				s.logger.Warn().Err(err).Uint64("seq", f.Seq).Msg("undecodable frame dropped")
			})
			return
		}
		if err := s.handle.Publish(s.ctx, domain.DirectionCallerToRoom, samples); err != nil {
			perr := &core.PublishError{Seq: f.Seq, Err: err}
			s.drop(DropPublish, 1)
			s.warnEvery.Do(func() {
				s.logger.Warn().Err(perr).Msg("publish failed, frame dropped")
			})
			return
		}
		s.published.Add(1)
		s.metrics.FramePublished()
	})
	if r := pc.Recovered(); r != nil {
		s.drop(DropPanic, 1)
		s.logger.Error().Err(r.AsError()).Uint64("seq", f.Seq).Msg("panic while publishing frame")
	}
}

func (s *Session) pump(audio <-chan core.RoomAudio) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case a, ok := <-audio:
			if !ok {
				return
			}
			s.emit(a)
		}
	}
}

func (s *Session) emit(a core.RoomAudio) {
	var pc panics.Catcher
	pc.Try(func() {
		if !s.peer.accept(a.Source) {
			s.drop(DropNotCounterpart, 1)
			return
		}
		payload, err := s.codec.Encode(a.Samples)
		if err != nil {
			s.drop(DropEmit, 1)
			return
		}
		if err := s.sink.TrySend(payload); err != nil {
			s.drop(DropEmit, 1)
			s.warnEvery.Do(func() {
				s.logger.Warn().Err(err).Str("source", string(a.Source)).Msg("phone leg not keeping up")
			})
			return
		}
		s.emitted.Add(1)
		s.metrics.FrameEmitted()
	})
	if r := pc.Recovered(); r != nil {
		s.drop(DropPanic, 1)
		s.logger.Error().Err(r.AsError()).Msg("panic while emitting room audio")
	}
}

func (s *Session) drop(reason DropReason, n int) {
	s.dropped.Add(uint64(n))
	s.metrics.FrameDropped(reason, n)
}

func asJoinError(room domain.RoomName, err error) *core.JoinError {
	var jerr *core.JoinError
	if errors.As(err, &jerr) {
		return jerr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &core.JoinError{Room: room, Reason: core.JoinReasonTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &core.JoinError{Room: room, Reason: core.JoinReasonCanceled, Err: err}
	default:
		return &core.JoinError{Room: room, Reason: core.JoinReasonTransport, Err: fmt.Errorf("join: %w", err)}
	}
}
