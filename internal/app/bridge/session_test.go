package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/callbridge/internal/codec"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JoinTimeout = time.Second
	cfg.LeaveTimeout = 200 * time.Millisecond
	return cfg
}

type harness struct {
	gw      *fakeGateway
	handle  *fakeHandle
	sink    *fakeSink
	metrics *recordingMetrics
	closed  chan *Session
}

func newHarness() *harness {
	h := newFakeHandle()
	return &harness{
		gw:      &fakeGateway{handle: h},
		handle:  h,
		sink:    newFakeSink(),
		metrics: newRecordingMetrics(),
		closed:  make(chan *Session, 1),
	}
}

func (h *harness) session(cfg Config) *Session {
	return New(Params{
		Call:     "A",
		Room:     "support",
		Identity: "twilio-bridge-A",
		Codec:    codec.MuLaw{},
		Gateway:  h.gw,
		Sink:     h.sink,
		Config:   cfg,
		Metrics:  h.metrics,
		OnClosed: func(s *Session) { h.closed <- s },
	})
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatalf("session still %s", s.State())
	}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, waitFor, 5*time.Millisecond)
}

func TestSessionFlushesBufferedFramesInOrder(t *testing.T) {
	h := newHarness()
	h.gw.hold = make(chan struct{})
	s := h.session(testConfig())
	s.Start()

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Push(testFrame(i)))
	}
	waitState(t, s, StateJoining)
	assert.Empty(t, h.handle.Published())

	close(h.gw.hold)
	require.Eventually(t, func() bool { return len(h.handle.Published()) == 50 }, waitFor, 5*time.Millisecond)

	for i, samples := range h.handle.Published() {
		require.Len(t, samples, 160)
		assert.Equal(t, codec.DecodeMuLaw(byte(i)), samples[0], "frame %d out of order", i)
	}
	assert.Zero(t, s.Info().Dropped)

	s.Stop(CloseNormal)
	waitDone(t, s)

	assert.Equal(t, int32(1), h.handle.leaves.Load())
	assert.Same(t, s, <-h.closed)
	reason, err := s.CloseReason()
	assert.Equal(t, CloseNormal, reason)
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t,
		[]State{StateJoining, StateActive, StateClosing, StateClosed},
		h.metrics.Transitions())
}

func TestSessionLiveFramesFollowBufferedOnes(t *testing.T) {
	h := newHarness()
	h.gw.hold = make(chan struct{})
	s := h.session(testConfig())
	s.Start()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Push(testFrame(i)))
	}
	close(h.gw.hold)
	for i := 10; i < 20; i++ {
		require.NoError(t, s.Push(testFrame(i)))
	}

	require.Eventually(t, func() bool { return len(h.handle.Published()) == 20 }, waitFor, 5*time.Millisecond)
	for i, samples := range h.handle.Published() {
		assert.Equal(t, codec.DecodeMuLaw(byte(i)), samples[0])
	}
	s.Stop(CloseNormal)
	waitDone(t, s)
}

func TestSessionJoinTimeoutDiscardsBuffer(t *testing.T) {
	h := newHarness()
	h.gw.hold = make(chan struct{})
	h.gw.ignoreCtx = true
	cfg := testConfig()
	cfg.JoinTimeout = 50 * time.Millisecond
	s := h.session(cfg)
	s.Start()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Push(testFrame(i)))
	}
	waitDone(t, s)

	reason, err := s.CloseReason()
	assert.Equal(t, CloseJoinTimeout, reason)
	var jerr *core.JoinError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, core.JoinReasonTimeout, jerr.Reason)
	assert.Empty(t, h.handle.Published())
	assert.Same(t, s, <-h.closed)

	select {
	case failed := <-h.sink.failed:
		assert.ErrorAs(t, failed, &jerr)
	default:
		t.Fatal("transport was not told the bridge failed")
	}

	// The hung join finally completes; its handle must not leak.
	close(h.gw.hold)
	require.Eventually(t, func() bool { return h.handle.leaves.Load() == 1 }, waitFor, 5*time.Millisecond)
	assert.Empty(t, h.handle.Published())
}

func TestSessionJoinFailureIsTerminal(t *testing.T) {
	h := newHarness()
	h.gw.err = &core.JoinError{Room: "support", Reason: core.JoinReasonAuth}
	s := h.session(testConfig())
	s.Start()
	waitDone(t, s)

	reason, err := s.CloseReason()
	assert.Equal(t, CloseJoinFailed, reason)
	var jerr *core.JoinError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, core.JoinReasonAuth, jerr.Reason)
	assert.Equal(t, int32(1), h.gw.joins.Load())
	assert.ErrorIs(t, s.Push(testFrame(1)), core.ErrSessionClosed)
}

func TestSessionPlainJoinErrorIsTransport(t *testing.T) {
	h := newHarness()
	h.gw.err = errors.New("dial tcp: refused")
	s := h.session(testConfig())
	s.Start()
	waitDone(t, s)

	_, err := s.CloseReason()
	var jerr *core.JoinError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, core.JoinReasonTransport, jerr.Reason)
}

func TestSessionStopThenDisconnectLeavesOnce(t *testing.T) {
	h := newHarness()
	s := h.session(testConfig())
	s.Start()
	waitState(t, s, StateActive)

	s.Stop(CloseNormal)
	s.Stop(CloseDisconnect)
	waitDone(t, s)
	s.Stop(CloseShutdown)

	assert.Equal(t, int32(1), h.handle.leaves.Load())
	reason, err := s.CloseReason()
	assert.Equal(t, CloseNormal, reason)
	assert.NoError(t, err)
	assert.Equal(t, []CloseReason{CloseNormal}, h.metrics.Closed())
}

func TestSessionConcurrentStopsLeaveOnce(t *testing.T) {
	h := newHarness()
	s := h.session(testConfig())
	s.Start()
	waitState(t, s, StateActive)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop(CloseDisconnect)
		}()
	}
	wg.Wait()
	waitDone(t, s)
	assert.Equal(t, int32(1), h.handle.leaves.Load())
}

func TestSessionStopWhileJoiningCancelsJoin(t *testing.T) {
	h := newHarness()
	h.gw.hold = make(chan struct{})
	s := h.session(testConfig())
	s.Start()
	require.NoError(t, s.Push(testFrame(1)))
	waitState(t, s, StateJoining)

	s.Stop(CloseDisconnect)
	waitDone(t, s)

	reason, err := s.CloseReason()
	assert.Equal(t, CloseDisconnect, reason)
	assert.NoError(t, err)
	assert.Zero(t, h.handle.leaves.Load())
	assert.Empty(t, h.handle.Published())
	assert.Empty(t, h.sink.failed)
}

func TestSessionPublishErrorKeepsActive(t *testing.T) {
	h := newHarness()
	s := h.session(testConfig())
	s.Start()
	waitState(t, s, StateActive)

	h.handle.setPublishErr(errors.New("track closed"))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Push(testFrame(i)))
	}
	require.Eventually(t, func() bool { return h.metrics.Drops(DropPublish) == 3 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateActive, s.State())

	h.handle.setPublishErr(nil)
	require.NoError(t, s.Push(testFrame(9)))
	require.Eventually(t, func() bool { return len(h.handle.Published()) == 1 }, waitFor, 5*time.Millisecond)

	s.Stop(CloseNormal)
	waitDone(t, s)
}

func TestSessionDropsBadFramesWithoutClosing(t *testing.T) {
	h := newHarness()
	s := h.session(testConfig())
	s.Start()
	waitState(t, s, StateActive)

	require.NoError(t, s.Push(domain.AudioFrame{Track: domain.TrackInbound}))
	far := testFrame(3)
	far.Track = domain.TrackOutbound
	require.NoError(t, s.Push(far))

	require.Eventually(t, func() bool {
		return h.metrics.Drops(DropDecode) == 1 && h.metrics.Drops(DropFarEnd) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateActive, s.State())
	assert.Empty(t, h.handle.Published())

	s.Stop(CloseNormal)
	waitDone(t, s)
}

type panicCodec struct{ codec.MuLaw }

func (panicCodec) Decode([]byte) ([]int16, error) { panic("corrupt table") }

func TestSessionRecoversFromPanickingFrame(t *testing.T) {
	h := newHarness()
	s := New(Params{
		Call:    "P",
		Room:    "support",
		Codec:   panicCodec{},
		Gateway: h.gw,
		Sink:    h.sink,
		Config:  testConfig(),
		Metrics: h.metrics,
	})
	s.Start()
	waitState(t, s, StateActive)

	require.NoError(t, s.Push(testFrame(1)))
	require.Eventually(t, func() bool { return h.metrics.Drops(DropPanic) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateActive, s.State())

	s.Stop(CloseNormal)
	waitDone(t, s)
}

func TestSessionEmitsCounterpartAudio(t *testing.T) {
	h := newHarness()
	s := h.session(testConfig())
	s.Start()
	waitState(t, s, StateActive)

	h.handle.audio <- core.RoomAudio{Source: "alice", Samples: make([]int16, 160)}
	h.handle.audio <- core.RoomAudio{Source: "bob", Samples: make([]int16, 160)}
	h.handle.audio <- core.RoomAudio{Source: "alice", Samples: []int16{1000, -1000}}

	first := <-h.sink.frames
	assert.Len(t, first, 160)
	assert.Equal(t, codec.EncodeMuLaw(0), first[0])
	second := <-h.sink.frames
	assert.Equal(t, []byte{codec.EncodeMuLaw(1000), codec.EncodeMuLaw(-1000)}, second)
	assert.Equal(t, 1, h.metrics.Drops(DropNotCounterpart))

	s.Stop(CloseNormal)
	waitDone(t, s)
}

func TestSessionCountsEmitBackpressure(t *testing.T) {
	h := newHarness()
	h.sink.full.Store(true)
	s := h.session(testConfig())
	s.Start()
	waitState(t, s, StateActive)

	h.handle.audio <- core.RoomAudio{Source: "alice", Samples: make([]int16, 160)}
	require.Eventually(t, func() bool { return h.metrics.Drops(DropEmit) == 1 }, waitFor, 5*time.Millisecond)

	s.Stop(CloseNormal)
	waitDone(t, s)
}

func TestSessionClosesWhenRoomGoesAway(t *testing.T) {
	h := newHarness()
	s := h.session(testConfig())
	s.Start()
	waitState(t, s, StateActive)

	h.handle.remoteGone()
	waitDone(t, s)

	reason, err := s.CloseReason()
	assert.Equal(t, CloseDisconnect, reason)
	assert.ErrorIs(t, err, ErrRoomDisconnected)
	assert.ErrorIs(t, <-h.sink.failed, ErrRoomDisconnected)
	assert.Equal(t, int32(1), h.handle.leaves.Load())
}

func TestSessionOverflowWhileJoiningIsCounted(t *testing.T) {
	h := newHarness()
	h.gw.hold = make(chan struct{})
	cfg := testConfig()
	cfg.BufferMaxFrames = 5
	cfg.BufferMaxDuration = 0
	s := h.session(cfg)
	s.Start()

	for i := 0; i < 8; i++ {
		require.NoError(t, s.Push(testFrame(i)))
	}
	require.Eventually(t, func() bool { return h.metrics.Drops(DropOverflow) == 3 }, waitFor, 5*time.Millisecond)

	close(h.gw.hold)
	require.Eventually(t, func() bool { return len(h.handle.Published()) == 5 }, waitFor, 5*time.Millisecond)
	for i, samples := range h.handle.Published() {
		assert.Equal(t, codec.DecodeMuLaw(byte(i+3)), samples[0])
	}

	s.Stop(CloseNormal)
	waitDone(t, s)
}

func TestSessionStartIsIdempotent(t *testing.T) {
	h := newHarness()
	s := h.session(testConfig())
	s.Start()
	s.Start()
	waitState(t, s, StateActive)
	assert.Equal(t, int32(1), h.gw.joins.Load())

	s.Stop(CloseShutdown)
	waitDone(t, s)
	reason, _ := s.CloseReason()
	assert.Equal(t, CloseShutdown, reason)
}
