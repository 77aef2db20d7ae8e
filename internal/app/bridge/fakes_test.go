package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
)

type fakeHandle struct {
	mu         sync.Mutex
	published  [][]int16
	publishErr error

	audio     chan core.RoomAudio
	closeOnce sync.Once
	leaves    atomic.Int32
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{audio: make(chan core.RoomAudio, 16)}
}

func (h *fakeHandle) Publish(_ context.Context, dir domain.Direction, samples []int16) error {
	if dir != domain.DirectionCallerToRoom {
		return core.ErrWrongDirection
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.publishErr != nil {
		return h.publishErr
	}
	h.published = append(h.published, append([]int16(nil), samples...))
	return nil
}

func (h *fakeHandle) Subscribe(domain.Direction) (<-chan core.RoomAudio, error) {
	return h.audio, nil
}

func (h *fakeHandle) Leave(context.Context) error {
	h.leaves.Add(1)
	h.remoteGone()
	return nil
}

func (h *fakeHandle) remoteGone() {
	h.closeOnce.Do(func() { close(h.audio) })
}

func (h *fakeHandle) setPublishErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishErr = err
}

func (h *fakeHandle) Published() [][]int16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]int16(nil), h.published...)
}

// fakeGateway hands out one handle. With hold set, Join waits for release;
// ignoreCtx makes it a hung remote that never honours cancellation.
type fakeGateway struct {
	handle    *fakeHandle
	err       error
	hold      chan struct{}
	ignoreCtx bool
	joins     atomic.Int32
}

func (g *fakeGateway) Join(ctx context.Context, _ domain.RoomName, _ domain.Identity) (core.RoomHandle, error) {
	g.joins.Add(1)
	if g.hold != nil {
		if g.ignoreCtx {
			<-g.hold
		} else {
			select {
			case <-g.hold:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.handle, nil
}

type fakeSink struct {
	frames chan []byte
	failed chan error
	full   atomic.Bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{frames: make(chan []byte, 64), failed: make(chan error, 1)}
}

func (s *fakeSink) TrySend(payload []byte) error {
	if s.full.Load() {
		return core.ErrBackpressure
	}
	select {
	case s.frames <- payload:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (s *fakeSink) BridgeFailed(reason error) {
	select {
	case s.failed <- reason:
	default:
	}
}

type recordingMetrics struct {
	mu          sync.Mutex
	drops       map[DropReason]int
	transitions []State
	closed      []CloseReason
	published   int
	emitted     int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{drops: make(map[DropReason]int)}
}

func (m *recordingMetrics) SessionStarted() {}

func (m *recordingMetrics) SessionClosed(r CloseReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, r)
}

func (m *recordingMetrics) StateChanged(_, to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, to)
}

func (m *recordingMetrics) JoinDuration(time.Duration) {}

func (m *recordingMetrics) FramePublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published++
}

func (m *recordingMetrics) FrameEmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitted++
}

func (m *recordingMetrics) FrameDropped(r DropReason, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops[r] += n
}

func (m *recordingMetrics) Drops(r DropReason) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops[r]
}

func (m *recordingMetrics) Transitions() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.transitions...)
}

func (m *recordingMetrics) Closed() []CloseReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CloseReason(nil), m.closed...)
}
