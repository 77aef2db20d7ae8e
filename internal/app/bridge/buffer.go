package bridge

import (
	"time"

	"github.com/dkeye/callbridge/internal/codec"
	"github.com/dkeye/callbridge/internal/domain"
)

// FrameBuffer holds caller audio while the room join is in flight.
// It is owned by one session goroutine and is not safe for concurrent use.
type FrameBuffer struct {
	maxFrames   int
	maxDuration time.Duration

	frames   []domain.AudioFrame
	duration time.Duration
	dropped  uint64
}

// NewFrameBuffer caps the buffer by frame count and by buffered playout time.
// A zero cap disables that bound.
func NewFrameBuffer(maxFrames int, maxDuration time.Duration) *FrameBuffer {
	return &FrameBuffer{
		maxFrames:   maxFrames,
		maxDuration: maxDuration,
	}
}

// Push admits f, evicting the oldest frames until both caps hold again.
// The newest frame is always kept. It returns how many frames were evicted.
func (b *FrameBuffer) Push(f domain.AudioFrame) int {
	b.frames = append(b.frames, f)
	b.duration += frameDuration(f)

	evicted := 0
	for len(b.frames) > 1 && b.overCap() {
		b.duration -= frameDuration(b.frames[0])
		b.frames[0] = domain.AudioFrame{}
		b.frames = b.frames[1:]
		evicted++
	}
	b.dropped += uint64(evicted)
	return evicted
}

func (b *FrameBuffer) overCap() bool {
	if b.maxFrames > 0 && len(b.frames) > b.maxFrames {
		return true
	}
	return b.maxDuration > 0 && b.duration > b.maxDuration
}

// DrainInOrder hands over every buffered frame in arrival order and empties
// the buffer.
func (b *FrameBuffer) DrainInOrder() []domain.AudioFrame {
	out := b.frames
	if out == nil {
		out = []domain.AudioFrame{}
	}
	b.frames = nil
	b.duration = 0
	return out
}

// Discard drops everything without counting it as overflow.
func (b *FrameBuffer) Discard() int {
	n := len(b.frames)
	b.frames = nil
	b.duration = 0
	return n
}

func (b *FrameBuffer) Len() int { return len(b.frames) }

func (b *FrameBuffer) Duration() time.Duration { return b.duration }

// Dropped is the number of frames evicted by overflow so far.
func (b *FrameBuffer) Dropped() uint64 { return b.dropped }

// G.711 carries one sample per byte.
func frameDuration(f domain.AudioFrame) time.Duration {
	return codec.FrameDuration(len(f.Payload))
}
