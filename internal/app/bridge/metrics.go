package bridge

import "time"

// DropReason labels why a frame never reached its destination.
type DropReason string

const (
	DropOverflow       DropReason = "overflow"
	DropPublish        DropReason = "publish"
	DropDecode         DropReason = "decode"
	DropFarEnd         DropReason = "far_end"
	DropNotCounterpart DropReason = "not_counterpart"
	DropEmit           DropReason = "emit"
	DropPanic          DropReason = "panic"
)

// Metrics receives session observations. Implementations must be safe for
// concurrent use; sessions call it from their own goroutines.
type Metrics interface {
	SessionStarted()
	SessionClosed(reason CloseReason)
	StateChanged(from, to State)
	JoinDuration(d time.Duration)
	FramePublished()
	FrameEmitted()
	FrameDropped(reason DropReason, n int)
}

type NopMetrics struct{}

func (NopMetrics) SessionStarted()              {}
func (NopMetrics) SessionClosed(CloseReason)    {}
func (NopMetrics) StateChanged(State, State)    {}
func (NopMetrics) JoinDuration(time.Duration)   {}
func (NopMetrics) FramePublished()              {}
func (NopMetrics) FrameEmitted()                {}
func (NopMetrics) FrameDropped(DropReason, int) {}
