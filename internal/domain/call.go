package domain

import "fmt"

// CallID names one phone call for the lifetime of its bridge session.
type CallID string

// Track designates which party of the phone leg produced a frame.
type Track int

const (
	// TrackInbound is audio spoken by the caller.
	TrackInbound Track = iota
	// TrackOutbound is far-end audio the phone leg is playing to the caller.
	TrackOutbound
)

func (t Track) String() string {
	switch t {
	case TrackInbound:
		return "inbound"
	case TrackOutbound:
		return "outbound"
	default:
		return fmt.Sprintf("track(%d)", int(t))
	}
}

// ParseTrack maps the transport's track label. An empty label means inbound,
// which is what a single-track stream sends.
func ParseTrack(s string) (Track, error) {
	switch s {
	case "inbound", "inbound_track", "":
		return TrackInbound, nil
	case "outbound", "outbound_track":
		return TrackOutbound, nil
	default:
		return 0, fmt.Errorf("unknown track %q", s)
	}
}

// Direction of an audio flow for one session.
type Direction int

const (
	DirectionCallerToRoom Direction = iota
	DirectionRoomToCaller
)

func (d Direction) String() string {
	switch d {
	case DirectionCallerToRoom:
		return "caller_to_room"
	case DirectionRoomToCaller:
		return "room_to_caller"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// MediaFormat is the encoding metadata announced at stream start.
type MediaFormat struct {
	Encoding   string
	SampleRate int
	Channels   int
}
