// Package twilio speaks the Media Streams websocket protocol: JSON envelopes
// keyed by "event", with base64 companded audio in media events.
package twilio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dkeye/callbridge/internal/domain"
)

const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"

	// RoomParameter is the <Parameter> carrying the destination room.
	RoomParameter = "roomName"
	// FailedMark is sent before the socket is closed on a bridge failure.
	FailedMark = "bridge-failed"
)

// Message is the union of every inbound event; only the field matching
// Event is set.
type Message struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSid      string `json:"streamSid,omitempty"`

	Protocol string        `json:"protocol,omitempty"`
	Version  string        `json:"version,omitempty"`
	Start    *StartPayload `json:"start,omitempty"`
	Media    *MediaPayload `json:"media,omitempty"`
	Stop     *StopPayload  `json:"stop,omitempty"`
	Mark     *MarkPayload  `json:"mark,omitempty"`
	DTMF     *DTMFPayload  `json:"dtmf,omitempty"`
}

type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// CallID prefers the call sid and falls back to the stream sid.
func (p *StartPayload) CallID() domain.CallID {
	if p.CallSid != "" {
		return domain.CallID(p.CallSid)
	}
	return domain.CallID(p.StreamSid)
}

func (f MediaFormat) Domain() domain.MediaFormat {
	return domain.MediaFormat{Encoding: f.Encoding, SampleRate: f.SampleRate, Channels: f.Channels}
}

// Frame decodes a media payload into an AudioFrame.
func (p *MediaPayload) Frame() (domain.AudioFrame, error) {
	track, err := domain.ParseTrack(p.Track)
	if err != nil {
		return domain.AudioFrame{}, err
	}
	payload, err := base64.StdEncoding.DecodeString(p.Payload)
	if err != nil {
		return domain.AudioFrame{}, fmt.Errorf("media payload: %w", err)
	}
	var ts time.Duration
	if p.Timestamp != "" {
		ms, err := strconv.ParseInt(p.Timestamp, 10, 64)
		if err != nil {
			return domain.AudioFrame{}, fmt.Errorf("media timestamp %q: %w", p.Timestamp, err)
		}
		ts = time.Duration(ms) * time.Millisecond
	}
	return domain.AudioFrame{Track: track, Timestamp: ts, Payload: payload}, nil
}

type outboundMedia struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      MarkPayload `json:"mark"`
}

func encodeMedia(streamSid string, payload []byte) ([]byte, error) {
	m := outboundMedia{Event: EventMedia, StreamSid: streamSid}
	m.Media.Payload = base64.StdEncoding.EncodeToString(payload)
	return json.Marshal(m)
}

func encodeMark(streamSid, name string) ([]byte, error) {
	return json.Marshal(outboundMark{Event: EventMark, StreamSid: streamSid, Mark: MarkPayload{Name: name}})
}
