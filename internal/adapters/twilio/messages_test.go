package twilio

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/callbridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const startJSON = `{
  "event": "start",
  "sequenceNumber": "1",
  "start": {
    "accountSid": "AC1",
    "streamSid": "MZ1",
    "callSid": "CA1",
    "tracks": ["inbound"],
    "mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
    "customParameters": {"roomName": "support"}
  },
  "streamSid": "MZ1"
}`

func TestParseStart(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(startJSON), &msg))

	require.NotNil(t, msg.Start)
	assert.Equal(t, EventStart, msg.Event)
	assert.Equal(t, domain.CallID("CA1"), msg.Start.CallID())
	assert.Equal(t, "support", msg.Start.CustomParameters[RoomParameter])
	assert.Equal(t,
		domain.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
		msg.Start.MediaFormat.Domain())
}

func TestCallIDFallsBackToStreamSid(t *testing.T) {
	p := StartPayload{StreamSid: "MZ9"}
	assert.Equal(t, domain.CallID("MZ9"), p.CallID())
}

func TestMediaFrame(t *testing.T) {
	p := MediaPayload{
		Track:     "outbound",
		Chunk:     "2",
		Timestamp: "40",
		Payload:   base64.StdEncoding.EncodeToString([]byte{0xff, 0x7f}),
	}
	f, err := p.Frame()
	require.NoError(t, err)
	assert.Equal(t, domain.TrackOutbound, f.Track)
	assert.Equal(t, 40*time.Millisecond, f.Timestamp)
	assert.Equal(t, []byte{0xff, 0x7f}, f.Payload)
}

func TestMediaFrameErrors(t *testing.T) {
	_, err := (&MediaPayload{Track: "sideways", Payload: ""}).Frame()
	assert.Error(t, err)
	_, err = (&MediaPayload{Payload: "not base64!"}).Frame()
	assert.Error(t, err)
	_, err = (&MediaPayload{Payload: "", Timestamp: "soon"}).Frame()
	assert.Error(t, err)
}

func TestEncodeMedia(t *testing.T) {
	data, err := encodeMedia("MZ1", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"media","streamSid":"MZ1","media":{"payload":"AQID"}}`, string(data))
}

func TestEncodeMark(t *testing.T) {
	data, err := encodeMark("MZ1", FailedMark)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"mark","streamSid":"MZ1","mark":{"name":"bridge-failed"}}`, string(data))
}
