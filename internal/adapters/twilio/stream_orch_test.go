package twilio

import (
	"strings"
	"testing"
	"time"

	"github.com/dkeye/callbridge/internal/adapters/local"
	"github.com/dkeye/callbridge/internal/app"
	"github.com/dkeye/callbridge/internal/app/bridge"
	"github.com/dkeye/callbridge/internal/app/orch"
	"github.com/dkeye/callbridge/internal/app/sfu"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalOrchestrator(t *testing.T) *orch.Orchestrator {
	t.Helper()
	gw := local.NewGateway(app.NewRoomManager(), sfu.NewRelayManager(), app.SimplePolicy{})
	cfg := bridge.DefaultConfig()
	cfg.JoinTimeout = time.Second
	cfg.LeaveTimeout = 200 * time.Millisecond
	return orch.New(app.NewSessionRegistry(), gw, cfg, "twilio-bridge-", nil)
}

func waitActive(t *testing.T, o *orch.Orchestrator, call domain.CallID) *bridge.Session {
	t.Helper()
	var s *bridge.Session
	require.Eventually(t, func() bool {
		var ok bool
		s, ok = o.Registry.Get(call)
		return ok && s.State() == bridge.StateActive
	}, 2*time.Second, 5*time.Millisecond)
	return s
}

// readUntilClosed drains a stream the server is hanging up.
func readUntilClosed(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func assertStaysActive(t *testing.T, s *bridge.Session) {
	t.Helper()
	select {
	case <-s.Done():
		reason, err := s.CloseReason()
		t.Fatalf("live call closed: %s %v", reason, err)
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, bridge.StateActive, s.State())
}

func TestRejectedStartLeavesOtherStreamsCallAlone(t *testing.T) {
	cases := map[string]string{
		"bad format": strings.Replace(startJSON, `"sampleRate": 8000`, `"sampleRate": 16000`, 1),
		"no room":    strings.Replace(startJSON, `"roomName": "support"`, `"roomName": ""`, 1),
		"duplicate":  startJSON,
	}
	for name, second := range cases {
		t.Run(name, func(t *testing.T) {
			o := newLocalOrchestrator(t)
			first := dialStream(t, o)
			sendJSON(t, first, startJSON)
			live := waitActive(t, o, "CA1")

			other := dialStream(t, o)
			sendJSON(t, other, second)
			readUntilClosed(t, other)

			assertStaysActive(t, live)
			got, ok := o.Registry.Get("CA1")
			require.True(t, ok)
			assert.Same(t, live, got)

			sendJSON(t, first, `{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`)
			select {
			case <-live.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("owning stream could not stop its call")
			}
			reason, err := live.CloseReason()
			assert.Equal(t, bridge.CloseNormal, reason)
			assert.NoError(t, err)
		})
	}
}

func TestStreamCannotActOnCallItDoesNotOwn(t *testing.T) {
	o := newLocalOrchestrator(t)
	first := dialStream(t, o)
	sendJSON(t, first, startJSON)
	live := waitActive(t, o, "CA1")

	foreign := newConn(nil, 1, zerolog.Nop())
	assert.ErrorIs(t, o.OnMedia("CA1", foreign, domain.AudioFrame{Payload: []byte{0xff}}), core.ErrUnknownCall)
	o.OnStop("CA1", foreign)
	o.OnDisconnect("CA1", foreign)
	assertStaysActive(t, live)

	require.NoError(t, first.Close())
	select {
	case <-live.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("owning stream disconnect ignored")
	}
	reason, _ := live.CloseReason()
	assert.Equal(t, bridge.CloseDisconnect, reason)
}
