package twilio

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectToRoom(t *testing.T) {
	body, err := ConnectToRoom("wss://bridge.example.com/api/media", "support & sales")
	require.NoError(t, err)
	s := string(body)

	assert.True(t, strings.HasPrefix(s, "<?xml"))
	assert.Contains(t, s, `<Connect><Stream url="wss://bridge.example.com/api/media">`)
	assert.Contains(t, s, `<Parameter name="roomName" value="support &amp; sales"></Parameter>`)
	assert.Less(t, strings.Index(s, "<Connect>"), strings.Index(s, "<Say>"))
	assert.Contains(t, s, "<Hangup></Hangup></Response>")
}

func TestReject(t *testing.T) {
	body, err := Reject("No room given.")
	require.NoError(t, err)
	assert.Contains(t, string(body), "<Response><Say>No room given.</Say><Hangup></Hangup></Response>")
	assert.NotContains(t, string(body), "Connect")
}
