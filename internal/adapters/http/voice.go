package http

import (
	"net/http"
	"strings"

	"github.com/dkeye/callbridge/internal/adapters/twilio"
	"github.com/dkeye/callbridge/internal/app/orch"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	mediaPath     = "/api/media"
	missingRoom   = "This number is not connected to a room. Goodbye."
	twimlMimeType = "text/xml; charset=utf-8"
)

type voiceHandlers struct {
	orch      *orch.Orchestrator
	publicURL string
}

// POST /voice/connect-to-room?roomName={room}
func (h *voiceHandlers) connectToRoom(c *gin.Context) {
	raw := c.Query(twilio.RoomParameter)
	if raw == "" {
		raw = c.PostForm(twilio.RoomParameter)
	}
	room, err := domain.ParseRoomName(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("call_sid", c.PostForm("CallSid")).Msg("connect without room")
		body, _ := twilio.Reject(missingRoom)
		c.Data(http.StatusOK, twimlMimeType, body)
		return
	}

	streamURL := h.streamURL(c)
	body, err := twilio.ConnectToRoom(streamURL, string(room))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Info().
		Str("module", "adapters.http").
		Str("call_sid", c.PostForm("CallSid")).
		Str("room", string(room)).
		Str("stream", streamURL).
		Msg("call routed to room")
	c.Data(http.StatusOK, twimlMimeType, body)
}

// streamURL is the websocket address the telephony side dials back.
func (h *voiceHandlers) streamURL(c *gin.Context) string {
	base := strings.TrimRight(h.publicURL, "/")
	if base == "" {
		return "wss://" + c.Request.Host + mediaPath
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case !strings.HasPrefix(base, "ws://") && !strings.HasPrefix(base, "wss://"):
		base = "wss://" + base
	}
	return base + mediaPath
}

// terminalStatuses end the call; anything else is progress.
var terminalStatuses = map[string]bool{
	"completed": true,
	"failed":    true,
	"busy":      true,
	"no-answer": true,
	"canceled":  true,
}

// POST /voice/status-callback
func (h *voiceHandlers) statusCallback(c *gin.Context) {
	sid := c.PostForm("CallSid")
	status := c.PostForm("CallStatus")
	log.Info().
		Str("module", "adapters.http").
		Str("call_id", sid).
		Str("status", status).
		Msg("call status")
	if sid != "" && terminalStatuses[status] {
		// Unauthenticated: only mount behind carrier signature validation.
		log.Warn().
			Str("module", "adapters.http").
			Str("call_id", sid).
			Str("status", status).
			Str("remote", c.ClientIP()).
			Msg("status callback ends call")
		h.orch.EndCall(domain.CallID(sid))
	}
	c.Status(http.StatusOK)
}

// POST /voice/recording-status
func (h *voiceHandlers) recordingStatus(c *gin.Context) {
	log.Info().
		Str("module", "adapters.http").
		Str("call_id", c.PostForm("CallSid")).
		Str("recording", c.PostForm("RecordingSid")).
		Str("status", c.PostForm("RecordingStatus")).
		Msg("recording status")
	c.Status(http.StatusOK)
}
