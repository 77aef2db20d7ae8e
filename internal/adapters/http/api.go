package http

import (
	"net/http"

	"github.com/dkeye/callbridge/internal/app/orch"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type apiHandlers struct {
	orch   *orch.Orchestrator
	rooms  core.RoomManager
	tokens TokenIssuer
}

type tokenRequest struct {
	RoomName        string `json:"roomName"`
	ParticipantName string `json:"participantName"`
}

// POST /api/token
func (h *apiHandlers) token(c *gin.Context) {
	if h.tokens == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "tokens are issued by the livekit provider only"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	room, err := domain.ParseRoomName(req.RoomName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	identity := domain.NewGuestIdentity()
	if req.ParticipantName != "" {
		if identity, err = domain.ParseIdentity(req.ParticipantName); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	token, err := h.tokens.Issue(room, identity, string(identity))
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("room", string(room)).Msg("token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token unavailable"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("room", string(room)).Str("identity", string(identity)).Msg("token issued")
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// GET /api/sessions
func (h *apiHandlers) sessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.orch.Registry.Snapshot()})
}

// GET /api/rooms
func (h *apiHandlers) listRooms(c *gin.Context) {
	if h.rooms == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "room listing needs the local provider"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": h.rooms.List()})
}

// GET /api/rooms/:name/members
func (h *apiHandlers) roomMembers(c *gin.Context) {
	if h.rooms == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "room listing needs the local provider"})
		return
	}
	room, ok := h.rooms.Get(domain.RoomName(c.Param("name")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": room.MembersSnapshot()})
}

// DELETE /api/rooms/:name stops every bridge into the room.
func (h *apiHandlers) evictRoom(c *gin.Context) {
	name, err := domain.ParseRoomName(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"evicted": h.orch.EvictRoom(name)})
}
