package http

import (
	"context"
	"net/http"

	"github.com/dkeye/callbridge/internal/adapters/twilio"
	"github.com/dkeye/callbridge/internal/app/orch"
	"github.com/dkeye/callbridge/internal/config"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/dkeye/callbridge/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// TokenIssuer mints join tokens for browser participants.
type TokenIssuer interface {
	Issue(room domain.RoomName, identity domain.Identity, name string) (string, error)
}

// Deps is everything the router serves. Rooms is only set for the local
// provider, Tokens only for LiveKit.
type Deps struct {
	Config   *config.Config
	Orch     *orch.Orchestrator
	Media    *twilio.MediaStreamController
	Rooms    core.RoomManager
	Tokens   TokenIssuer
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

func SetupRouter(ctx context.Context, d Deps) *gin.Engine {
	cfg := d.Config
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	if d.Metrics != nil {
		r.Use(Observe(d.Metrics))
	}

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": d.Orch.Registry.Len()})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	voice := &voiceHandlers{orch: d.Orch, publicURL: cfg.PublicURL}
	v := r.Group("/voice")
	v.POST("/connect-to-room", voice.connectToRoom)
	v.POST("/status-callback", voice.statusCallback)
	v.POST("/recording-status", voice.recordingStatus)

	api := r.Group("/api")
	api.GET("/media", func(c *gin.Context) {
		d.Media.HandleMediaStream(ctx, c)
	})

	rest := &apiHandlers{orch: d.Orch, rooms: d.Rooms, tokens: d.Tokens}
	limiter := NewKeyedLimiter(cfg.TokenRate, cfg.TokenBurst)
	api.POST("/token", RateLimit(limiter), rest.token)
	// Path used by existing browser clients.
	r.POST("/join-room", RateLimit(limiter), rest.token)
	api.GET("/sessions", rest.sessions)
	api.GET("/rooms", rest.listRooms)
	api.GET("/rooms/:name/members", rest.roomMembers)
	api.DELETE("/rooms/:name", rest.evictRoom)

	return r
}
