package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/callbridge/internal/app/orch"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Dispatcher receives the transport events of every call.
type Dispatcher interface {
	OnStart(ctx context.Context, ev orch.StartEvent, sink core.MediaSink) error
	OnMedia(call domain.CallID, sink core.MediaSink, f domain.AudioFrame) error
	OnStop(call domain.CallID, sink core.MediaSink)
	OnDisconnect(call domain.CallID, sink core.MediaSink)
}

const DefaultSendBuffer = 128

type MediaStreamController struct {
	Dispatcher Dispatcher
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func NewMediaStreamController(d Dispatcher, readLimit int64, pingPeriod time.Duration) *MediaStreamController {
	return &MediaStreamController{
		Dispatcher: d,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
		SendBuffer: DefaultSendBuffer,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *MediaStreamController) HandleMediaStream(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "twilio").Msg("ws upgrade")
		return
	}
	logger := log.With().Str("module", "twilio").Str("remote", c.ClientIP()).Logger()
	logger.Info().Msg("media stream connected")

	conn := newConn(ws, ctl.SendBuffer, logger)
	go conn.writePump(ctx, ctl.PingPeriod)
	go ctl.readPump(ctx, conn)
}

func (ctl *MediaStreamController) pongWait() time.Duration {
	return ctl.PingPeriod * 10 / 9
}

func (ctl *MediaStreamController) readPump(ctx context.Context, c *Conn) {
	defer func() {
		if c.call != "" {
			ctl.Dispatcher.OnDisconnect(c.call, c)
		}
		c.Close()
		c.logger.Info().Str("call_id", string(c.call)).Msg("media stream closed")
	}()

	c.ws.SetReadLimit(ctl.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	})

	early := rate.Sometimes{First: 1, Interval: 10 * time.Second}
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(ctl.pongWait()))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("bad json")
			continue
		}
		switch msg.Event {
		case EventConnected:
			c.logger.Debug().Str("protocol", msg.Protocol).Str("version", msg.Version).Msg("connected")
		case EventStart:
			ctl.handleStart(ctx, c, &msg)
		case EventMedia:
			if c.call == "" {
				early.Do(func() { c.logger.Warn().Msg("media before start dropped") })
				continue
			}
			ctl.handleMedia(c, &msg)
		case EventStop:
			if c.call != "" {
				c.logger.Info().Str("call_id", string(c.call)).Msg("stream stopped")
				ctl.Dispatcher.OnStop(c.call, c)
			}
		case EventMark:
			if msg.Mark != nil {
				c.logger.Debug().Str("mark", msg.Mark.Name).Msg("mark")
			}
		case EventDTMF:
			if msg.DTMF != nil {
				c.logger.Info().Str("call_id", string(c.call)).Str("digit", msg.DTMF.Digit).Msg("dtmf ignored")
			}
		default:
			c.logger.Warn().Str("event", msg.Event).Msg("unknown event")
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (ctl *MediaStreamController) handleStart(ctx context.Context, c *Conn, msg *Message) {
	if msg.Start == nil {
		c.logger.Warn().Msg("start without payload")
		return
	}
	if c.call != "" || c.rejected {
		c.logger.Warn().Str("call_id", string(c.call)).Msg("second start on one stream ignored")
		return
	}
	start := msg.Start
	c.streamSid = start.StreamSid
	if c.streamSid == "" {
		c.streamSid = msg.StreamSid
	}
	call := start.CallID()
	c.logger.Info().Str("call_id", string(call)).Str("stream_sid", c.streamSid).Strs("tracks", start.Tracks).Msg("stream started")

	ev := orch.StartEvent{
		Call:   call,
		Room:   start.CustomParameters[RoomParameter],
		Format: start.MediaFormat.Domain(),
	}
	// c.call is only bound once a session exists for this stream, so a
	// rejected stream never routes stop or disconnect to someone else's call.
	if err := ctl.Dispatcher.OnStart(ctx, ev, c); err != nil {
		c.rejected = true
		var dup *core.DuplicateSessionError
		if errors.As(err, &dup) {
			c.Close()
			return
		}
		c.BridgeFailed(err)
		return
	}
	c.call = call
}

func (ctl *MediaStreamController) handleMedia(c *Conn, msg *Message) {
	if msg.Media == nil {
		return
	}
	f, err := msg.Media.Frame()
	if err != nil {
		c.logger.Warn().Err(err).Msg("bad media frame")
		return
	}
	if err := ctl.Dispatcher.OnMedia(c.call, c, f); err != nil && !errors.Is(err, core.ErrUnknownCall) {
		c.logger.Debug().Err(err).Msg("media not accepted")
	}
}
