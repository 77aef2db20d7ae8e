package twilio

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

type outbound struct {
	data       []byte
	closeAfter bool
}

// Conn is one Media Streams websocket. It carries a single call and is the
// core.MediaSink for that call's bridge session.
type Conn struct {
	ws   *websocket.Conn
	send chan outbound

	mu     sync.RWMutex
	closed bool

	// Owned by the read pump. streamSid is set before the session exists,
	// call only once the session was accepted.
	streamSid string
	call      domain.CallID
	rejected  bool

	logger zerolog.Logger
}

func newConn(ws *websocket.Conn, size int, logger zerolog.Logger) *Conn {
	return &Conn{
		ws:     ws,
		send:   make(chan outbound, size),
		logger: logger,
	}
}

func (c *Conn) enqueue(o outbound) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrHandleReleased
	}
	select {
	case c.send <- o:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// TrySend queues one encoded frame for the phone leg.
func (c *Conn) TrySend(payload []byte) error {
	data, err := encodeMedia(c.streamSid, payload)
	if err != nil {
		return err
	}
	return c.enqueue(outbound{data: data})
}

// BridgeFailed marks the stream and hangs up the socket so the call falls
// through to whatever TwiML follows <Connect>.
func (c *Conn) BridgeFailed(reason error) {
	c.logger.Warn().Err(reason).Msg("bridge failed, closing media stream")
	data, err := encodeMark(c.streamSid, FailedMark)
	if err == nil {
		err = c.enqueue(outbound{data: data, closeAfter: true})
	}
	if err != nil {
		c.Close()
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
}

func (c *Conn) writePump(ctx context.Context, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("writePump ctx done")
			return
		case o, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, o.data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				return
			}
			if o.closeAfter {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, FailedMark)
				_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
