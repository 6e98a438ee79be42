package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/lastmile/auth"
	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/monitoring"
)

var inboundEvents = map[string]bool{
	channel.EventLocationUpdate:     true,
	channel.EventStatusUpdate:       true,
	channel.EventAvailabilityUpdate: true,
}

type conn struct {
	srv    *Server
	connID string
	id     auth.Identity
	ws     *websocket.Conn
	sub    channel.Subscription

	replies chan channel.Event
	done    chan struct{}
	once    sync.Once
}

func newConn(s *Server, id auth.Identity, ws *websocket.Conn, sub channel.Subscription) *conn {
	return &conn{
		srv:     s,
		connID:  uuid.NewString(),
		id:      id,
		ws:      ws,
		sub:     sub,
		replies: make(chan channel.Event, s.cfg.ReplyBuffer),
		done:    make(chan struct{}),
	}
}

// close stops event delivery to the connection. Handlers already running
// keep their own context.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.sub.Unsubscribe()
		c.srv.untrack(c)
	})
}

func (c *conn) readLoop() {
	defer c.close()
	defer monitoring.Recover()
	cfg := c.srv.cfg
	c.ws.SetReadLimit(cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.srv.log.Debugf("read %s: %v", c.connID, err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		var ev channel.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Name == "" {
			c.srv.events.WithLabelValues("malformed", "error").Inc()
			c.reply(channel.ErrorEvent("malformed event"))
			continue
		}
		ctx, cancel := context.WithTimeout(c.srv.base, cfg.HandlerTimeout)
		out := c.srv.handler.Handle(ctx, c.id, ev)
		cancel()

		name, result := ev.Name, "ok"
		if !inboundEvents[name] {
			name = "unknown"
		}
		if out != nil {
			result = "error"
			c.reply(*out)
		}
		c.srv.events.WithLabelValues(name, result).Inc()
	}
}

// reply queues ev for the writer. A client that does not drain its replies
// loses them rather than stalling its own reader.
func (c *conn) reply(ev channel.Event) {
	select {
	case c.replies <- ev:
	case <-c.done:
	default:
		c.srv.log.Warnf("reply queue full on %s, dropping %s", c.connID, ev.Name)
	}
}

func (c *conn) writeLoop() {
	cfg := c.srv.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.ws.Close()
	}()
	defer monitoring.Recover()
	for {
		select {
		case m, ok := <-c.sub.C():
			if !ok {
				c.closeFrame(websocket.CloseGoingAway, "shutting down")
				return
			}
			if err := c.write(m.Event); err != nil {
				return
			}
		case ev := <-c.replies:
			if err := c.write(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.closeFrame(websocket.CloseNormalClosure, "")
			return
		}
	}
}

func (c *conn) write(ev channel.Event) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
	if err := c.ws.WriteJSON(ev); err != nil {
		c.srv.log.Debugf("write %s to %s: %v", ev.Name, c.connID, err)
		return err
	}
	return nil
}

func (c *conn) closeFrame(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
