package gateway

import (
	"encoding/json"
	"log/slog"
	"time"

	"synthfeed/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 30 * time.Second
	maxReadSize = 4096
	sendBuffer  = 256
)

// Client represents a single WebSocket peer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func newClient(h *Hub, conn *websocket.Conn, id string) *Client {
	if id == "" {
		id = logger.NewRequestID()
	}
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}
}

// ID returns the client's connection id.
func (c *Client) ID() string { return c.id }

// enqueue queues msg without blocking. A full queue drops the message.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		if c.hub.OnSendDrop != nil {
			c.hub.OnSendDrop()
		}
		return false
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// Write coalescing: queued envelopes share one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var in inboundMsg
		if json.Unmarshal(msg, &in) != nil {
			c.sendError("invalid JSON")
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in inboundMsg) {
	switch in.Type {
	case "ping":
		c.enqueue(mustJSON(pongMsg{Type: "pong", Ping: in.Ping, ServerTS: time.Now().UnixMilli()}))

	case "live":
		if in.Live == nil {
			c.sendError("live: missing \"live\" field")
			return
		}
		if err := c.hub.src.SetLive(*in.Live); err != nil {
			c.sendError(err.Error())
			return
		}
		c.hub.logger.Info("live toggled by client",
			slog.String("client", c.id), slog.Bool("live", *in.Live))

	case "condition":
		if c.hub.widgets == nil {
			c.sendError("condition: no sentiment board")
			return
		}
		if in.Simulating == nil {
			c.sendError("condition: missing \"simulating\" field")
			return
		}
		if err := c.hub.widgets.SetSimulating(*in.Simulating); err != nil {
			c.sendError(err.Error())
		}

	default:
		// Bare {"ping":N} from older dashboards.
		if in.Ping > 0 {
			c.enqueue(mustJSON(pongMsg{Type: "pong", Ping: in.Ping, ServerTS: time.Now().UnixMilli()}))
			return
		}
		c.sendError("unknown message type " + in.Type)
	}
}

func (c *Client) sendError(message string) {
	data, now := mustJSON(errorMsg{Message: message}), time.Now().UTC()
	c.hub.sendTo(c, func(seq int64) []byte {
		return buildEnvelope(typeError, channelError, data, now, seq)
	})
}
