package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"callcenter/internal/auth"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	defaultSendBuffer = 256
)

// Client is one authenticated WebSocket connection. ID is the connection id
// persisted as the user's socket_id.
type Client struct {
	ID     string
	UserID int64
	Claims *auth.Claims

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, id string, claims *auth.Claims, logger *zerolog.Logger) *Client {
	return &Client{
		ID:     id,
		UserID: claims.ID,
		Claims: claims,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.buffer),
		logger: logger.With().Str("socket_id", id).Int64("user_id", claims.ID).Logger(),
	}
}

func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Emit queues a server push to this connection.
func (c *Client) Emit(event string, data any) {
	c.write(Frame{Event: event}, data)
}

func (c *Client) reply(ack int64, data any) {
	c.write(Frame{Event: "ack", Ack: &ack}, data)
}

func (c *Client) write(f Frame, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Error().Err(err).Str("event", f.Event).Msg("Failed to encode realtime frame")
		return
	}
	f.Data = raw
	payload, err := json.Marshal(f)
	if err != nil {
		c.logger.Error().Err(err).Str("event", f.Event).Msg("Failed to encode realtime frame")
		return
	}
	c.hub.enqueue(c, payload)
}

// ReadPump decodes inbound frames and hands them to dispatch until the
// connection fails.
func (c *Client) ReadPump(dispatch func(*Client, Frame)) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Event == "" {
			c.logger.Debug().Err(err).Msg("Ignoring malformed realtime frame")
			continue
		}
		dispatch(c, frame)
	}
}

// WritePump sends one frame per queued message and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
