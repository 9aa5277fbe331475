package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/coderelay/backend/internal/metrics"
	"github.com/manpreetbhatti/coderelay/backend/internal/protocol"
	"github.com/manpreetbhatti/coderelay/backend/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	sendBuffer        = 512
	messagesPerSecond = 100
	messageBurst      = 200
	maxViolations     = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler receives every decoded inbound event. Calls for one connection are
// made sequentially from its read loop.
type Handler interface {
	HandleEvent(ctx context.Context, c *Client, env protocol.Envelope)
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	id     string
	frames *ratelimit.Bucket

	mu     sync.Mutex
	roomID string
}

// NewClient returns a registered-ready client with no network connection.
// ServeWs attaches the websocket.
func NewClient(hub *Hub) *Client {
	return &Client{
		hub:    hub,
		send:   make(chan []byte, sendBuffer),
		id:     uuid.NewString(),
		frames: ratelimit.NewBucket(messagesPerSecond, messageBurst),
	}
}

func (c *Client) ID() string { return c.id }

// Messages is the outbound queue. It is closed when the hub drops the client.
func (c *Client) Messages() <-chan []byte { return c.send }

// BindRoom records the room this connection joined. Only the first call wins.
func (c *Client) BindRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID != "" {
		return false
	}
	c.roomID = roomID
	return true
}

func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func ServeWs(hub *Hub, handler Handler, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws.upgrade.failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := NewClient(hub)
	client.conn = conn
	log := logger.With("client", client.id)
	log.Info("ws.connected", "remote", conn.RemoteAddr().String())

	hub.Register(client)

	go client.writePump()
	go client.readPump(handler, log)
}

func (c *Client) readPump(handler Handler, log *slog.Logger) {
	// Cancelled on disconnect so in-flight work for this connection stops
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.hub.Unregister(c)
		c.conn.Close()
		log.Info("ws.disconnected", "room", c.RoomID())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	violations := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("ws.read.failed", "err", err)
			}
			return
		}

		if !c.frames.Take() {
			violations++
			metrics.EventsDropped.WithLabelValues("rate_limited").Inc()
			if violations%100 == 1 {
				log.Warn("ws.rate_limited", "violations", violations)
			}
			if violations > maxViolations {
				log.Warn("ws.flooding.disconnect", "violations", violations)
				return
			}
			continue
		}

		env, err := protocol.Decode(message)
		if err != nil {
			metrics.EventsDropped.WithLabelValues("malformed").Inc()
			log.Warn("ws.frame.invalid", "err", err)
			continue
		}

		metrics.EventsReceived.WithLabelValues(env.Event).Inc()
		handler.HandleEvent(ctx, c, env)
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
