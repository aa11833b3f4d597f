package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message types sent on the feed.
const (
	TypeScan     = "scan"
	TypeMode     = "mode"
	TypeDownload = "download"
	TypeSync     = "sync"
	TypeClear    = "clear"
	TypePing     = "ping"
	TypePong     = "pong"
)

// Message is one feed frame.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 4 << 10
)

// client is one connected feed subscriber.
type client struct {
	id     string
	types  map[string]bool // nil means every type
	conn   *websocket.Conn
	send   chan []byte // closed by the hub
	pongs  chan []byte // never closed
	hub    *Hub
	closed sync.Once
}

func (c *client) wants(msgType string) bool {
	return c.types == nil || c.types[msgType]
}

type broadcastMsg struct {
	msgType string
	data    []byte
}

// Hub fans feed messages out to connected clients. All client bookkeeping
// happens on the Run goroutine.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan broadcastMsg
	logger     *slog.Logger

	mu    sync.RWMutex // guards count
	count int
}

// NewHub creates a hub. Call Run before serving clients.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan broadcastMsg, 256),
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount(0)
			return

		case c := <-h.register:
			h.clients[c] = true
			h.setCount(len(h.clients))
			h.logger.Debug("feed client connected", "client_id", c.id)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.setCount(len(h.clients))
				h.logger.Debug("feed client disconnected", "client_id", c.id)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(msg.msgType) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer: drop it rather than stall the feed.
					delete(h.clients, c)
					close(c.send)
					h.setCount(len(h.clients))
					h.logger.Warn("feed client too slow, disconnected", "client_id", c.id)
				}
			}
		}
	}
}

// Broadcast queues msg for every interested client. It never blocks: when
// the queue is full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode feed message", "type", msg.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- broadcastMsg{msgType: msg.Type, data: data}:
	default:
		h.logger.Warn("feed queue full, message dropped", "type", msg.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// attach registers conn and runs its pumps until the connection ends.
// types restricts the message types delivered; empty means all.
func (h *Hub) attach(ctx context.Context, id string, conn *websocket.Conn, types []string) {
	c := &client{
		id:    id,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		pongs: make(chan []byte, 1),
		hub:   h,
	}
	if len(types) > 0 {
		c.types = make(map[string]bool, len(types))
		for _, t := range types {
			c.types[strings.TrimSpace(t)] = true
		}
	}

	select {
	case h.register <- c:
	case <-ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

func (c *client) close() {
	c.closed.Do(func() {
		// Run may already have dropped the client.
		select {
		case c.hub.unregister <- c:
		case <-time.After(time.Second):
		}
		c.conn.Close()
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case data := <-c.pongs:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump answers application-level pings and detects disconnects.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("feed read error", "client_id", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == TypePing {
			pong, _ := json.Marshal(Message{Type: TypePong})
			select {
			case c.pongs <- pong:
			default:
			}
		}
	}
}
