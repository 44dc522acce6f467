// Package ws pushes live balance updates to connected users over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 64
)

// UserHeader carries the caller identity set by the upstream gateway.
const UserHeader = "X-User-ID"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type client struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub routes messages from per-user pub/sub channels to the WebSocket
// connections of that user only.
type Hub struct {
	bus        domain.Subscriber
	clients    map[string]map[*client]struct{}
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub fed by bus.
func NewHub(bus domain.Subscriber, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		clients:    make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run subscribes to every user balance channel and serves the hub until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	signals, err := h.bus.Subscribe(ctx, domain.UserBalanceChannelPattern)
	if err != nil {
		return err
	}
	h.logger.Info("ws: subscribed", slog.String("pattern", domain.UserBalanceChannelPattern))

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil

		case sig, ok := <-signals:
			if !ok {
				h.closeAll()
				return nil
			}
			userID, ok := userFromChannel(sig.Channel)
			if !ok {
				continue
			}
			h.route(userID, sig.Payload)

		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.String("user_id", c.userID))

		case c := <-h.unregister:
			h.remove(c)
			h.logger.Info("ws: client disconnected", slog.String("user_id", c.userID))
		}
	}
}

// route sends data to every connection of the user. Slow clients drop the
// message rather than stall the hub.
func (h *Hub) route(userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws: dropping message for slow client", slog.String("user_id", userID))
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
}

// Connected returns the number of open connections for userID.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// userFromChannel extracts the user id from a UserBalanceChannel name.
func userFromChannel(channel string) (string, bool) {
	const prefix, suffix = "ch:user:", ":balance"
	if !strings.HasPrefix(channel, prefix) || !strings.HasSuffix(channel, suffix) {
		return "", false
	}
	id := channel[len(prefix) : len(channel)-len(suffix)]
	return id, id != ""
}

// HandleWS upgrades the request and registers the connection for the user
// named by the gateway's X-User-ID header. Requests without it are rejected.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		http.Error(w, `{"error":"missing user id"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

func (c *client) sendHello() {
	msg, err := json.Marshal(map[string]any{
		"type":    "connected",
		"payload": map[string]string{"user_id": c.userID},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// readPump discards inbound frames and keeps the read deadline alive.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (c *client) writePump() {
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
