package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrHubBusy is returned by Broadcast when the broadcast queue is full
var ErrHubBusy = errors.New("websocket hub busy, message dropped")

// Message represents a WebSocket message
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Authenticator decides whether an upgrade request may connect. It returns
// an identifier for logging.
type Authenticator func(r *http.Request) (string, bool)

type envelope struct {
	data      []byte
	monitorID int // 0 when the message is not tied to a monitor
}

// Client represents a WebSocket client
type Client struct {
	ID   string
	Conn *websocket.Conn
	Hub  *Hub
	Send chan []byte

	mu            sync.Mutex
	subscriptions map[int]bool // empty means every monitor
}

// Hub maintains active clients and broadcasts messages
type Hub struct {
	clients        map[*Client]bool
	broadcast      chan envelope
	register       chan *Client
	unregister     chan *Client
	done           chan struct{}
	mu             sync.RWMutex
	auth           Authenticator
	allowedOrigins []string
	logger         *zap.Logger
	dropped        atomic.Int64
}

// NewHub creates a new Hub
func NewHub(auth Authenticator, allowedOrigins []string, logger *zap.Logger) *Hub {
	return &Hub{
		clients:        make(map[*Client]bool),
		broadcast:      make(chan envelope, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		auth:           auth,
		allowedOrigins: allowedOrigins,
		logger:         logger.Named("websocket"),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("WebSocket client connected", zap.String("client", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.logger.Info("WebSocket client disconnected", zap.String("client", client.ID))
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(env.monitorID) {
					continue
				}
				select {
				case client.Send <- env.data:
				default:
					// Slow consumer; drop it rather than stall the hub.
					close(client.Send)
					delete(h.clients, client)
					h.logger.Warn("WebSocket client too slow, disconnecting", zap.String("client", client.ID))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for every interested client. It never blocks.
func (h *Hub) Broadcast(msgType string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msgJSON, err := json.Marshal(Message{Type: msgType, Payload: payloadJSON})
	if err != nil {
		return err
	}

	var scope struct {
		MonitorID int `json:"monitor_id"`
	}
	_ = json.Unmarshal(payloadJSON, &scope)

	select {
	case h.broadcast <- envelope{data: msgJSON, monitorID: scope.MonitorID}:
		return nil
	default:
		h.dropped.Add(1)
		return ErrHubBusy
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many broadcasts were dropped on a full queue
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// HandleWebSocket handles WebSocket connections
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.auth(r)
	if !ok {
		h.logger.Info("WebSocket connection rejected", zap.String("remote", r.RemoteAddr))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	allowedOrigins := h.allowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"localhost:3000"}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originHosts(allowedOrigins),
	})
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:            subject + "@" + r.RemoteAddr,
		Conn:          conn,
		Hub:           h,
		Send:          make(chan []byte, 256),
		subscriptions: make(map[int]bool),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go client.writePump()
	go client.readPump()
}

// JWTAuthenticator accepts HS256 tokens from the "token" query parameter or
// the Authorization header.
func JWTAuthenticator(secret string) Authenticator {
	return func(r *http.Request) (string, bool) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			return "", false
		}

		parsed, err := jwt.Parse(token, func(token *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
		if err != nil || !parsed.Valid {
			return "", false
		}

		claims, _ := parsed.Claims.(jwt.MapClaims)
		uid, ok := claims["user_id"].(float64)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("user:%d", int(uid)), true
	}
}

// originHosts strips schemes, the form websocket.AcceptOptions matches on
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, rest, ok := strings.Cut(o, "://"); ok {
			o = rest
		}
		hosts = append(hosts, strings.TrimRight(o, "/"))
	}
	return hosts
}

func (c *Client) wants(monitorID int) bool {
	if monitorID == 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[monitorID]
}

// readPump reads messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()
	for {
		_, data, err := c.Conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
			default:
				c.Hub.logger.Debug("WebSocket read ended", zap.String("client", c.ID), zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Hub.logger.Debug("Failed to parse WebSocket message", zap.String("client", c.ID), zap.Error(err))
			continue
		}
		c.handleMessage(msg)
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	for message := range c.Send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.Conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
			default:
				c.Hub.logger.Debug("WebSocket write failed", zap.String("client", c.ID), zap.Error(err))
			}
			c.Conn.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}
	c.Conn.Close(websocket.StatusNormalClosure, "")
}

type subscription struct {
	MonitorIDs []int `json:"monitor_ids"`
}

// handleMessage handles incoming WebSocket messages
func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "subscribe", "unsubscribe":
		var sub subscription
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &sub); err != nil {
				c.reply("error", map[string]string{"error": "invalid subscription payload"})
				return
			}
		}
		c.mu.Lock()
		for _, id := range sub.MonitorIDs {
			if msg.Type == "subscribe" {
				c.subscriptions[id] = true
			} else {
				delete(c.subscriptions, id)
			}
		}
		ids := make([]int, 0, len(c.subscriptions))
		for id := range c.subscriptions {
			ids = append(ids, id)
		}
		c.mu.Unlock()
		c.reply(msg.Type+"d", subscription{MonitorIDs: ids})
	case "ping":
		c.reply("pong", struct{}{})
	default:
		c.Hub.logger.Debug("Unknown WebSocket message type", zap.String("client", c.ID), zap.String("type", msg.Type))
	}
}

// reply queues a direct answer. It is dropped if the client is already gone
// or its buffer is full.
func (c *Client) reply(msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	out, err := json.Marshal(Message{Type: msgType, Payload: data})
	if err != nil {
		return
	}

	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if !c.Hub.clients[c] {
		return
	}
	select {
	case c.Send <- out:
	default:
	}
}
