package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
)

// ClientConfig holds the timing of a viewer connection.
type ClientConfig struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration

	// Send pings to peer with this period. Must be less than PongWait.
	PingPeriod time.Duration

	// Maximum message size allowed from peer.
	MaxMessageSize int64
}

// DefaultClientConfig returns the standard viewer timings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 1024,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	def := DefaultClientConfig()
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	return c
}

// Client is a middleman between a viewer's websocket connection and the hub.
type Client struct {
	Hub *Hub

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan domain.Event

	// ViewerID identifies this connection in logs.
	ViewerID uuid.UUID

	// Subscriptions maps categories to true.
	Subscriptions map[domain.Category]bool

	cfg ClientConfig

	// closeOnce ensures the Send channel is only closed once
	closeOnce sync.Once

	// mu protects Subscriptions map
	mu sync.RWMutex

	logger *slog.Logger
}

// NewClient creates a viewer subscribed to the given categories.
func NewClient(hub *Hub, conn *websocket.Conn, categories []domain.Category, cfg ClientConfig, logger *slog.Logger) *Client {
	viewerID := uuid.New()
	subs := make(map[domain.Category]bool, len(categories))
	for _, c := range categories {
		subs[c] = true
	}
	return &Client{
		Hub:           hub,
		Conn:          conn,
		Send:          make(chan domain.Event, 256),
		ViewerID:      viewerID,
		Subscriptions: subs,
		cfg:           cfg.withDefaults(),
		logger:        logger.With("viewer_id", viewerID.String()),
	}
}

// CloseSend safely closes the Send channel exactly once
func (c *Client) CloseSend() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

func (c *Client) AddSubscription(category domain.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Subscriptions[category] = true
}

func (c *Client) RemoveSubscription(category domain.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Subscriptions, category)
}

func (c *Client) HasSubscription(category domain.Category) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Subscriptions[category]
}

// GetSubscriptions returns the subscribed categories in a stable order.
func (c *Client) GetSubscriptions() []domain.Category {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subs := make([]domain.Category, 0, len(c.Subscriptions))
	for _, category := range domain.Categories {
		if c.Subscriptions[category] {
			subs = append(subs, category)
		}
	}
	return subs
}

// Start registers the viewer and runs its pumps. It returns false when the
// hub has already stopped.
func (c *Client) Start() bool {
	select {
	case c.Hub.Register <- c:
	case <-c.Hub.Done():
		_ = c.Conn.Close()
		return false
	}

	go c.WritePump()
	go c.ReadPump()
	return true
}

// ReadPump pumps messages from the websocket connection to the hub.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.Done():
		}
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		c.handleIncomingMessage(message)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if !ok {
				// The hub closed the channel.
				if err := c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "")); err != nil {
					c.logger.Debug("failed to send close message", "error", err)
				}
				return
			}

			if err := c.writeJSON(event); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

func (c *Client) writeJSON(event domain.Event) error {
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(event); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}

// --- Incoming Message Handling ---

// ClientMessage is the structure for messages sent from the viewer.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SubscribePayload is the payload for subscribe/unsubscribe messages
type SubscribePayload struct {
	Category domain.Category `json:"category"`
}

func (c *Client) handleIncomingMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("failed to unmarshal client message", "error", err)
		c.reply(domain.EventError, map[string]string{"message": "invalid message"})
		return
	}

	switch msg.Type {
	case "SUBSCRIBE":
		if category, ok := c.parseCategory(msg.Payload); ok {
			c.Hub.subscribe(c, category)
		}

	case "UNSUBSCRIBE":
		if category, ok := c.parseCategory(msg.Payload); ok {
			c.Hub.unsubscribe(c, category)
		}

	case "PING":
		c.reply(domain.EventPong, nil)

	default:
		c.logger.Debug("received unknown message type", "type", msg.Type)
	}
}

func (c *Client) parseCategory(payload json.RawMessage) (domain.Category, bool) {
	var p SubscribePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Warn("failed to unmarshal subscribe payload", "error", err)
		}
	}
	if !p.Category.IsValid() {
		c.reply(domain.EventError, map[string]string{"message": "unknown category: " + string(p.Category)})
		return "", false
	}
	return p.Category, true
}

// reply queues a direct response. It is skipped when the buffer is full.
func (c *Client) reply(eventType domain.EventType, payload any) {
	defer func() {
		// Send may already be closed by the hub.
		_ = recover()
	}()
	select {
	case c.Send <- domain.Event{Type: eventType, Payload: payload}:
	default:
	}
}
