package websocket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// EventSource is the part of the realtime session the hub listens to.
type EventSource interface {
	OnNotification(handler func(domain.Notification)) ports.Subscription
	OnTicketUpdate(handler func(domain.TicketUpdate)) ports.Subscription
	OnNewTicket(handler func(domain.NewTicketAlert)) ports.Subscription
	OnConnectionChange(handler func(domain.ConnectionChange)) ports.Subscription
}

// Hub maintains the set of local viewers and fans session events out to them.
type Hub struct {
	// Clients keyed by viewer ID
	clients map[uuid.UUID]*Client

	// Rooms maps categories to subscribed viewers
	rooms map[domain.Category]map[*Client]bool

	// Broadcast channel for events
	broadcast chan domain.Event

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// done is closed once Run returns
	done     chan struct{}
	doneOnce sync.Once

	// mu protects the clients and rooms maps
	mu sync.RWMutex

	logger *slog.Logger
}

// NewHub creates a new viewer hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		rooms:      make(map[domain.Category]map[*Client]bool),
		broadcast:  make(chan domain.Event, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With("component", "websocket_hub"),
	}
}

// Attach subscribes the hub to every category of the session. The returned
// subscriptions detach it again.
func (h *Hub) Attach(source EventSource) []ports.Subscription {
	publish := func(c domain.Category) func(any) {
		return func(payload any) {
			_ = h.Broadcast(domain.Event{Type: domain.EventTypeFor(c), Category: c, Payload: payload})
		}
	}

	notification := publish(domain.CategoryNotification)
	update := publish(domain.CategoryTicketUpdate)
	newTicket := publish(domain.CategoryNewTicket)
	change := publish(domain.CategoryConnectionChange)

	return []ports.Subscription{
		source.OnNotification(func(n domain.Notification) { notification(n) }),
		source.OnTicketUpdate(func(u domain.TicketUpdate) { update(u) }),
		source.OnNewTicket(func(a domain.NewTicketAlert) { newTicket(a) }),
		source.OnConnectionChange(func(c domain.ConnectionChange) { change(c) }),
	}
}

// Broadcast queues an event for delivery. Events are dropped when the
// queue is full.
func (h *Hub) Broadcast(event domain.Event) error {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event",
			"event_type", event.Type,
			"category", event.Category,
		)
	}
	return nil
}

// Run starts the hub's event loop and blocks until ctx is cancelled. All
// viewers are disconnected on return.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// Done is closed when the hub stops.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) shutdown() {
	h.doneOnce.Do(func() { close(h.done) })

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.unregisterClient(client)
	}
}

// registerClient adds a viewer and joins its initial rooms
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ViewerID] = client
	for _, category := range client.GetSubscriptions() {
		h.joinLocked(client, category)
	}

	h.logger.Info("viewer registered",
		"viewer_id", client.ViewerID,
		"total_viewers", len(h.clients),
	)
}

// unregisterClient removes a viewer from the hub and all rooms
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ViewerID]; !ok {
		return
	}
	delete(h.clients, client.ViewerID)

	for _, category := range client.GetSubscriptions() {
		h.leaveLocked(client, category)
	}

	client.CloseSend()

	h.logger.Info("viewer unregistered", "viewer_id", client.ViewerID)
}

// broadcastEvent sends an event to every viewer in the event's room
func (h *Hub) broadcastEvent(event domain.Event) {
	h.mu.RLock()
	room, ok := h.rooms[event.Category]
	if !ok {
		h.mu.RUnlock()
		return
	}

	clients := make([]*Client, 0, len(room))
	for client := range room {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	h.logger.Debug("broadcasting event",
		"event_type", event.Type,
		"category", event.Category,
		"client_count", len(clients),
	)

	for _, client := range clients {
		select {
		case client.Send <- event:
		default:
			// Run owns the Unregister channel, so drop the viewer directly.
			h.logger.Warn("viewer send buffer full, unregistering",
				"viewer_id", client.ViewerID,
			)
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) subscribe(client *Client, category domain.Category) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.AddSubscription(category)
	if _, ok := h.clients[client.ViewerID]; ok {
		h.joinLocked(client, category)
	}

	h.logger.Debug("viewer subscribed", "viewer_id", client.ViewerID, "category", category)
}

func (h *Hub) unsubscribe(client *Client, category domain.Category) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(client, category)
	client.RemoveSubscription(category)

	h.logger.Debug("viewer unsubscribed", "viewer_id", client.ViewerID, "category", category)
}

func (h *Hub) joinLocked(client *Client, category domain.Category) {
	if h.rooms[category] == nil {
		h.rooms[category] = make(map[*Client]bool)
	}
	h.rooms[category][client] = true
}

func (h *Hub) leaveLocked(client *Client, category domain.Category) {
	if room, ok := h.rooms[category]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, category)
		}
	}
}

// ClientCount returns the number of connected viewers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of categories with at least one viewer
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// ClientsInRoom returns the number of viewers subscribed to a category
func (h *Hub) ClientsInRoom(category domain.Category) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[category])
}
