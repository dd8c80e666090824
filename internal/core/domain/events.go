package domain

// EventType defines the type of event pushed to local viewers.
type EventType string

const (
	EventNotification     EventType = "NOTIFICATION"
	EventTicketUpdate     EventType = "TICKET_UPDATE"
	EventNewTicket        EventType = "NEW_TICKET"
	EventConnectionChange EventType = "CONNECTION_CHANGE"

	// Replies to viewer control messages.
	EventPong  EventType = "PONG"
	EventError EventType = "ERROR"
)

// Event is the payload sent over the local /events WebSocket.
type Event struct {
	Type     EventType   `json:"type"`
	Payload  interface{} `json:"payload"`
	Category Category    `json:"category"` // Used for routing to category "rooms"
}

// EventTypeFor maps a subscription category to the pushed event type.
func EventTypeFor(c Category) EventType {
	switch c {
	case CategoryNotification:
		return EventNotification
	case CategoryTicketUpdate:
		return EventTicketUpdate
	case CategoryNewTicket:
		return EventNewTicket
	default:
		return EventConnectionChange
	}
}
