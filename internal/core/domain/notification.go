package domain

import (
	"encoding/json"
	"errors"
)

// ErrNotificationIDRequired is returned when a notification carries no id.
var ErrNotificationIDRequired = errors.New("notification id is required")

// Notification is a user-facing notification pushed by the server.
// ID is the idempotency key.
type Notification struct {
	ID              ID              `json:"id"`
	Title           string          `json:"title"`
	Message         string          `json:"message"`
	Type            string          `json:"type,omitempty"`
	Priority        string          `json:"priority,omitempty"`
	IsRead          bool            `json:"isRead"`
	CreatedAt       Timestamp       `json:"createdAt"`
	RelatedTicketID ID              `json:"relatedTicketId,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

type notificationWire struct {
	ID               ID        `json:"id"`
	MongoID          ID        `json:"_id"`
	Title            string    `json:"title"`
	Message          string    `json:"message"`
	NotificationType string    `json:"notification_type"`
	Priority         string    `json:"priority"`
	IsRead           bool      `json:"is_read"`
	CreatedAt        Timestamp `json:"created_at"`
	RelatedTicketID  ID        `json:"related_ticket_id"`
	TicketID         ID        `json:"ticket_id"`
	Data             struct {
		TicketID ID `json:"ticket_id"`
	} `json:"data"`
}

// ParseNotification decodes a server notification payload, keeping the raw
// bytes so subscribers see everything the server sent.
func ParseNotification(raw json.RawMessage) (Notification, error) {
	var w notificationWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Notification{}, err
	}

	n := Notification{
		ID:              firstID(w.ID, w.MongoID),
		Title:           w.Title,
		Message:         w.Message,
		Type:            w.NotificationType,
		Priority:        w.Priority,
		IsRead:          w.IsRead,
		CreatedAt:       w.CreatedAt,
		RelatedTicketID: firstID(w.RelatedTicketID, w.Data.TicketID, w.TicketID),
		Raw:             append(json.RawMessage(nil), raw...),
	}
	if n.ID.IsZero() {
		return n, ErrNotificationIDRequired
	}
	return n, nil
}

func firstID(ids ...ID) ID {
	for _, id := range ids {
		if !id.IsZero() {
			return id
		}
	}
	return ""
}
