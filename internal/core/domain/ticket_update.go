package domain

import (
	"encoding/json"
	"errors"
)

// ErrTicketIDRequired is returned when a ticket event names no ticket.
var ErrTicketIDRequired = errors.New("ticket id is required")

// TicketUpdate reports changed fields on an existing ticket.
type TicketUpdate struct {
	TicketID   ID              `json:"ticketId"`
	Status     string          `json:"status,omitempty"`
	Priority   string          `json:"priority,omitempty"`
	Subject    string          `json:"subject,omitempty"`
	AssigneeID ID              `json:"assigneeId,omitempty"`
	UpdatedBy  ID              `json:"updatedBy,omitempty"`
	Timestamp  Timestamp       `json:"timestamp"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

type ticketWire struct {
	TicketID   ID        `json:"ticket_id"`
	MongoID    ID        `json:"_id"`
	ID         ID        `json:"id"`
	Status     string    `json:"status"`
	Priority   string    `json:"priority"`
	Subject    string    `json:"subject"`
	Title      string    `json:"title"`
	AssigneeID ID        `json:"assigned_to"`
	UpdatedBy  ID        `json:"updated_by"`
	UpdatedAt  Timestamp `json:"updated_at"`
	CreatedAt  Timestamp `json:"created_at"`
}

// ParseTicketUpdate decodes a ticket_update payload. fallbackID is the
// frame-level ticket_id, used when the payload has none; frameTime stamps
// the update when the payload has no updated_at.
func ParseTicketUpdate(raw json.RawMessage, fallbackID ID, frameTime Timestamp) (TicketUpdate, error) {
	var w ticketWire
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &w); err != nil {
			return TicketUpdate{}, err
		}
	}

	u := TicketUpdate{
		TicketID:   firstID(w.TicketID, w.MongoID, w.ID, fallbackID),
		Status:     w.Status,
		Priority:   w.Priority,
		Subject:    w.Subject,
		AssigneeID: w.AssigneeID,
		UpdatedBy:  w.UpdatedBy,
		Timestamp:  w.UpdatedAt,
		Raw:        append(json.RawMessage(nil), raw...),
	}
	if u.Subject == "" {
		u.Subject = w.Title
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = frameTime
	}
	if u.TicketID.IsZero() {
		return u, ErrTicketIDRequired
	}
	return u, nil
}

// NewTicketAlert announces a ticket that was just created.
type NewTicketAlert struct {
	ID        ID              `json:"id"`
	Title     string          `json:"title"`
	Priority  string          `json:"priority,omitempty"`
	Status    string          `json:"status,omitempty"`
	CreatedAt Timestamp       `json:"createdAt"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// ParseNewTicket decodes a new_ticket payload. Alerts without an id are
// still delivered.
func ParseNewTicket(raw json.RawMessage) (NewTicketAlert, error) {
	var w ticketWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return NewTicketAlert{}, err
	}

	title := w.Title
	if title == "" {
		title = w.Subject
	}
	return NewTicketAlert{
		ID:        firstID(w.MongoID, w.ID, w.TicketID),
		Title:     title,
		Priority:  w.Priority,
		Status:    w.Status,
		CreatedAt: w.CreatedAt,
		Raw:       append(json.RawMessage(nil), raw...),
	}, nil
}

// TicketSummary is a row of the REST ticket list.
type TicketSummary struct {
	ID        ID        `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	CreatedAt Timestamp `json:"createdAt"`
}

// ParseTicketSummary decodes one ticket from the REST list.
func ParseTicketSummary(raw json.RawMessage) (TicketSummary, error) {
	var w ticketWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return TicketSummary{}, err
	}
	title := w.Title
	if title == "" {
		title = w.Subject
	}
	return TicketSummary{
		ID:        firstID(w.ID, w.MongoID, w.TicketID),
		Title:     title,
		Status:    w.Status,
		Priority:  w.Priority,
		CreatedAt: w.CreatedAt,
	}, nil
}
