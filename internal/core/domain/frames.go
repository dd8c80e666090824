package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FrameType is the discriminator of an inbound or outbound frame.
type FrameType string

const (
	FrameConnectionEstablished     FrameType = "connection_established"
	FrameNotification              FrameType = "notification"
	FrameTicketUpdate              FrameType = "ticket_update"
	FrameNewTicket                 FrameType = "new_ticket"
	FrameNotificationReadConfirmed FrameType = "notification_read_confirmed"
	FrameError                     FrameType = "error"
	FramePong                      FrameType = "pong"

	FramePing             FrameType = "ping"
	FrameMarkNotification FrameType = "mark_notification_read"
)

// InboundFrame is a decoded server message. Data is left raw until the
// router knows which payload to expect.
type InboundFrame struct {
	Type      FrameType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp Timestamp       `json:"timestamp"`

	// Some servers put the ticket id next to data for ticket_update.
	TicketID ID `json:"ticket_id,omitempty"`
}

// DecodeFrame parses a raw frame. A frame without a type is malformed.
func DecodeFrame(raw []byte) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return InboundFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return InboundFrame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

// PingFrame is the heartbeat sent while connected.
type PingFrame struct {
	Type      FrameType `json:"type"`
	Timestamp int64     `json:"timestamp"`
}

// NewPingFrame builds a ping stamped with epoch milliseconds.
func NewPingFrame(now time.Time) PingFrame {
	return PingFrame{Type: FramePing, Timestamp: now.UnixMilli()}
}

// MarkReadFrame asks the server to mark one notification read.
type MarkReadFrame struct {
	Type           FrameType `json:"type"`
	NotificationID ID        `json:"notification_id"`
}

// NewMarkReadFrame builds a mark_notification_read request.
func NewMarkReadFrame(id ID) MarkReadFrame {
	return MarkReadFrame{Type: FrameMarkNotification, NotificationID: id}
}

// ReadConfirmation is the payload of notification_read_confirmed.
type ReadConfirmation struct {
	NotificationID ID `json:"notification_id"`
}

// ID is a server identifier. Document stores send strings, relational
// backends send numbers; both decode to the same string form.
type ID string

// String returns the ID as a string
func (id ID) String() string { return string(id) }

// IsZero reports whether the ID is empty
func (id ID) IsZero() bool { return id == "" }

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Timestamp accepts RFC 3339, naive ISO-8601 (read as UTC) or epoch
// milliseconds. Unparseable values decode to the zero time.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	t.Time = time.Time{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] != '"' {
		var ms float64
		if err := json.Unmarshal(data, &ms); err != nil {
			return nil
		}
		t.Time = time.UnixMilli(int64(ms)).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
