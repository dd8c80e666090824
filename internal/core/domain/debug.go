package domain

// DebugInfo is a diagnostic snapshot of a session.
type DebugInfo struct {
	State            ConnectionState  `json:"state"`
	LastError        string           `json:"lastError,omitempty"`
	ErrorKind        string           `json:"errorKind,omitempty"`
	ReconnectAttempt int              `json:"reconnectAttempt"`
	MaxReconnects    int              `json:"maxReconnects"`
	Endpoint         string           `json:"endpoint"`
	HasCredential    bool             `json:"hasCredential"`
	HeartbeatActive  bool             `json:"heartbeatActive"`
	TransportsOpened int              `json:"transportsOpened"`
	Session          *SessionInfo     `json:"session,omitempty"`
	Notifications    int              `json:"notifications"`
	UnreadCount      int              `json:"unreadCount"`
	TicketUpdates    int              `json:"ticketUpdates"`
	StoreVersion     uint64           `json:"storeVersion"`
	Subscribers      map[Category]int `json:"subscribers"`
	SubscribersTotal int              `json:"subscribersTotal"`
}
