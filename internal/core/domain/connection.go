package domain

// ConnectionState is the lifecycle state of the realtime connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
	StateFailed       ConnectionState = "failed"
)

// IsValid checks if the state is one of the known states
func (s ConnectionState) IsValid() bool {
	switch s {
	case StateDisconnected, StateConnecting, StateConnected, StateReconnecting, StateError, StateFailed:
		return true
	}
	return false
}

// IsActive reports whether a transport is open or being opened.
func (s ConnectionState) IsActive() bool {
	return s == StateConnecting || s == StateConnected
}

// ConnectionChange is published on every state transition.
type ConnectionChange struct {
	Connected bool            `json:"connected"`
	Status    ConnectionState `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// SessionInfo is what the server tells us about ourselves in the handshake.
type SessionInfo struct {
	UserID  ID     `json:"user_id,omitempty"`
	User    string `json:"user,omitempty"`
	Role    string `json:"role,omitempty"`
	Message string `json:"message,omitempty"`
}
