package ports

import (
	"context"
	"fmt"
)

// Close codes used by the realtime client.
const (
	CloseNormal          = 1000
	CloseAbnormal        = 1006
	ClosePolicyViolation = 1008
)

// Transport is one open bidirectional message connection. ReadFrame is
// called from a single goroutine; WriteFrame and Close may be called
// concurrently with it.
type Transport interface {
	// ReadFrame blocks for the next text frame. When the connection ends it
	// returns a *CloseError.
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close(code int, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// CloseError describes how a transport ended.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transport closed with code %d", e.Code)
	}
	return fmt.Sprintf("transport closed with code %d: %s", e.Code, e.Reason)
}

// HandshakeError is returned by Dial when the server answers the upgrade
// request with an HTTP status instead of switching protocols.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected with HTTP %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
