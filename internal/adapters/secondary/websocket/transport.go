package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

const (
	// Maximum frame size accepted from the server.
	defaultReadLimit = 1 << 20

	// Time allowed to deliver a close frame.
	closeGrace = time.Second
)

// Config holds dialer settings
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	Header           http.Header
}

// Dialer opens gorilla websocket connections to the realtime endpoint.
type Dialer struct {
	dialer *websocket.Dialer
	cfg    Config
	logger *slog.Logger
}

var _ ports.Dialer = (*Dialer)(nil)

// NewDialer creates a dialer
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout

	return &Dialer{
		dialer: &dialer,
		cfg:    cfg,
		logger: logger.With("component", "websocket_dialer"),
	}
}

// Dial opens a connection. Errors never contain the URL's query, which
// carries the credential.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (ports.Transport, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, d.cfg.Header)
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, &ports.HandshakeError{StatusCode: resp.StatusCode, Err: apperrors.ErrDialFailed}
		}
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDialFailed, redact(err.Error(), rawURL))
	}

	conn.SetReadLimit(d.cfg.ReadLimit)
	d.logger.Debug("websocket connected", "remote_addr", conn.RemoteAddr().String())

	return &Transport{conn: conn, writeTimeout: d.cfg.WriteTimeout}, nil
}

// Transport adapts a gorilla connection to ports.Transport.
type Transport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	closeMu     sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

var _ ports.Transport = (*Transport)(nil)

// ReadFrame returns the next text or binary message.
func (t *Transport) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, t.closeErrorFor(err)
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteFrame sends data as a text message.
func (t *Transport) WriteFrame(data []byte) error {
	if t.isClosed() {
		return apperrors.ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close ends the connection. Code 1006 cannot be sent on the wire, so it
// drops the connection without a close frame.
func (t *Transport) Close(code int, reason string) error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeCode = code
	t.closeReason = reason
	t.closeMu.Unlock()

	if code != ports.CloseAbnormal {
		t.writeMu.Lock()
		err := t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(closeGrace))
		t.writeMu.Unlock()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			_ = t.conn.Close()
			return fmt.Errorf("send close frame: %w", err)
		}
	}
	return t.conn.Close()
}

func (t *Transport) isClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}

// closeErrorFor maps a read error to the close that caused it. When we
// closed the connection ourselves the read fails with a network error, so
// our own code is reported instead.
func (t *Transport) closeErrorFor(err error) *ports.CloseError {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &ports.CloseError{Code: ce.Code, Reason: ce.Text}
	}

	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return &ports.CloseError{Code: t.closeCode, Reason: t.closeReason}
	}
	return &ports.CloseError{Code: ports.CloseAbnormal, Reason: err.Error()}
}

// redact removes the query string of rawURL from msg.
func redact(msg, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, u.RawQuery, "[REDACTED]")
	if token := u.Query().Get("token"); token != "" {
		msg = strings.ReplaceAll(msg, token, "[REDACTED]")
	}
	return msg
}
