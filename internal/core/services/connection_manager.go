package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lorrc/service-desk-realtime/internal/auth"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/clock"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// ManagerConfig holds connection manager settings
type ManagerConfig struct {
	Endpoint          string
	Policy            ReconnectPolicy
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration // 0 disables the timeout
	AuthCloseCode     int
}

// ManagerStatus is a consistent snapshot of the connection.
type ManagerStatus struct {
	State            domain.ConnectionState
	LastError        string
	ErrorKind        apperrors.Kind
	Attempt          int
	HasCredential    bool
	TransportsOpened int
	Session          *domain.SessionInfo
	HeartbeatActive  bool
}

// ConnectionManager owns the single realtime connection: it validates the
// credential, dials, waits for the handshake, keeps the heartbeat going and
// reconnects with backoff. All state is guarded by mu. Connection changes are
// queued under mu and delivered outside it, in the order they happened.
type ConnectionManager struct {
	cfg       ManagerConfig
	endpoint  *url.URL
	dialer    ports.Dialer
	validator *auth.TokenValidator
	router    *Router
	registry  *Registry
	heartbeat *Heartbeat
	clock     clock.Clock
	logger    *slog.Logger

	mu               sync.Mutex
	state            domain.ConnectionState
	lastError        string
	errorKind        apperrors.Kind
	attempt          int
	manuallyClosed   bool
	token            string
	generation       uint64
	dialing          bool
	cancelDial       context.CancelFunc
	transport        ports.Transport
	session          *domain.SessionInfo
	reconnectTimer   clock.Timer
	handshakeTimer   clock.Timer
	transportsOpened int
	baseCtx          context.Context

	out changeOutbox
}

// changeOutbox delivers connection changes one at a time in queue order.
// Whoever finds it idle drains it; later callers only enqueue, so a slow
// subscriber delays delivery but never reorders it.
type changeOutbox struct {
	mu       sync.Mutex
	pending  []domain.ConnectionChange
	draining bool
}

// NewConnectionManager creates a disconnected manager.
func NewConnectionManager(
	cfg ManagerConfig,
	dialer ports.Dialer,
	validator *auth.TokenValidator,
	router *Router,
	registry *Registry,
	clk clock.Clock,
	logger *slog.Logger,
) (*ConnectionManager, error) {
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse realtime endpoint: %w", err)
	}
	if cfg.Policy.Base <= 0 {
		cfg.Policy = DefaultReconnectPolicy()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.AuthCloseCode == 0 {
		cfg.AuthCloseCode = ports.ClosePolicyViolation
	}
	if clk == nil {
		clk = clock.Real()
	}

	logger = logger.With("component", "connection")

	return &ConnectionManager{
		cfg:       cfg,
		endpoint:  endpoint,
		dialer:    dialer,
		validator: validator,
		router:    router,
		registry:  registry,
		heartbeat: NewHeartbeat(clk, cfg.HeartbeatInterval, logger),
		clock:     clk,
		logger:    logger,
		state:     domain.StateDisconnected,
		baseCtx:   context.Background(),
	}, nil
}

// SetCredential replaces the token used by the next connection attempt.
func (m *ConnectionManager) SetCredential(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// Connect starts a connection attempt. It is a no-op while a transport is
// open or being opened. Failures are reported on connection-change.
func (m *ConnectionManager) Connect(ctx context.Context) {
	m.connect(ctx, nil)
}

func (m *ConnectionManager) connect(ctx context.Context, reconnectGen *uint64) {
	m.mu.Lock()

	if reconnectGen != nil {
		if *reconnectGen != m.generation || m.state != domain.StateReconnecting {
			m.mu.Unlock()
			return
		}
		ctx = m.baseCtx
		m.reconnectTimer = nil
	} else {
		m.baseCtx = context.WithoutCancel(ctx)
	}

	if m.dialing || m.transport != nil {
		m.mu.Unlock()
		m.logger.Debug("connect skipped, transport open or opening")
		return
	}
	m.stopTimerLocked(&m.reconnectTimer)

	validation := m.validator.Validate(m.token)
	if !validation.Valid {
		m.failLocked(apperrors.KindCredential, "Authentication error: "+validation.Reason)
		m.mu.Unlock()
		m.logger.Warn("connect refused", "reason", validation.Reason)
		m.flush()
		return
	}

	m.manuallyClosed = false
	m.generation++
	gen := m.generation
	m.dialing = true

	dialCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	dialCtx = logging.WithConnectionID(dialCtx, uuid.NewString())
	m.cancelDial = cancel

	target := m.endpointWithToken(m.token)
	m.lastError = ""
	m.errorKind = ""
	m.setStateLocked(domain.StateConnecting)
	m.mu.Unlock()

	m.flush()
	go m.dial(dialCtx, gen, target)
}

func (m *ConnectionManager) dial(ctx context.Context, gen uint64, target string) {
	logger := logging.LoggerFromContext(ctx, m.logger)
	logger.Info("dialing", "endpoint", m.cfg.Endpoint)

	t, err := m.dialer.Dial(ctx, target)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if t != nil {
			_ = t.Close(ports.CloseNormal, "superseded")
		}
		return
	}
	m.dialing = false
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	if err != nil {
		var hs *ports.HandshakeError
		if errors.As(err, &hs) && (hs.StatusCode == http.StatusUnauthorized || hs.StatusCode == http.StatusForbidden) {
			m.manuallyClosed = true
			m.failLocked(apperrors.KindAuthRejected,
				fmt.Sprintf("Authentication rejected (HTTP %d)", hs.StatusCode))
		} else {
			m.failLocked(apperrors.KindTransport, "Connection failed: "+err.Error())
			m.scheduleReconnectLocked(gen)
		}
		m.mu.Unlock()

		logger.Warn("dial failed", "error", err)
		m.flush()
		return
	}

	m.transport = t
	m.transportsOpened++
	if m.cfg.HandshakeTimeout > 0 {
		m.handshakeTimer = m.clock.AfterFunc(m.cfg.HandshakeTimeout, func() {
			m.handshakeExpired(gen)
		})
	}
	m.mu.Unlock()

	logger.Info("transport open, awaiting handshake")
	m.readLoop(ctx, gen, t)
}

func (m *ConnectionManager) readLoop(ctx context.Context, gen uint64, t ports.Transport) {
	sink := &transportSink{m: m, gen: gen, t: t, ctx: ctx}
	for {
		raw, err := t.ReadFrame()
		if err != nil {
			m.transportEnded(ctx, gen, t, err)
			return
		}
		if !m.owns(gen, t) {
			return
		}
		m.router.Route(ctx, sink, raw)
	}
}

func (m *ConnectionManager) owns(gen uint64, t ports.Transport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation && m.transport == t
}

func (m *ConnectionManager) transportEnded(ctx context.Context, gen uint64, t ports.Transport, err error) {
	logger := logging.LoggerFromContext(ctx, m.logger)
	code, reason := closeDetails(err)

	m.mu.Lock()
	if gen != m.generation || m.transport != t {
		m.mu.Unlock()
		return
	}
	m.transport = nil
	m.session = nil
	m.stopTimerLocked(&m.handshakeTimer)
	m.heartbeat.Stop()

	switch {
	case m.manuallyClosed:
		if m.state != domain.StateError {
			m.setStateLocked(domain.StateDisconnected)
		}
	case code == m.cfg.AuthCloseCode:
		m.manuallyClosed = true
		m.failLocked(apperrors.KindAuthRejected,
			fmt.Sprintf("Authentication rejected (close %d: %s)", code, reason))
	default:
		if code != ports.CloseNormal && m.state != domain.StateError {
			m.failLocked(apperrors.KindTransport, fmt.Sprintf("Connection lost (close %d)", code))
		}
		m.scheduleReconnectLocked(gen)
	}
	m.mu.Unlock()

	logger.Info("transport closed", "code", code, "reason", reason)
	m.flush()
}

func (m *ConnectionManager) handshakeExpired(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != domain.StateConnecting || m.transport == nil {
		m.mu.Unlock()
		return
	}
	m.handshakeTimer = nil
	t := m.transport
	m.failLocked(apperrors.KindTransport, apperrors.ErrHandshakeTimeout.Error())
	m.mu.Unlock()

	m.logger.Warn("handshake timed out", "timeout", m.cfg.HandshakeTimeout)
	m.flush()
	_ = t.Close(ports.CloseAbnormal, "handshake timeout")
}

// scheduleReconnectLocked arms the backoff timer or gives up.
func (m *ConnectionManager) scheduleReconnectLocked(gen uint64) {
	delay, ok := m.cfg.Policy.Next(m.attempt)
	if !ok {
		m.lastError = "Max reconnection attempts reached"
		m.logger.Warn("giving up", "attempts", m.attempt)
		m.setStateLocked(domain.StateFailed)
		return
	}

	m.attempt++
	m.stopTimerLocked(&m.reconnectTimer)
	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.connect(context.Background(), &gen)
	})
	m.logger.Info("reconnect scheduled",
		"attempt", m.attempt,
		"max_attempts", m.cfg.Policy.MaxAttempts,
		"delay", delay,
	)
	m.setStateLocked(domain.StateReconnecting)
}

// Disconnect closes the transport cleanly and cancels pending timers.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.generation++
	m.manuallyClosed = true
	m.stopTimerLocked(&m.reconnectTimer)
	m.stopTimerLocked(&m.handshakeTimer)
	m.heartbeat.Stop()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.dialing = false
	t := m.transport
	m.transport = nil
	m.session = nil
	m.attempt = 0
	m.lastError = ""
	m.errorKind = ""
	changed := m.setStateLocked(domain.StateDisconnected)
	m.mu.Unlock()

	if t != nil {
		if err := t.Close(ports.CloseNormal, "client disconnect"); err != nil {
			m.logger.Debug("close after disconnect", "error", err)
		}
	}
	if changed {
		m.logger.Info("disconnected")
	}
	m.flush()
}

// ForceReconnect disconnects, resets the attempt counter and connects again.
func (m *ConnectionManager) ForceReconnect(ctx context.Context) {
	m.Disconnect()
	m.Connect(ctx)
}

// Send writes v as a JSON frame on the open transport.
func (m *ConnectionManager) Send(v any) error {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	return writeJSON(t, v)
}

func (m *ConnectionManager) sendOn(gen uint64, v any) error {
	m.mu.Lock()
	var t ports.Transport
	if gen == m.generation {
		t = m.transport
	}
	m.mu.Unlock()
	return writeJSON(t, v)
}

func writeJSON(t ports.Transport, v any) error {
	if t == nil {
		return apperrors.ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return t.WriteFrame(data)
}

// State returns the current connection state.
func (m *ConnectionManager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot of the connection.
func (m *ConnectionManager) Status() ManagerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var session *domain.SessionInfo
	if m.session != nil {
		copied := *m.session
		session = &copied
	}
	return ManagerStatus{
		State:            m.state,
		LastError:        m.lastError,
		ErrorKind:        m.errorKind,
		Attempt:          m.attempt,
		HasCredential:    m.token != "",
		TransportsOpened: m.transportsOpened,
		Session:          session,
		HeartbeatActive:  m.heartbeat.Active(),
	}
}

// Endpoint returns the websocket URL without the credential.
func (m *ConnectionManager) Endpoint() string {
	return m.cfg.Endpoint
}

// MaxAttempts returns the reconnect attempt limit.
func (m *ConnectionManager) MaxAttempts() int {
	return m.cfg.Policy.MaxAttempts
}

func (m *ConnectionManager) endpointWithToken(token string) string {
	u := *m.endpoint
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// setStateLocked moves to s and queues a change. It reports false when the
// state was already s.
func (m *ConnectionManager) setStateLocked(s domain.ConnectionState) bool {
	if m.state == s {
		return false
	}
	m.state = s
	m.changeLocked()
	return true
}

// failLocked records an error and always reports it, even when the state
// was already error.
func (m *ConnectionManager) failLocked(kind apperrors.Kind, message string) {
	m.lastError = message
	m.errorKind = kind
	m.state = domain.StateError
	m.changeLocked()
}

// changeLocked snapshots the state and queues it for delivery.
func (m *ConnectionManager) changeLocked() {
	change := domain.ConnectionChange{
		Connected: m.state == domain.StateConnected,
		Status:    m.state,
		Error:     m.lastError,
	}
	m.out.mu.Lock()
	m.out.pending = append(m.out.pending, change)
	m.out.mu.Unlock()
}

func (m *ConnectionManager) stopTimerLocked(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// flush delivers queued changes unless another goroutine is already doing
// so. Must be called without mu held.
func (m *ConnectionManager) flush() {
	o := &m.out
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true
	for len(o.pending) > 0 {
		change := o.pending[0]
		o.pending = o.pending[1:]
		o.mu.Unlock()
		m.registry.Emit(domain.CategoryConnectionChange, change)
		o.mu.Lock()
	}
	o.draining = false
	o.mu.Unlock()
}

func closeDetails(err error) (int, string) {
	var ce *ports.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	return ports.CloseAbnormal, err.Error()
}

// transportSink ties lifecycle frames to the transport they arrived on, so
// a frame from a superseded transport cannot change the current state.
type transportSink struct {
	m   *ConnectionManager
	gen uint64
	t   ports.Transport
	ctx context.Context
}

func (s *transportSink) handshakeConfirmed(info domain.SessionInfo) {
	m := s.m
	m.mu.Lock()
	if s.gen != m.generation || m.transport != s.t || m.state == domain.StateConnected {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked(&m.handshakeTimer)
	m.attempt = 0
	m.lastError = ""
	m.errorKind = ""
	m.session = &info
	m.setStateLocked(domain.StateConnected)
	gen := s.gen
	m.heartbeat.Start(func() error {
		return m.sendOn(gen, domain.NewPingFrame(m.clock.Now()))
	})
	m.mu.Unlock()

	logging.LoggerFromContext(s.ctx, m.logger).Info("connection established",
		"user_id", info.UserID.String(),
		"role", info.Role,
	)
	m.flush()
}

func (s *transportSink) serverError(e domain.ServerError, authFailure bool) {
	m := s.m
	m.mu.Lock()
	if s.gen != m.generation || m.transport != s.t {
		m.mu.Unlock()
		return
	}
	kind := apperrors.KindProtocol
	if authFailure {
		kind = apperrors.KindAuthRejected
		m.manuallyClosed = true
		m.heartbeat.Stop()
	}
	m.failLocked(kind, "Server error: "+e.Message)
	m.mu.Unlock()

	m.flush()
	if authFailure {
		logging.LoggerFromContext(s.ctx, m.logger).Warn("authentication failed, not reconnecting")
		_ = s.t.Close(ports.CloseNormal, "authentication failed")
	}
}
