package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lorrc/service-desk-realtime/internal/auth"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/clock"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
	"golang.org/x/time/rate"
)

// SessionConfig holds everything a Session needs besides its collaborators
type SessionConfig struct {
	Manager          ManagerConfig
	MaxNotifications int
	MaxTicketUpdates int
	AuthErrorCodes   []int
	MarkReadRPS      float64
	MarkReadBurst    int
}

// Session is the facade UIs talk to. It is constructed explicitly, started
// with Init and torn down with Dispose.
type Session struct {
	id          string
	manager     *ConnectionManager
	registry    *Registry
	store       *EventStore
	validator   *auth.TokenValidator
	credentials ports.CredentialStore
	snapshot    ports.SnapshotClient
	markLimiter *rate.Limiter
	logger      *slog.Logger

	mu       sync.Mutex
	token    string
	disposed atomic.Bool
	dispose  sync.Once
}

var _ ports.RealtimeSession = (*Session)(nil)

// NewSession wires the realtime client. snapshot may be nil when no REST
// collaborator is configured.
func NewSession(
	cfg SessionConfig,
	dialer ports.Dialer,
	credentials ports.CredentialStore,
	snapshot ports.SnapshotClient,
	clk clock.Clock,
	logger *slog.Logger,
) (*Session, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.MarkReadRPS <= 0 {
		cfg.MarkReadRPS = 5
	}
	if cfg.MarkReadBurst < 1 {
		cfg.MarkReadBurst = 10
	}

	id := uuid.NewString()
	logger = logger.With("session_id", id)

	registry := NewRegistry(logger)
	store := NewEventStore(cfg.MaxNotifications, cfg.MaxTicketUpdates)
	router := NewRouter(store, registry, cfg.AuthErrorCodes, logger)
	validator := auth.NewTokenValidator(clk)

	manager, err := NewConnectionManager(cfg.Manager, dialer, validator, router, registry, clk, logger)
	if err != nil {
		return nil, err
	}

	return &Session{
		id:          id,
		manager:     manager,
		registry:    registry,
		store:       store,
		validator:   validator,
		credentials: credentials,
		snapshot:    snapshot,
		markLimiter: rate.NewLimiter(rate.Limit(cfg.MarkReadRPS), cfg.MarkReadBurst),
		logger:      logger.With("component", "session"),
	}, nil
}

// ID identifies this session in logs.
func (s *Session) ID() string { return s.id }

// Init loads the stored credential and, if there is one, connects.
func (s *Session) Init(ctx context.Context) {
	if s.disposed.Load() {
		return
	}
	if s.credentials == nil {
		s.logger.Info("no credential store configured, waiting for credential")
		return
	}

	token, err := s.credentials.Load(ctx)
	switch {
	case errors.Is(err, apperrors.ErrNoCredential):
		s.logger.Info("no stored credential, waiting for login")
		return
	case err != nil:
		s.logger.Warn("could not load credential", "error", err)
		return
	}

	s.setToken(token)
	s.Connect(ctx)
}

// Dispose disconnects and reports subscriptions that were never released.
// Later calls on the session do nothing.
func (s *Session) Dispose() {
	s.dispose.Do(func() {
		s.disposed.Store(true)
		s.manager.Disconnect()

		if leaked := s.registry.Total(); leaked > 0 {
			counts := s.registry.Counts()
			s.logger.Warn("session disposed with live subscriptions",
				"total", leaked,
				"notification", counts[domain.CategoryNotification],
				"ticket_update", counts[domain.CategoryTicketUpdate],
				"new_ticket", counts[domain.CategoryNewTicket],
				"connection_change", counts[domain.CategoryConnectionChange],
			)
		}
		s.logger.Info("session disposed")
	})
}

// Connect opens the realtime connection with the current credential.
func (s *Session) Connect(ctx context.Context) {
	if s.disposed.Load() {
		return
	}
	s.manager.Connect(logging.WithSessionID(ctx, s.id))
}

// Disconnect closes the realtime connection and stops reconnecting.
func (s *Session) Disconnect() {
	if s.disposed.Load() {
		return
	}
	s.manager.Disconnect()
}

// ForceReconnect drops the connection and connects again with a fresh
// attempt counter.
func (s *Session) ForceReconnect(ctx context.Context) {
	if s.disposed.Load() {
		return
	}
	s.manager.ForceReconnect(logging.WithSessionID(ctx, s.id))
}

// CredentialChanged is called by the host whenever the user's token changes.
// An empty token logs out; anything else replaces the connection.
func (s *Session) CredentialChanged(ctx context.Context, token string) {
	if s.disposed.Load() {
		return
	}

	s.manager.Disconnect()
	s.setToken(token)

	if token == "" {
		s.store.Reset()
		s.logger.Info("credential removed")
		return
	}

	s.logger.Info("credential changed, reconnecting")
	s.Connect(ctx)
}

// StoreCredential validates token, persists it and reconnects with it.
func (s *Session) StoreCredential(ctx context.Context, token string) error {
	if s.disposed.Load() {
		return apperrors.ErrSessionDisposed
	}
	if v := s.validator.Validate(token); !v.Valid {
		return fmt.Errorf("%s: %w", v.Reason, v.Err)
	}
	if s.credentials != nil {
		if err := s.credentials.Save(ctx, token); err != nil {
			return fmt.Errorf("save credential: %w", err)
		}
	}
	s.CredentialChanged(ctx, token)
	return nil
}

// ClearCredential forgets the stored token and disconnects.
func (s *Session) ClearCredential(ctx context.Context) error {
	if s.disposed.Load() {
		return apperrors.ErrSessionDisposed
	}
	if s.credentials != nil {
		if err := s.credentials.Clear(ctx); err != nil {
			return fmt.Errorf("clear credential: %w", err)
		}
	}
	s.CredentialChanged(ctx, "")
	return nil
}

// OnNotification subscribes to pushed notifications
func (s *Session) OnNotification(handler func(domain.Notification)) ports.Subscription {
	return s.registry.OnNotification(handler)
}

// OnTicketUpdate subscribes to ticket updates
func (s *Session) OnTicketUpdate(handler func(domain.TicketUpdate)) ports.Subscription {
	return s.registry.OnTicketUpdate(handler)
}

// OnNewTicket subscribes to new ticket alerts
func (s *Session) OnNewTicket(handler func(domain.NewTicketAlert)) ports.Subscription {
	return s.registry.OnNewTicket(handler)
}

// OnConnectionChange subscribes to connection state transitions
func (s *Session) OnConnectionChange(handler func(domain.ConnectionChange)) ports.Subscription {
	return s.registry.OnConnectionChange(handler)
}

// MarkNotificationAsRead asks the server to mark a notification read. The
// stored copy changes only when the server confirms.
func (s *Session) MarkNotificationAsRead(ctx context.Context, id domain.ID) error {
	if s.disposed.Load() {
		return apperrors.ErrSessionDisposed
	}
	if id.IsZero() {
		return apperrors.NewValidationError(apperrors.ErrBadRequest, "notification id is required", nil)
	}
	if !s.markLimiter.Allow() {
		return apperrors.ErrRateLimited
	}
	if err := s.manager.Send(domain.NewMarkReadFrame(id)); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	logging.LoggerFromContext(ctx, s.logger).Debug("mark read requested", "notification_id", id.String())
	return nil
}

// MarkAllNotificationsRead calls the REST bulk endpoint and, once it
// succeeds, marks every stored notification read.
func (s *Session) MarkAllNotificationsRead(ctx context.Context) error {
	if s.disposed.Load() {
		return apperrors.ErrSessionDisposed
	}
	token, err := s.restToken()
	if err != nil {
		return err
	}
	if err := s.snapshot.MarkAllNotificationsRead(ctx, token); err != nil {
		s.logger.Warn("mark all read failed", "error", err)
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	changed := s.store.MarkAllRead()
	s.logger.Info("all notifications marked read", "changed", changed)
	return nil
}

// LoadSnapshot seeds the store from the REST notification list and returns
// the current ticket list. A failure never affects the live feed.
func (s *Session) LoadSnapshot(ctx context.Context) ([]domain.TicketSummary, error) {
	if s.disposed.Load() {
		return nil, apperrors.ErrSessionDisposed
	}
	token, err := s.restToken()
	if err != nil {
		return nil, err
	}

	notifications, err := s.snapshot.ListNotifications(ctx, token)
	if err != nil {
		s.logger.Warn("notification snapshot failed", "error", err)
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	added := s.store.Seed(notifications)

	tickets, err := s.snapshot.ListTickets(ctx, token)
	if err != nil {
		s.logger.Warn("ticket snapshot failed", "error", err)
		return nil, fmt.Errorf("list tickets: %w", err)
	}

	s.logger.Info("snapshot loaded", "notifications_added", added, "tickets", len(tickets))
	return tickets, nil
}

// State returns the connection state
func (s *Session) State() domain.ConnectionState { return s.manager.State() }

// LastError returns the most recent connection error, if any
func (s *Session) LastError() string { return s.manager.Status().LastError }

// Notifications returns stored notifications, newest first
func (s *Session) Notifications() []domain.Notification { return s.store.Notifications() }

// TicketUpdates returns stored ticket updates, newest first
func (s *Session) TicketUpdates() []domain.TicketUpdate { return s.store.TicketUpdates() }

// UnreadCount returns the number of unread stored notifications
func (s *Session) UnreadCount() int { return s.store.UnreadCount() }

// StoreVersion changes whenever the stored lists change
func (s *Session) StoreVersion() uint64 { return s.store.Version() }

// DebugInfo returns a diagnostic snapshot. The endpoint never contains the
// credential.
func (s *Session) DebugInfo() domain.DebugInfo {
	status := s.manager.Status()
	counts := s.registry.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}

	return domain.DebugInfo{
		State:            status.State,
		LastError:        status.LastError,
		ErrorKind:        string(status.ErrorKind),
		ReconnectAttempt: status.Attempt,
		MaxReconnects:    s.manager.MaxAttempts(),
		Endpoint:         s.manager.Endpoint(),
		HasCredential:    status.HasCredential,
		HeartbeatActive:  status.HeartbeatActive,
		TransportsOpened: status.TransportsOpened,
		Session:          status.Session,
		Notifications:    len(s.store.Notifications()),
		UnreadCount:      s.store.UnreadCount(),
		TicketUpdates:    len(s.store.TicketUpdates()),
		StoreVersion:     s.store.Version(),
		Subscribers:      counts,
		SubscribersTotal: total,
	}
}

func (s *Session) setToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.manager.SetCredential(token)
}

func (s *Session) restToken() (string, error) {
	if s.snapshot == nil {
		return "", fmt.Errorf("no REST client configured: %w", apperrors.ErrInternal)
	}
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return "", apperrors.ErrNoCredential
	}
	return token, nil
}
