package ports

import (
	"context"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
)

// SnapshotClient is the REST collaborator used to log in and to seed state
// that predates the realtime connection.
type SnapshotClient interface {
	Login(ctx context.Context, email, password string) (string, error)
	ListNotifications(ctx context.Context, token string) ([]domain.Notification, error)
	ListTickets(ctx context.Context, token string) ([]domain.TicketSummary, error)
	MarkAllNotificationsRead(ctx context.Context, token string) error
}

// Subscription is a disposable handle for one registered handler.
type Subscription interface {
	Unsubscribe()
}

// RealtimeSession defines the port the local surfaces drive.
type RealtimeSession interface {
	Connect(ctx context.Context)
	Disconnect()
	ForceReconnect(ctx context.Context)
	CredentialChanged(ctx context.Context, token string)
	StoreCredential(ctx context.Context, token string) error
	ClearCredential(ctx context.Context) error

	OnNotification(handler func(domain.Notification)) Subscription
	OnTicketUpdate(handler func(domain.TicketUpdate)) Subscription
	OnNewTicket(handler func(domain.NewTicketAlert)) Subscription
	OnConnectionChange(handler func(domain.ConnectionChange)) Subscription

	MarkNotificationAsRead(ctx context.Context, id domain.ID) error
	MarkAllNotificationsRead(ctx context.Context) error
	LoadSnapshot(ctx context.Context) ([]domain.TicketSummary, error)

	State() domain.ConnectionState
	LastError() string
	Notifications() []domain.Notification
	TicketUpdates() []domain.TicketUpdate
	UnreadCount() int
	DebugInfo() domain.DebugInfo
}
