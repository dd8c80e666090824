package mocks

import (
	"context"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

// MockCredentialStore is a mock implementation of ports.CredentialStore
type MockCredentialStore struct {
	mock.Mock
}

func NewMockCredentialStore() *MockCredentialStore {
	return &MockCredentialStore{}
}

func (m *MockCredentialStore) Load(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockCredentialStore) Save(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockCredentialStore) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockSnapshotClient is a mock implementation of ports.SnapshotClient
type MockSnapshotClient struct {
	mock.Mock
}

func NewMockSnapshotClient() *MockSnapshotClient {
	return &MockSnapshotClient{}
}

func (m *MockSnapshotClient) Login(ctx context.Context, email, password string) (string, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.Error(1)
}

func (m *MockSnapshotClient) ListNotifications(ctx context.Context, token string) ([]domain.Notification, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Notification), args.Error(1)
}

func (m *MockSnapshotClient) ListTickets(ctx context.Context, token string) ([]domain.TicketSummary, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TicketSummary), args.Error(1)
}

func (m *MockSnapshotClient) MarkAllNotificationsRead(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// MockSubscription records Unsubscribe calls
type MockSubscription struct {
	mock.Mock
}

func (m *MockSubscription) Unsubscribe() {
	m.Called()
}

// MockRealtimeSession is a mock implementation of ports.RealtimeSession
type MockRealtimeSession struct {
	mock.Mock
}

func NewMockRealtimeSession() *MockRealtimeSession {
	return &MockRealtimeSession{}
}

func (m *MockRealtimeSession) Connect(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockRealtimeSession) Disconnect() {
	m.Called()
}

func (m *MockRealtimeSession) ForceReconnect(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockRealtimeSession) CredentialChanged(ctx context.Context, token string) {
	m.Called(ctx, token)
}

func (m *MockRealtimeSession) StoreCredential(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockRealtimeSession) ClearCredential(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRealtimeSession) OnNotification(handler func(domain.Notification)) ports.Subscription {
	args := m.Called(handler)
	return args.Get(0).(ports.Subscription)
}

func (m *MockRealtimeSession) OnTicketUpdate(handler func(domain.TicketUpdate)) ports.Subscription {
	args := m.Called(handler)
	return args.Get(0).(ports.Subscription)
}

func (m *MockRealtimeSession) OnNewTicket(handler func(domain.NewTicketAlert)) ports.Subscription {
	args := m.Called(handler)
	return args.Get(0).(ports.Subscription)
}

func (m *MockRealtimeSession) OnConnectionChange(handler func(domain.ConnectionChange)) ports.Subscription {
	args := m.Called(handler)
	return args.Get(0).(ports.Subscription)
}

func (m *MockRealtimeSession) MarkNotificationAsRead(ctx context.Context, id domain.ID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRealtimeSession) MarkAllNotificationsRead(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRealtimeSession) LoadSnapshot(ctx context.Context) ([]domain.TicketSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TicketSummary), args.Error(1)
}

func (m *MockRealtimeSession) State() domain.ConnectionState {
	args := m.Called()
	return args.Get(0).(domain.ConnectionState)
}

func (m *MockRealtimeSession) LastError() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockRealtimeSession) Notifications() []domain.Notification {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.Notification)
}

func (m *MockRealtimeSession) TicketUpdates() []domain.TicketUpdate {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.TicketUpdate)
}

func (m *MockRealtimeSession) UnreadCount() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockRealtimeSession) DebugInfo() domain.DebugInfo {
	args := m.Called()
	return args.Get(0).(domain.DebugInfo)
}
