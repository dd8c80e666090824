package services_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSession_InitConnectsWithStoredCredential(t *testing.T) {
	h := newHarness(t)
	h.credentials.On("Load", mock.Anything).Return(validToken(t), nil)

	h.session.Init(h.ctx)

	h.waitForTransport(1)
	assert.True(t, h.session.DebugInfo().HasCredential)
	h.credentials.AssertExpectations(t)
}

func TestSession_InitWithoutCredentialWaits(t *testing.T) {
	h := newHarness(t)
	h.credentials.On("Load", mock.Anything).Return("", apperrors.ErrNoCredential)

	h.session.Init(h.ctx)

	assert.Equal(t, domain.StateDisconnected, h.session.State())
	assert.Empty(t, h.session.LastError())
	assert.Equal(t, 0, h.dialer.Attempts())
	assert.Empty(t, h.changes.all())
}

func TestSession_InitStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.credentials.On("Load", mock.Anything).Return("", errors.New("keychain locked"))

	h.session.Init(h.ctx)

	assert.Equal(t, domain.StateDisconnected, h.session.State())
	assert.Equal(t, 0, h.dialer.Attempts())
}

func TestSession_NotificationAndReadConfirmation(t *testing.T) {
	h := newHarness(t)
	var received []domain.Notification
	done := make(chan struct{}, 1)
	h.session.OnNotification(func(n domain.Notification) {
		received = append(received, n)
		done <- struct{}{}
	})
	transport := h.connect()

	transport.Push(`{"type":"notification","data":{"id":"n1","title":"New reply","message":"Customer answered","is_read":false,"created_at":"2026-01-01T08:59:00Z"}}`)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("notification not delivered")
	}

	require.Len(t, received, 1)
	assert.Equal(t, domain.ID("n1"), received[0].ID)
	assert.Equal(t, 1, h.session.UnreadCount())

	require.NoError(t, h.session.MarkNotificationAsRead(h.ctx, "n1"))
	written := transport.Written()
	require.NotEmpty(t, written)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(written[len(written)-1], &frame))
	assert.Equal(t, "mark_notification_read", frame["type"])
	assert.Equal(t, "n1", frame["notification_id"])

	assert.Equal(t, 1, h.session.UnreadCount(), "read only once the server confirms")

	transport.Push(`{"type":"notification_read_confirmed","data":{"notification_id":"n1"}}`)
	require.Eventually(t, func() bool { return h.session.UnreadCount() == 0 }, waitFor, tick)

	notifications := h.session.Notifications()
	require.Len(t, notifications, 1)
	assert.True(t, notifications[0].IsRead)
	assert.Len(t, received, 1)
}

func TestSession_MarkReadErrors(t *testing.T) {
	h := newHarness(t)

	err := h.session.MarkNotificationAsRead(h.ctx, "n1")
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)

	err = h.session.MarkNotificationAsRead(h.ctx, "")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 422, appErr.StatusCode)
}

func TestSession_MarkReadIsRateLimited(t *testing.T) {
	h := newHarness(t, func(c *services.SessionConfig) {
		c.MarkReadRPS = 0.001
		c.MarkReadBurst = 2
	})
	h.connect()

	require.NoError(t, h.session.MarkNotificationAsRead(h.ctx, "n1"))
	require.NoError(t, h.session.MarkNotificationAsRead(h.ctx, "n2"))
	assert.ErrorIs(t, h.session.MarkNotificationAsRead(h.ctx, "n3"), apperrors.ErrRateLimited)
}

func TestSession_TicketUpdatesAndNewTickets(t *testing.T) {
	h := newHarness(t)
	updates := make(chan domain.TicketUpdate, 4)
	alerts := make(chan domain.NewTicketAlert, 4)
	h.session.OnTicketUpdate(func(u domain.TicketUpdate) { updates <- u })
	h.session.OnNewTicket(func(a domain.NewTicketAlert) { alerts <- a })
	transport := h.connect()

	transport.Push(`{"type":"ticket_update","data":{"ticket_id":"T-1","status":"in_progress"}}`)
	transport.Push(`{"type":"new_ticket","data":{"id":"T-2","title":"VPN down"}}`)

	select {
	case u := <-updates:
		assert.Equal(t, domain.ID("T-1"), u.TicketID)
	case <-time.After(waitFor):
		t.Fatal("ticket update not delivered")
	}
	select {
	case a := <-alerts:
		assert.Equal(t, "VPN down", a.Title)
	case <-time.After(waitFor):
		t.Fatal("new ticket not delivered")
	}

	assert.Len(t, h.session.TicketUpdates(), 1)
}

func TestSession_EmptyCredentialLogsOut(t *testing.T) {
	h := newHarness(t)
	transport := h.connect()
	transport.Push(`{"type":"notification","data":{"id":"n1"}}`)
	require.Eventually(t, func() bool { return len(h.session.Notifications()) == 1 }, waitFor, tick)

	h.session.CredentialChanged(h.ctx, "")

	assert.Equal(t, domain.StateDisconnected, h.session.State())
	assert.Empty(t, h.session.Notifications())
	assert.False(t, h.session.DebugInfo().HasCredential)
	assert.True(t, transport.IsClosed())
}

func TestSession_StoreCredential(t *testing.T) {
	h := newHarness(t)
	token := validToken(t)
	h.credentials.On("Save", mock.Anything, token).Return(nil)

	require.NoError(t, h.session.StoreCredential(h.ctx, token))
	h.waitForTransport(1)

	err := h.session.StoreCredential(h.ctx, "garbage")
	assert.ErrorIs(t, err, apperrors.ErrCredentialFormat)

	h.credentials.AssertNumberOfCalls(t, "Save", 1)
}

func TestSession_ClearCredential(t *testing.T) {
	h := newHarness(t)
	h.credentials.On("Clear", mock.Anything).Return(nil)
	h.connect()

	require.NoError(t, h.session.ClearCredential(h.ctx))

	assert.Equal(t, domain.StateDisconnected, h.session.State())
	h.credentials.AssertExpectations(t)
}

func TestSession_LoadSnapshot(t *testing.T) {
	h := newHarness(t)
	token := validToken(t)
	h.session.CredentialChanged(h.ctx, token)
	transport := h.waitForTransport(1)
	transport.Push(`{"type":"notification","data":{"id":"live"}}`)
	require.Eventually(t, func() bool { return len(h.session.Notifications()) == 1 }, waitFor, tick)

	h.snapshot.On("ListNotifications", mock.Anything, token).Return([]domain.Notification{
		{ID: "live"}, {ID: "old-1", IsRead: true}, {ID: "old-2"},
	}, nil)
	h.snapshot.On("ListTickets", mock.Anything, token).Return([]domain.TicketSummary{
		{ID: "T-1", Title: "Printer"},
	}, nil)

	tickets, err := h.session.LoadSnapshot(h.ctx)
	require.NoError(t, err)

	assert.Len(t, tickets, 1)
	notifications := h.session.Notifications()
	require.Len(t, notifications, 3)
	assert.Equal(t, domain.ID("live"), notifications[0].ID)
	assert.Equal(t, 2, h.session.UnreadCount())
	h.snapshot.AssertExpectations(t)
}

func TestSession_LoadSnapshotFailureLeavesFeedAlone(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.snapshot.On("ListNotifications", mock.Anything, mock.AnythingOfType("string")).Return(nil, errors.New("503 from api"))

	_, err := h.session.LoadSnapshot(h.ctx)

	assert.Error(t, err)
	assert.Equal(t, domain.StateConnected, h.session.State())
}

func TestSession_SnapshotNeedsCredential(t *testing.T) {
	h := newHarness(t)

	_, err := h.session.LoadSnapshot(h.ctx)
	assert.ErrorIs(t, err, apperrors.ErrNoCredential)

	err = h.session.MarkAllNotificationsRead(h.ctx)
	assert.ErrorIs(t, err, apperrors.ErrNoCredential)
}

func TestSession_MarkAllNotificationsRead(t *testing.T) {
	h := newHarness(t)
	transport := h.connect()
	transport.Push(`{"type":"notification","data":{"id":"n1"}}`)
	transport.Push(`{"type":"notification","data":{"id":"n2"}}`)
	require.Eventually(t, func() bool { return h.session.UnreadCount() == 2 }, waitFor, tick)

	h.snapshot.On("MarkAllNotificationsRead", mock.Anything, mock.AnythingOfType("string")).
		Return(errors.New("timeout")).Once()
	assert.Error(t, h.session.MarkAllNotificationsRead(h.ctx))
	assert.Equal(t, 2, h.session.UnreadCount())

	h.snapshot.On("MarkAllNotificationsRead", mock.Anything, mock.AnythingOfType("string")).Return(nil).Once()
	require.NoError(t, h.session.MarkAllNotificationsRead(h.ctx))
	assert.Equal(t, 0, h.session.UnreadCount())
}

func TestSession_DisposeStopsEverything(t *testing.T) {
	h := newHarness(t)
	transport := h.connect()

	h.session.Dispose()
	h.session.Dispose()

	assert.True(t, transport.IsClosed())
	assert.Equal(t, domain.StateDisconnected, h.session.State())

	h.session.Connect(h.ctx)
	h.session.CredentialChanged(h.ctx, validToken(t))
	assert.Equal(t, 1, h.dialer.Attempts())
	assert.ErrorIs(t, h.session.MarkNotificationAsRead(h.ctx, "n1"), apperrors.ErrSessionDisposed)
}

func TestSession_DebugInfoCountsSubscribers(t *testing.T) {
	h := newHarness(t)
	sub := h.session.OnNotification(func(domain.Notification) {})
	h.session.OnNewTicket(func(domain.NewTicketAlert) {})

	info := h.session.DebugInfo()
	assert.Equal(t, 1, info.Subscribers[domain.CategoryNotification])
	assert.Equal(t, 1, info.Subscribers[domain.CategoryConnectionChange])
	assert.Equal(t, 3, info.SubscribersTotal)
	assert.Equal(t, 5, info.MaxReconnects)

	sub.Unsubscribe()
	assert.Equal(t, 2, h.session.DebugInfo().SubscribersTotal)
}

func TestSession_PanickingSubscriberDoesNotStopFrames(t *testing.T) {
	h := newHarness(t)
	h.session.OnNotification(func(domain.Notification) { panic("subscriber bug") })
	got := make(chan domain.ID, 2)
	h.session.OnNotification(func(n domain.Notification) { got <- n.ID })
	transport := h.connect()

	transport.Push(`{"type":"notification","data":{"id":"n1","title":"First"}}`)
	transport.Push(`{"type":"notification","data":{"id":"n2","title":"Second"}}`)

	for _, want := range []domain.ID{"n1", "n2"} {
		select {
		case id := <-got:
			assert.Equal(t, want, id)
		case <-time.After(waitFor):
			t.Fatalf("notification %s not delivered", want)
		}
	}
	require.Eventually(t, func() bool { return len(h.session.Notifications()) == 2 }, waitFor, tick)
	assert.Equal(t, 2, h.session.UnreadCount())
	assert.Equal(t, domain.StateConnected, h.session.State())
	assert.False(t, transport.IsClosed())
}
