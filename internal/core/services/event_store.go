package services

import (
	"sync"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
)

// EventStore keeps bounded, de-duplicated lists of recent notifications and
// ticket updates, newest first. Readers get copies.
type EventStore struct {
	mu               sync.RWMutex
	maxNotifications int
	maxTicketUpdates int
	notifications    []domain.Notification
	ticketUpdates    []domain.TicketUpdate
	version          uint64
}

// NewEventStore creates a store with the given bounds. Non-positive bounds
// fall back to 100 notifications and 20 ticket updates.
func NewEventStore(maxNotifications, maxTicketUpdates int) *EventStore {
	if maxNotifications <= 0 {
		maxNotifications = 100
	}
	if maxTicketUpdates <= 0 {
		maxTicketUpdates = 20
	}
	return &EventStore{
		maxNotifications: maxNotifications,
		maxTicketUpdates: maxTicketUpdates,
	}
}

// AddNotification inserts n at the front unless a notification with the same
// id is already stored. It reports whether n was inserted.
func (s *EventStore) AddNotification(n domain.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.notificationIndex(n.ID) >= 0 {
		return false
	}

	s.notifications = prepend(s.notifications, n, s.maxNotifications)
	s.version++
	return true
}

// AddTicketUpdate inserts u at the front unless an update for the same
// ticket is already stored; the first one seen is kept. When the bound is
// exceeded the oldest entry is dropped.
func (s *EventStore) AddTicketUpdate(u domain.TicketUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.ticketUpdates {
		if existing.TicketID == u.TicketID {
			return false
		}
	}

	s.ticketUpdates = prepend(s.ticketUpdates, u, s.maxTicketUpdates)
	s.version++
	return true
}

// MarkNotificationRead flags a stored notification as read. It reports
// whether the notification was found.
func (s *EventStore) MarkNotificationRead(id domain.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.notificationIndex(id)
	if i < 0 {
		return false
	}
	if !s.notifications[i].IsRead {
		s.notifications[i].IsRead = true
		s.version++
	}
	return true
}

// MarkAllRead flags every stored notification as read and returns how many
// changed.
func (s *EventStore) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for i := range s.notifications {
		if !s.notifications[i].IsRead {
			s.notifications[i].IsRead = true
			changed++
		}
	}
	if changed > 0 {
		s.version++
	}
	return changed
}

// Seed appends notifications fetched over REST behind what the live feed
// already delivered, skipping ids that are present. Input is expected
// newest first. It returns how many were added.
func (s *EventStore) Seed(notifications []domain.Notification) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, n := range notifications {
		if len(s.notifications) >= s.maxNotifications {
			break
		}
		if n.ID.IsZero() || s.notificationIndex(n.ID) >= 0 {
			continue
		}
		s.notifications = append(s.notifications, n)
		added++
	}
	if added > 0 {
		s.version++
	}
	return added
}

// Notifications returns a copy of the stored notifications, newest first.
func (s *EventStore) Notifications() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Notification(nil), s.notifications...)
}

// Notification looks up a stored notification by id.
func (s *EventStore) Notification(id domain.ID) (domain.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.notificationIndex(id); i >= 0 {
		return s.notifications[i], true
	}
	return domain.Notification{}, false
}

// TicketUpdates returns a copy of the stored ticket updates, newest first.
func (s *EventStore) TicketUpdates() []domain.TicketUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.TicketUpdate(nil), s.ticketUpdates...)
}

// UnreadCount returns the number of stored notifications not yet read.
func (s *EventStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, notification := range s.notifications {
		if !notification.IsRead {
			n++
		}
	}
	return n
}

// Version increases on every mutation. Pollers compare it to skip
// unchanged snapshots.
func (s *EventStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Reset drops everything, e.g. when the credential is removed.
func (s *EventStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = nil
	s.ticketUpdates = nil
	s.version++
}

func (s *EventStore) notificationIndex(id domain.ID) int {
	for i, n := range s.notifications {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func prepend[T any](list []T, item T, limit int) []T {
	if len(list) >= limit {
		list = list[:limit-1]
	}
	out := make([]T, 0, len(list)+1)
	out = append(out, item)
	return append(out, list...)
}
