package services

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// Handler receives the payload published on a category.
type Handler func(payload any)

type registration struct {
	fn Handler
}

// Registry fans events out to subscribers, per category, in registration
// order. Handlers run in the publishing goroutine with no registry lock
// held, so they may subscribe or unsubscribe from inside a callback.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.Category][]*registration
	logger   *slog.Logger
}

// Subscription removes exactly the registration it was returned for.
type Subscription struct {
	registry *Registry
	category domain.Category
	reg      *registration
	once     sync.Once
}

var _ ports.Subscription = (*Subscription)(nil)

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[domain.Category][]*registration),
		logger:   logger.With("component", "registry"),
	}
}

// On registers fn for category.
func (r *Registry) On(category domain.Category, fn Handler) (*Subscription, error) {
	if !category.IsValid() {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownCategory, category)
	}
	if fn == nil {
		return nil, fmt.Errorf("nil handler for %s", category)
	}

	reg := &registration{fn: fn}

	r.mu.Lock()
	r.handlers[category] = append(r.handlers[category], reg)
	r.mu.Unlock()

	return &Subscription{registry: r, category: category, reg: reg}, nil
}

// Unsubscribe is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.registry.remove(s.category, s.reg)
	})
}

func (r *Registry) remove(category domain.Category, reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[category]
	for i, candidate := range list {
		if candidate == reg {
			next := make([]*registration, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			r.handlers[category] = next
			return
		}
	}
}

// Emit delivers payload to every handler of category that was registered
// when Emit started. A panicking handler is logged and skipped. Emit
// returns the number of handlers that panicked.
func (r *Registry) Emit(category domain.Category, payload any) int {
	r.mu.RLock()
	list := r.handlers[category]
	r.mu.RUnlock()

	failed := 0
	for _, reg := range list {
		if !r.invoke(category, reg, payload) {
			failed++
		}
	}
	return failed
}

func (r *Registry) invoke(category domain.Category, reg *registration, payload any) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.LogPanic(r.logger, rec, "category", string(category), "error", apperrors.ErrHandlerPanic)
			ok = false
		}
	}()
	reg.fn(payload)
	return true
}

// Count returns the number of live subscriptions for category.
func (r *Registry) Count(category domain.Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[category])
}

// Total returns the number of live subscriptions across all categories.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, list := range r.handlers {
		n += len(list)
	}
	return n
}

// Counts returns live subscriptions per category.
func (r *Registry) Counts() map[domain.Category]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.Category]int, len(domain.Categories))
	for _, c := range domain.Categories {
		out[c] = len(r.handlers[c])
	}
	return out
}

// OnNotification subscribes to notification events
func (r *Registry) OnNotification(fn func(domain.Notification)) *Subscription {
	return r.mustOn(domain.CategoryNotification, func(p any) {
		if n, ok := p.(domain.Notification); ok {
			fn(n)
		}
	})
}

// OnTicketUpdate subscribes to ticket update events
func (r *Registry) OnTicketUpdate(fn func(domain.TicketUpdate)) *Subscription {
	return r.mustOn(domain.CategoryTicketUpdate, func(p any) {
		if u, ok := p.(domain.TicketUpdate); ok {
			fn(u)
		}
	})
}

// OnNewTicket subscribes to new ticket alerts
func (r *Registry) OnNewTicket(fn func(domain.NewTicketAlert)) *Subscription {
	return r.mustOn(domain.CategoryNewTicket, func(p any) {
		if a, ok := p.(domain.NewTicketAlert); ok {
			fn(a)
		}
	})
}

// OnConnectionChange subscribes to connection state transitions
func (r *Registry) OnConnectionChange(fn func(domain.ConnectionChange)) *Subscription {
	return r.mustOn(domain.CategoryConnectionChange, func(p any) {
		if c, ok := p.(domain.ConnectionChange); ok {
			fn(c)
		}
	})
}

// mustOn is for the typed helpers, whose categories are always valid.
func (r *Registry) mustOn(category domain.Category, fn Handler) *Subscription {
	sub, err := r.On(category, fn)
	if err != nil {
		panic(err)
	}
	return sub
}
