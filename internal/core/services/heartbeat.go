package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/infrastructure/clock"
)

// Heartbeat calls a send function at a fixed interval while running. It
// does not look at replies.
type Heartbeat struct {
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	ticker clock.Ticker
	done   chan struct{}
}

// NewHeartbeat creates a stopped heartbeat
func NewHeartbeat(c clock.Clock, interval time.Duration, logger *slog.Logger) *Heartbeat {
	return &Heartbeat{
		clock:    c,
		interval: interval,
		logger:   logger.With("component", "heartbeat"),
	}
}

// Start begins ticking, replacing any previous run.
func (h *Heartbeat) Start(send func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()

	ticker := h.clock.NewTicker(h.interval)
	done := make(chan struct{})
	h.ticker = ticker
	h.done = done

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				select {
				case <-done:
					return
				default:
				}
				if err := send(); err != nil {
					h.logger.Debug("ping not sent", "error", err)
					continue
				}
				h.logger.Debug("ping sent")
			}
		}
	}()
}

// Stop halts the ticker. It does not wait for an in-flight send.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

// Active reports whether the heartbeat is running.
func (h *Heartbeat) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticker != nil
}

func (h *Heartbeat) stopLocked() {
	if h.ticker == nil {
		return
	}
	h.ticker.Stop()
	close(h.done)
	h.ticker = nil
	h.done = nil
}
