// Package clock lets timer-driven code (reconnect backoff, handshake
// timeouts, heartbeats) run against real time in production and against a
// manually advanced clock in tests.
package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source the realtime client schedules against.
type Clock = clockwork.Clock

// Timer is a cancellable pending call created by AfterFunc.
type Timer = clockwork.Timer

// Ticker delivers periodic ticks on Chan. Late ticks are dropped.
type Ticker = clockwork.Ticker

// FakeClock only moves when Advance is called. AfterFunc callbacks run on
// their own goroutines once their deadline is passed.
type FakeClock = clockwork.FakeClock

// Real returns a Clock backed by the time package.
func Real() Clock { return clockwork.NewRealClock() }

// NewFake returns a FakeClock reading initial.
func NewFake(initial time.Time) *FakeClock {
	return clockwork.NewFakeClockAt(initial)
}

// WaitForTimers blocks until exactly n timers or tickers are pending on c,
// or until timeout passes. Tests call it before Advance so a goroutine that
// is about to schedule a timer cannot race the advance.
func WaitForTimers(c *FakeClock, n int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.BlockUntilContext(ctx, n)
}
