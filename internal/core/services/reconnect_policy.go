package services

import "time"

// ReconnectPolicy grows the delay linearly with the attempt number and gives
// up after MaxAttempts.
type ReconnectPolicy struct {
	Base        time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy waits 3s, 6s, 9s, 12s, 15s.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Base: 3 * time.Second, MaxAttempts: 5}
}

// Next returns the delay before attempt+1 given that attempt retries have
// already been made. ok is false once no attempts remain.
func (p ReconnectPolicy) Next(attempt int) (delay time.Duration, ok bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	return p.Base * time.Duration(attempt+1), true
}
