package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lorrc/service-desk-realtime/internal/infrastructure/clock"
)

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL is how long a caller may stay quiet before its bucket is dropped.
	IdleTTL time.Duration
	// SweepInterval bounds how often idle buckets are looked for.
	SweepInterval time.Duration
	Clock         clock.Clock
}

// DefaultRateLimiterConfig returns the limits used for the local status API.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		IdleTTL:           3 * time.Minute,
		SweepInterval:     time.Minute,
	}
}

// RateLimiter throttles status API callers, one token bucket per client address.
// Idle buckets are evicted on access, so there is no background goroutine.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	sweep time.Duration
	clock clock.Clock

	mu        sync.Mutex
	callers   map[string]*caller
	lastSweep time.Time
}

type caller struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter. Zero durations and a nil clock take defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	return &RateLimiter{
		limit:     rate.Limit(cfg.RequestsPerSecond),
		burst:     cfg.BurstSize,
		ttl:       cfg.IdleTTL,
		sweep:     cfg.SweepInterval,
		clock:     cfg.Clock,
		callers:   make(map[string]*caller),
		lastSweep: cfg.Clock.Now(),
	}
}

// Allow reports whether key may make another request now.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.sweep {
		rl.evictIdleLocked(now)
	}

	c, ok := rl.callers[key]
	if !ok {
		c = &caller{bucket: rate.NewLimiter(rl.limit, rl.burst)}
		rl.callers[key] = c
	}
	c.lastSeen = now
	return c.bucket.AllowN(now, 1)
}

// Tracked returns the number of callers holding a bucket.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.callers)
}

func (rl *RateLimiter) evictIdleLocked(now time.Time) {
	for key, c := range rl.callers {
		if now.Sub(c.lastSeen) > rl.ttl {
			delete(rl.callers, key)
		}
	}
	rl.lastSweep = now
}

// Middleware rejects callers over their limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.Allow(clientAddress(r)) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusTooManyRequests, "Too many requests", "RATE_LIMITED")
	})
}

// clientAddress keys a request by the first forwarded hop, X-Real-IP, or the
// peer address, in that order.
func clientAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return stripPort(strings.TrimSpace(first))
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return stripPort(r.RemoteAddr)
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
