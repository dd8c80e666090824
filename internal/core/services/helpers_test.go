package services_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/auth"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/mocks"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/core/services"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/clock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validToken(t *testing.T) string {
	t.Helper()
	tm := auth.NewTokenManager("test-secret", time.Hour)
	token, err := tm.GenerateTokenExpiring("alice", "agent", epoch.Add(24*time.Hour))
	require.NoError(t, err)
	return token
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []domain.ConnectionChange
}

func (r *changeRecorder) record(c domain.ConnectionChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) all() []domain.ConnectionChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConnectionChange(nil), r.changes...)
}

func (r *changeRecorder) statuses() []domain.ConnectionState {
	var out []domain.ConnectionState
	for _, c := range r.all() {
		out = append(out, c.Status)
	}
	return out
}

func (r *changeRecorder) count(status domain.ConnectionState) int {
	n := 0
	for _, s := range r.statuses() {
		if s == status {
			n++
		}
	}
	return n
}

type harness struct {
	t           *testing.T
	ctx         context.Context
	clock       *clock.FakeClock
	dialer      *mocks.FakeDialer
	credentials *mocks.MockCredentialStore
	snapshot    *mocks.MockSnapshotClient
	session     *services.Session
	changes     *changeRecorder
}

func defaultSessionConfig() services.SessionConfig {
	return services.SessionConfig{
		Manager: services.ManagerConfig{
			Endpoint:          "ws://desk.test/ws/connect",
			Policy:            services.ReconnectPolicy{Base: 3 * time.Second, MaxAttempts: 5},
			HeartbeatInterval: 30 * time.Second,
			AuthCloseCode:     ports.ClosePolicyViolation,
		},
		MaxNotifications: 100,
		MaxTicketUpdates: 20,
		AuthErrorCodes:   []int{401},
		MarkReadRPS:      1000,
		MarkReadBurst:    1000,
	}
}

func newHarness(t *testing.T, configure ...func(*services.SessionConfig)) *harness {
	t.Helper()

	cfg := defaultSessionConfig()
	for _, fn := range configure {
		fn(&cfg)
	}

	h := &harness{
		t:           t,
		ctx:         context.Background(),
		clock:       clock.NewFake(epoch),
		dialer:      mocks.NewFakeDialer(),
		credentials: mocks.NewMockCredentialStore(),
		snapshot:    mocks.NewMockSnapshotClient(),
		changes:     &changeRecorder{},
	}

	session, err := services.NewSession(cfg, h.dialer, h.credentials, h.snapshot, h.clock, testLogger())
	require.NoError(t, err)
	h.session = session
	h.session.OnConnectionChange(h.changes.record)
	t.Cleanup(session.Dispose)

	return h
}

// waitForTransport blocks until n dials have happened and the newest one
// produced a transport.
func (h *harness) waitForTransport(n int) *mocks.FakeTransport {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.dialer.Attempts() == n && len(h.dialer.Transports()) > 0
	}, waitFor, tick)
	return h.dialer.Last()
}

// waitForTimers blocks until exactly n timers or tickers are pending.
func (h *harness) waitForTimers(n int) {
	h.t.Helper()
	waitForTimers(h.t, h.clock, n)
}

func waitForTimers(t *testing.T, c *clock.FakeClock, n int) {
	t.Helper()
	require.NoError(t, clock.WaitForTimers(c, n, waitFor), "want %d pending timers", n)
}

func (h *harness) waitForState(want domain.ConnectionState) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.session.State() == want
	}, waitFor, tick, "want state %s", want)
}

// connect logs in with a valid token and completes the handshake.
func (h *harness) connect() *mocks.FakeTransport {
	h.t.Helper()
	attempts := h.dialer.Attempts()
	h.session.CredentialChanged(h.ctx, validToken(h.t))
	transport := h.waitForTransport(attempts + 1)
	transport.Push(`{"type":"connection_established","data":{"user":"alice","user_id":"u-1"}}`)
	h.waitForState(domain.StateConnected)
	return transport
}
