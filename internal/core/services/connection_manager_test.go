package services_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/auth"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectPolicy_Next(t *testing.T) {
	p := services.DefaultReconnectPolicy()

	var delays []time.Duration
	for attempt := 0; ; attempt++ {
		d, ok := p.Next(attempt)
		if !ok {
			break
		}
		delays = append(delays, d)
	}

	assert.Equal(t, []time.Duration{
		3 * time.Second, 6 * time.Second, 9 * time.Second, 12 * time.Second, 15 * time.Second,
	}, delays)
}

func TestConnection_MalformedCredentialNeverDials(t *testing.T) {
	segment := func(payload string) string {
		return base64.RawURLEncoding.EncodeToString([]byte(payload))
	}
	expired, err := auth.NewTokenManager("test-secret", time.Hour).
		GenerateTokenExpiring("alice", "agent", epoch.Add(-time.Minute))
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"two segments", "abc.def", "Invalid token format: expected 3 segments, got 2"},
		{"one segment", "opaque", "Invalid token format: expected 3 segments, got 1"},
		{"bad base64 payload", "hdr.%%%.sig", "Token decode error"},
		{"payload not json", "hdr." + segment("not json") + ".sig", "Token decode error"},
		{"no subject", "hdr." + segment(`{"role":"agent"}`) + ".sig", "No user ID in token"},
		{"expired", expired, "Token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			h.session.CredentialChanged(h.ctx, tt.token)

			assert.Equal(t, domain.StateError, h.session.State())
			assert.Equal(t, "Authentication error: "+tt.reason, h.session.LastError())
			assert.Equal(t, string(apperrors.KindCredential), h.session.DebugInfo().ErrorKind)
			assert.Equal(t, 0, h.dialer.Attempts())

			h.clock.Advance(time.Hour)
			assert.Equal(t, 0, h.dialer.Attempts(), "credential errors are not retried")
			h.waitForTimers(0)
		})
	}
}

func TestConnection_ConnectWithoutCredential(t *testing.T) {
	h := newHarness(t)

	h.session.Connect(h.ctx)

	assert.Equal(t, domain.StateError, h.session.State())
	assert.Equal(t, "Authentication error: No token provided", h.session.LastError())
	assert.Equal(t, 0, h.dialer.Attempts())
}

func TestConnection_NumericSubjectIsAccepted(t *testing.T) {
	h := newHarness(t)
	token := "hdr." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":42}`)) + ".sig"

	h.session.CredentialChanged(h.ctx, token)

	h.waitForTransport(1)
	assert.Equal(t, domain.StateConnecting, h.session.State())
}

func TestConnection_HandshakeEndToEnd(t *testing.T) {
	h := newHarness(t)
	second := &changeRecorder{}
	h.session.OnConnectionChange(second.record)

	token := validToken(t)
	h.session.CredentialChanged(h.ctx, token)
	transport := h.waitForTransport(1)

	assert.Equal(t, domain.StateConnecting, h.session.State())
	urls := h.dialer.URLs()
	require.Len(t, urls, 1)
	assert.True(t, strings.HasPrefix(urls[0], "ws://desk.test/ws/connect?token="))
	assert.Contains(t, urls[0], token)

	transport.Push(`{"type":"connection_established","data":{"user_id":"u-1","user":"alice","role":"agent","message":"welcome"}}`)
	h.waitForState(domain.StateConnected)

	for _, rec := range []*changeRecorder{h.changes, second} {
		require.Eventually(t, func() bool { return rec.count(domain.StateConnected) == 1 }, waitFor, tick)
		assert.Equal(t, []domain.ConnectionState{domain.StateConnecting, domain.StateConnected}, rec.statuses())

		last := rec.all()[len(rec.all())-1]
		assert.True(t, last.Connected)
		assert.Empty(t, last.Error)
	}

	info := h.session.DebugInfo()
	assert.True(t, info.HeartbeatActive)
	assert.Equal(t, 0, info.ReconnectAttempt)
	assert.Equal(t, 1, info.TransportsOpened)
	assert.Equal(t, "ws://desk.test/ws/connect", info.Endpoint)
	require.NotNil(t, info.Session)
	assert.Equal(t, domain.ID("u-1"), info.Session.UserID)
	assert.Equal(t, "agent", info.Session.Role)
}

func TestConnection_ConnectIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.session.CredentialChanged(h.ctx, validToken(t))
	h.session.Connect(h.ctx)
	h.session.Connect(h.ctx)
	transport := h.waitForTransport(1)
	h.session.Connect(h.ctx)

	transport.Push(`{"type":"connection_established"}`)
	h.waitForState(domain.StateConnected)
	h.session.Connect(h.ctx)

	assert.Equal(t, 1, h.dialer.Attempts())
	assert.Equal(t, 1, h.dialer.OpenCount())
	assert.Equal(t, 1, h.changes.count(domain.StateConnecting))
}

func TestConnection_BackoffUntilFailed(t *testing.T) {
	h := newHarness(t)
	h.dialer.FailAlways(errors.New("connection refused"))

	h.session.CredentialChanged(h.ctx, validToken(t))

	for i := 1; i <= 5; i++ {
		h.waitForTimers(1)
		require.Equal(t, i, h.dialer.Attempts())
		assert.Equal(t, domain.StateReconnecting, h.session.State())
		assert.Equal(t, i, h.session.DebugInfo().ReconnectAttempt)

		delay := time.Duration(i) * 3 * time.Second
		h.clock.Advance(delay - time.Millisecond)
		assert.Equal(t, i, h.dialer.Attempts(), "retry %d fired early", i)

		h.clock.Advance(time.Millisecond)
		require.Eventually(t, func() bool { return h.dialer.Attempts() == i+1 }, waitFor, tick)
	}

	h.waitForState(domain.StateFailed)
	assert.Equal(t, "Max reconnection attempts reached", h.session.LastError())
	assert.Equal(t, 6, h.dialer.Attempts())
	h.waitForTimers(0)
	assert.Equal(t, 5, h.changes.count(domain.StateReconnecting))

	h.clock.Advance(time.Hour)
	assert.Equal(t, 6, h.dialer.Attempts())
}

func TestConnection_ForceReconnectAfterFailure(t *testing.T) {
	h := newHarness(t, func(c *services.SessionConfig) {
		c.Manager.Policy = services.ReconnectPolicy{Base: time.Second, MaxAttempts: 1}
	})
	h.dialer.FailAlways(errors.New("connection refused"))

	h.session.CredentialChanged(h.ctx, validToken(t))
	h.waitForTimers(1)
	h.clock.Advance(time.Second)
	h.waitForState(domain.StateFailed)

	h.dialer.FailAlways(nil)
	h.session.ForceReconnect(h.ctx)
	transport := h.waitForTransport(3)
	transport.Push(`{"type":"connection_established"}`)
	h.waitForState(domain.StateConnected)

	assert.Empty(t, h.session.LastError())
}

func TestConnection_UnexpectedCloseReconnects(t *testing.T) {
	h := newHarness(t)
	first := h.connect()

	first.ServerClose(ports.CloseAbnormal, "")
	h.waitForState(domain.StateReconnecting)
	assert.Equal(t, "Connection lost (close 1006)", h.session.LastError())
	assert.False(t, h.session.DebugInfo().HeartbeatActive)
	h.waitForTimers(1)

	h.clock.Advance(3 * time.Second)
	second := h.waitForTransport(2)
	second.Push(`{"type":"connection_established"}`)
	h.waitForState(domain.StateConnected)

	info := h.session.DebugInfo()
	assert.Equal(t, 0, info.ReconnectAttempt)
	assert.Empty(t, info.LastError)
	assert.Equal(t, 2, info.TransportsOpened)
}

func TestConnection_NormalServerCloseReconnectsWithoutError(t *testing.T) {
	h := newHarness(t)
	transport := h.connect()

	transport.ServerClose(ports.CloseNormal, "server restart")
	h.waitForState(domain.StateReconnecting)

	assert.Empty(t, h.session.LastError())
	assert.Zero(t, h.changes.count(domain.StateError))
}

func TestConnection_NoReconnectAfterAuthRejection(t *testing.T) {
	tests := []struct {
		name      string
		reject    func(h *harness, transport transportCloser)
		wantError string
		wantKind  apperrors.Kind
	}{
		{
			name: "error frame with auth code",
			reject: func(_ *harness, transport transportCloser) {
				transport.Push(`{"type":"error","data":{"message":"Invalid token","code":401}}`)
			},
			wantError: "Server error: Invalid token",
			wantKind:  apperrors.KindAuthRejected,
		},
		{
			name: "error frame tagged auth",
			reject: func(_ *harness, transport transportCloser) {
				transport.Push(`{"type":"error","data":{"message":"Session revoked","kind":"auth"}}`)
			},
			wantError: "Server error: Session revoked",
			wantKind:  apperrors.KindAuthRejected,
		},
		{
			name: "policy violation close",
			reject: func(_ *harness, transport transportCloser) {
				transport.ServerClose(ports.ClosePolicyViolation, "invalid token")
			},
			wantError: "Authentication rejected (close 1008: invalid token)",
			wantKind:  apperrors.KindAuthRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			transport := h.connect()

			tt.reject(h, transport)

			require.Eventually(t, func() bool {
				return h.session.LastError() == tt.wantError && transport.IsClosed()
			}, waitFor, tick)
			h.waitForTimers(0)

			assert.Equal(t, domain.StateError, h.session.State())
			assert.Equal(t, string(tt.wantKind), h.session.DebugInfo().ErrorKind)

			h.clock.Advance(time.Hour)
			assert.Equal(t, 1, h.dialer.Attempts())
			assert.Equal(t, domain.StateError, h.session.State())
			assert.Zero(t, h.changes.count(domain.StateReconnecting))
		})
	}
}

type transportCloser interface {
	Push(frame any)
	ServerClose(code int, reason string)
}

func TestConnection_AuthErrorFrameClosesNormally(t *testing.T) {
	h := newHarness(t)
	transport := h.connect()

	transport.Push(`{"type":"error","data":{"message":"Invalid token","code":"401"}}`)

	require.Eventually(t, transport.IsClosed, waitFor, tick)
	code, byClient := transport.ClientClose()
	assert.True(t, byClient)
	assert.Equal(t, ports.CloseNormal, code)
}

func TestConnection_NonAuthErrorFrameKeepsTransport(t *testing.T) {
	h := newHarness(t)
	transport := h.connect()

	transport.Push(`{"type":"error","data":{"message":"rate limited","code":429}}`)
	h.waitForState(domain.StateError)

	assert.Equal(t, "Server error: rate limited", h.session.LastError())
	assert.False(t, transport.IsClosed())
	assert.Equal(t, string(apperrors.KindProtocol), h.session.DebugInfo().ErrorKind)
}

func TestConnection_HandshakeRejectedOverHTTP(t *testing.T) {
	for _, status := range []int{401, 403} {
		h := newHarness(t)
		h.dialer.FailNext(&ports.HandshakeError{StatusCode: status, Err: errors.New("bad handshake")})

		h.session.CredentialChanged(h.ctx, validToken(t))
		h.waitForState(domain.StateError)

		assert.Contains(t, h.session.LastError(), "Authentication rejected")
		h.clock.Advance(time.Hour)
		assert.Equal(t, 1, h.dialer.Attempts())
	}
}

func TestConnection_HandshakeTimeout(t *testing.T) {
	h := newHarness(t, func(c *services.SessionConfig) {
		c.Manager.HandshakeTimeout = 10 * time.Second
	})

	h.session.CredentialChanged(h.ctx, validToken(t))
	transport := h.waitForTransport(1)
	h.waitForTimers(1)

	h.clock.Advance(10 * time.Second)

	h.waitForState(domain.StateReconnecting)
	assert.Equal(t, apperrors.ErrHandshakeTimeout.Error(), h.session.LastError())
	code, byClient := transport.ClientClose()
	assert.True(t, byClient)
	assert.Equal(t, ports.CloseAbnormal, code)
}

func TestConnection_HandshakeInTimeCancelsTimeout(t *testing.T) {
	h := newHarness(t, func(c *services.SessionConfig) {
		c.Manager.HandshakeTimeout = 10 * time.Second
	})

	transport := h.connect()
	h.clock.Advance(10 * time.Second)

	assert.Equal(t, domain.StateConnected, h.session.State())
	assert.False(t, transport.IsClosed())
}

func TestConnection_HeartbeatPingsWhileConnected(t *testing.T) {
	h := newHarness(t)
	transport := h.connect()

	h.clock.Advance(29 * time.Second)
	assert.NotContains(t, transport.WrittenTypes(), "ping")

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		for _, typ := range transport.WrittenTypes() {
			if typ == "ping" {
				return true
			}
		}
		return false
	}, waitFor, tick)
}

func TestConnection_DisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	h.dialer.FailAlways(errors.New("connection refused"))

	h.session.CredentialChanged(h.ctx, validToken(t))
	h.waitForTimers(1)

	h.session.Disconnect()

	assert.Equal(t, domain.StateDisconnected, h.session.State())
	assert.Empty(t, h.session.LastError())
	h.waitForTimers(0)

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, h.dialer.Attempts())
}

func TestConnection_DisconnectClosesCleanly(t *testing.T) {
	h := newHarness(t)
	transport := h.connect()

	h.session.Disconnect()

	assert.Equal(t, domain.StateDisconnected, h.session.State())
	code, byClient := transport.ClientClose()
	assert.True(t, byClient)
	assert.Equal(t, ports.CloseNormal, code)
	assert.False(t, h.session.DebugInfo().HeartbeatActive)

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, h.dialer.Attempts())
	assert.Equal(t, domain.StateDisconnected, h.session.State())
}

func TestConnection_CredentialChangeReplacesTransport(t *testing.T) {
	h := newHarness(t)
	first := h.connect()

	h.session.CredentialChanged(h.ctx, validToken(t))
	h.waitForTransport(2)

	assert.True(t, first.IsClosed())
	assert.Equal(t, 1, h.dialer.OpenCount())
	assert.Equal(t, domain.StateConnecting, h.session.State())
}

func TestConnection_StaleTransportFramesIgnored(t *testing.T) {
	h := newHarness(t)
	first := h.connect()

	h.session.CredentialChanged(h.ctx, validToken(t))
	h.waitForTransport(2)

	// the old transport is closed, so nothing it could still deliver counts
	first.Push(`{"type":"connection_established"}`)
	assert.Equal(t, domain.StateConnecting, h.session.State())
}

func TestConnection_SlowSubscriberDoesNotReorderChanges(t *testing.T) {
	h := newHarness(t)
	slow := &changeRecorder{}
	entered := make(chan struct{})
	release := make(chan struct{})
	var enterOnce sync.Once
	h.session.OnConnectionChange(func(c domain.ConnectionChange) {
		if c.Status == domain.StateConnected {
			enterOnce.Do(func() { close(entered) })
			<-release
		}
		slow.record(c)
	})

	h.session.CredentialChanged(h.ctx, validToken(t))
	transport := h.waitForTransport(1)
	transport.Push(`{"type":"connection_established","data":{"user":"alice","user_id":"u-1"}}`)

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("connected change not delivered")
	}

	disconnected := make(chan struct{})
	go func() {
		h.session.Disconnect()
		close(disconnected)
	}()
	select {
	case <-disconnected:
	case <-time.After(waitFor):
		t.Fatal("Disconnect blocked behind a slow subscriber")
	}
	assert.Equal(t, domain.StateDisconnected, h.session.State())

	close(release)

	want := []domain.ConnectionState{domain.StateConnecting, domain.StateConnected, domain.StateDisconnected}
	for _, rec := range []*changeRecorder{h.changes, slow} {
		require.Eventually(t, func() bool { return len(rec.all()) == len(want) }, waitFor, tick)
		assert.Equal(t, want, rec.statuses())
		assert.False(t, rec.all()[len(want)-1].Connected)
	}
	assert.Equal(t, domain.StateDisconnected, h.session.State())
}
