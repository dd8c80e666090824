package mocks

import (
	"context"
	"encoding/json"
	"sync"

	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// FakeTransport is an in-memory ports.Transport. Tests play the server by
// pushing frames and closing it.
type FakeTransport struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu          sync.Mutex
	written     [][]byte
	closeCode   int
	closeReason string
	byClient    bool
}

// NewFakeTransport returns an open transport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (t *FakeTransport) ReadFrame() ([]byte, error) {
	select {
	case frame := <-t.inbound:
		return frame, nil
	default:
	}

	select {
	case frame := <-t.inbound:
		return frame, nil
	case <-t.closed:
		t.mu.Lock()
		defer t.mu.Unlock()
		return nil, &ports.CloseError{Code: t.closeCode, Reason: t.closeReason}
	}
}

func (t *FakeTransport) WriteFrame(data []byte) error {
	select {
	case <-t.closed:
		return apperrors.ErrTransportClosed
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written = append(t.written, append([]byte(nil), data...))
	return nil
}

// Close records the client's close code.
func (t *FakeTransport) Close(code int, reason string) error {
	t.finish(code, reason, true)
	return nil
}

// Push queues a server frame. Strings and byte slices are sent as is,
// anything else is JSON encoded.
func (t *FakeTransport) Push(frame any) {
	switch v := frame.(type) {
	case string:
		t.inbound <- []byte(v)
	case []byte:
		t.inbound <- v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		t.inbound <- data
	}
}

// ServerClose ends the transport as if the server closed it.
func (t *FakeTransport) ServerClose(code int, reason string) {
	t.finish(code, reason, false)
}

func (t *FakeTransport) finish(code int, reason string, byClient bool) {
	t.once.Do(func() {
		t.mu.Lock()
		t.closeCode = code
		t.closeReason = reason
		t.byClient = byClient
		t.mu.Unlock()
		close(t.closed)
	})
}

// IsClosed reports whether either side closed the transport.
func (t *FakeTransport) IsClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// ClientClose returns the code the client closed with, if it did.
func (t *FakeTransport) ClientClose() (code int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode, t.byClient && t.IsClosed()
}

// Written returns every frame the client sent.
func (t *FakeTransport) Written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.written))
	copy(out, t.written)
	return out
}

// WrittenTypes returns the type field of every frame the client sent.
func (t *FakeTransport) WrittenTypes() []string {
	var types []string
	for _, raw := range t.Written() {
		var probe struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &probe)
		types = append(types, probe.Type)
	}
	return types
}

// FakeDialer hands out FakeTransports and records every dial.
type FakeDialer struct {
	mu         sync.Mutex
	urls       []string
	transports []*FakeTransport
	failures   []error
	failAlways error
}

// NewFakeDialer returns a dialer whose dials succeed
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

func (d *FakeDialer) Dial(ctx context.Context, url string) (ports.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.urls = append(d.urls, url)
	if d.failAlways != nil {
		return nil, d.failAlways
	}
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := NewFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

// FailNext makes the next dials fail with errs, in order.
func (d *FakeDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

// FailAlways makes every dial fail with err; nil restores success.
func (d *FakeDialer) FailAlways(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAlways = err
}

// Attempts returns the number of Dial calls.
func (d *FakeDialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// URLs returns every dialed URL.
func (d *FakeDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Transports returns every transport handed out.
func (d *FakeDialer) Transports() []*FakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeTransport(nil), d.transports...)
}

// Last returns the newest transport, or nil.
func (d *FakeDialer) Last() *FakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// OpenCount returns how many handed-out transports are still open.
func (d *FakeDialer) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.transports {
		if !t.IsClosed() {
			n++
		}
	}
	return n
}
