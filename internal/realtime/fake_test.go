package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/agentsync/internal/clock"
	"github.com/tOgg1/agentsync/internal/events"
)

var (
	baseTime = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	errReset = errors.New("connection reset by peer")
)

type fakeConn struct {
	inbound chan []byte
	failed  chan error
	closed  chan struct{}

	mu          sync.Mutex
	written     []Frame
	closeCode   int
	closeReason string
	closeOnce   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		failed:  make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	case err := <-c.failed:
		return nil, err
	case data := <-c.inbound:
		return data, nil
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	frame, err := DecodeFrame(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, frame)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) push(raw string) {
	c.inbound <- []byte(raw)
}

func (c *fakeConn) fail(err error) {
	c.failed <- err
}

func (c *fakeConn) frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.written...)
}

func (c *fakeConn) hasWritten(typ FrameType) bool {
	for _, f := range c.frames() {
		if f.Type == typ {
			return true
		}
	}
	return false
}

func (c *fakeConn) closedWith() (int, string, bool) {
	select {
	case <-c.closed:
	default:
		return 0, "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason, true
}

// fakeDialer hands out queued errors first, then fresh connections.
type fakeDialer struct {
	mu      sync.Mutex
	errs    []error
	always  error
	conns   []*fakeConn
	dials   int
	headers []http.Header
}

func (d *fakeDialer) Dial(_ context.Context, _ string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.headers = append(d.headers, header)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	if d.always != nil {
		return nil, d.always
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) failNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type recorder struct {
	mu        sync.Mutex
	frames    []Frame
	resyncs   []string
	redirects []string
	statuses  []Status
}

func (r *recorder) handler() Handler {
	return Handler{
		OnFrame: func(f Frame) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.frames = append(r.frames, f)
		},
		OnResync: func(reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.resyncs = append(r.resyncs, reason)
		},
	}
}

func (r *recorder) redirect(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirects = append(r.redirects, reason)
}

func (r *recorder) redirectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.redirects)
}

func (r *recorder) resyncReasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.resyncs...)
}

func (r *recorder) receivedFrames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

func (r *recorder) statusHistory() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

type harness struct {
	manager *Manager
	dialer  *fakeDialer
	clock   *clock.FakeClock
	rec     *recorder
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = "wss://example.test/ws"
	cfg.Token = "secret"
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		dialer: &fakeDialer{},
		clock:  clock.Fake(baseTime),
		rec:    &recorder{},
	}
	publisher := events.NewInMemoryPublisher()
	require.NoError(t, publisher.Subscribe("test", events.Filter{Types: []events.NotificationType{events.TypeConnectionChanged}}, func(n *events.Notification) {
		snapshot, ok := n.Payload.(Snapshot)
		if !ok {
			return
		}
		h.rec.mu.Lock()
		h.rec.statuses = append(h.rec.statuses, snapshot.Status)
		h.rec.mu.Unlock()
	}))
	h.manager = NewManager(h.dialer, cfg,
		WithClock(h.clock),
		WithPublisher(publisher),
		WithRedirector(RedirectorFunc(h.rec.redirect)),
		WithJitter(func() time.Duration { return 0 }),
	)
	h.manager.SetHandler(h.rec.handler())
	t.Cleanup(h.manager.Close)
	return h
}

func (h *harness) waitStatus(t *testing.T, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.manager.Snapshot().Status == want
	}, time.Second, time.Millisecond, "status never became %s (now %s)", want, h.manager.Snapshot().Status)
}

func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	before := h.dialer.connCount()
	h.manager.Connect()
	h.waitStatus(t, StatusConnected)
	conn := h.dialer.conn(before)
	require.NotNil(t, conn)
	return conn
}

func (h *harness) timerPending(name timerName) bool {
	h.manager.mu.Lock()
	defer h.manager.mu.Unlock()
	return h.manager.timers.pending(name)
}
