// Package realtime maintains the push channel: connect, subscribe,
// heartbeat, reconnect with backoff, idle suspension and auth handling.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/agentsync/internal/clock"
	"github.com/tOgg1/agentsync/internal/events"
	"github.com/tOgg1/agentsync/internal/logging"
)

// SourceName identifies connection notifications.
const SourceName = "realtime"

// Status is the connection state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusOffline      Status = "offline"
	StatusError        Status = "error"
)

// Snapshot is the observable connection state.
type Snapshot struct {
	Status          Status     `json:"status"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	Attempt         int        `json:"attempt"`
	Subject         string     `json:"subject,omitempty"`
}

func (s Snapshot) equal(other Snapshot) bool {
	if s.Status != other.Status || s.LastError != other.LastError || s.Attempt != other.Attempt || s.Subject != other.Subject {
		return false
	}
	if (s.LastConnectedAt == nil) != (other.LastConnectedAt == nil) {
		return false
	}
	return s.LastConnectedAt == nil || s.LastConnectedAt.Equal(*other.LastConnectedAt)
}

// Config holds connection tuning.
type Config struct {
	URL   string
	Token string

	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffJitter time.Duration

	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	IdleTimeout       time.Duration

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// SendBuffer is the number of outbound frames queued per socket.
	SendBuffer int
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		BackoffBase:       time.Second,
		BackoffMax:        30 * time.Second,
		BackoffJitter:     500 * time.Millisecond,
		HeartbeatInterval: 25 * time.Second,
		PongTimeout:       10 * time.Second,
		IdleTimeout:       5 * time.Minute,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		SendBuffer:        32,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	return c
}

type socket struct {
	gen    uint64
	conn   Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// effects run after the manager lock is released.
type effects []func()

// Manager owns the push channel. Handlers run to completion under the lock;
// dials, socket closes and consumer callbacks run after it is released.
// Results from superseded sockets are identified by generation and dropped.
type Manager struct {
	mu sync.Mutex

	cfg        Config
	dialer     Dialer
	clock      clock.Clock
	publisher  events.Publisher
	redirector Redirector
	logger     zerolog.Logger
	jitter     func() time.Duration

	handler Handler
	timers  *timerRegistry

	status          Status
	lastConnectedAt *time.Time
	lastError       string
	attempt         int
	published       Snapshot

	started    bool
	online     bool
	suspended  bool
	dialing    bool
	redirected bool

	gen  uint64
	sock *socket

	subject        string
	subjectContext json.RawMessage
	subscribed     string
	lastInbound    time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock driving every timer.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithPublisher sets the publisher that receives status notifications.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithRedirector sets the login redirect collaborator.
func WithRedirector(r Redirector) Option {
	return func(m *Manager) { m.redirector = r }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithJitter overrides the random jitter added to backoff delays.
func WithJitter(fn func() time.Duration) Option {
	return func(m *Manager) { m.jitter = fn }
}

// NewManager creates a manager. Nothing is dialed until Connect.
func NewManager(dialer Dialer, cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		clock:  clock.Real(),
		logger: logging.Component(SourceName),
		status: StatusIdle,
		online: true,
	}
	m.jitter = func() time.Duration {
		if m.cfg.BackoffJitter <= 0 {
			return 0
		}
		return time.Duration(rand.Int64N(int64(m.cfg.BackoffJitter)))
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.publisher == nil {
		m.publisher = events.NewInMemoryPublisher()
	}
	m.timers = newTimerRegistry(m.clock)
	m.published = m.snapshotLocked()
	return m
}

// SetHandler replaces the consumer callbacks.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Snapshot returns the current connection state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Connect starts (or restarts after an error) the connection.
func (m *Manager) Connect() {
	m.mu.Lock()
	var fx effects
	m.started = true
	m.redirected = false
	if m.status == StatusError {
		m.status = StatusIdle
		m.lastError = ""
		m.attempt = 0
	}
	switch {
	case !m.online:
		m.status = StatusOffline
	case m.sock != nil || m.dialing:
	default:
		m.timers.stop(timerBackoff)
		fx = m.dialLocked(fx)
	}
	m.finish(fx)
}

// Close shuts the connection down deliberately. Connect may be called again.
func (m *Manager) Close() {
	m.mu.Lock()
	m.started = false
	m.timers.stopAll()
	fx := m.teardownLocked(nil, CloseNormal, "client closed")
	m.subscribed = ""
	m.attempt = 0
	if m.status != StatusError {
		m.status = StatusIdle
	}
	m.finish(fx)
}

// SetSubject switches the subscribed agent. On an open socket the old
// subject is unsubscribed before the new one is subscribed.
func (m *Manager) SetSubject(agentID string, subjectContext json.RawMessage) {
	m.mu.Lock()
	if agentID == m.subject && bytes.Equal(subjectContext, m.subjectContext) {
		m.mu.Unlock()
		return
	}
	m.subject = agentID
	m.subjectContext = subjectContext
	if m.sock != nil && m.status == StatusConnected {
		m.resubscribeLocked()
	}
	m.finish(nil)
}

// SuspendOffline is the suspend reason sent on network loss. Network loss is
// handled by SetOnline and does not mark the manager as suspended.
const SuspendOffline = "offline"

// Suspend arms the idle timer. When it fires the socket is closed and the
// status becomes idle. A socket opened while suspended arms the timer again.
func (m *Manager) Suspend(reason string) {
	m.mu.Lock()
	if reason == SuspendOffline {
		m.finish(nil)
		return
	}
	m.suspended = true
	switch m.status {
	case StatusConnected, StatusConnecting, StatusReconnecting:
		m.logger.Debug().Str("reason", reason).Dur("idle_timeout", m.cfg.IdleTimeout).Msg("suspending")
		m.armIdleLocked()
	}
	m.finish(nil)
}

func (m *Manager) armIdleLocked() {
	m.timers.set(timerIdle, m.cfg.IdleTimeout, func(token uint64) {
		m.onTimer(timerIdle, token, m.idleLocked)
	})
}

// Resume cancels pending idle and backoff timers. An open socket triggers
// a resync; otherwise the manager connects immediately.
func (m *Manager) Resume(reason string) {
	m.mu.Lock()
	m.suspended = false
	m.timers.stop(timerIdle)
	var fx effects
	switch {
	case !m.started || !m.online || m.status == StatusError:
	case m.sock != nil:
		fx = m.resyncLocked("resume: "+reason, fx)
	case m.dialing:
	default:
		m.timers.stop(timerBackoff)
		fx = m.dialLocked(fx)
	}
	m.finish(fx)
}

// SetOnline reports network availability. Going offline closes the socket
// and resets the retry counter; coming back online reconnects.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	var fx effects
	switch {
	case !online:
		m.timers.stop(timerBackoff, timerIdle)
		fx = m.teardownLocked(fx, CloseGoingAway, "offline")
		m.attempt = 0
		if m.status != StatusError {
			m.status = StatusOffline
		}
	case m.status == StatusOffline && m.started:
		fx = m.dialLocked(fx)
	case m.status == StatusOffline:
		m.status = StatusIdle
	}
	m.finish(fx)
}

func (m *Manager) dialLocked(fx effects) effects {
	m.gen++
	gen := m.gen
	m.dialing = true
	if m.attempt == 0 {
		m.status = StatusConnecting
	} else {
		m.status = StatusReconnecting
	}
	url, header := m.cfg.URL, m.header()
	return append(fx, func() { go m.dial(gen, url, header) })
}

func (m *Manager) dial(gen uint64, url string, header http.Header) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	conn, err := m.dialer.Dial(ctx, url, header)
	cancel()

	m.mu.Lock()
	if gen != m.gen || !m.dialing {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseNormal, "superseded")
		}
		return
	}
	m.dialing = false
	var fx effects
	if err != nil {
		m.logger.Debug().Err(err).Str("url", logging.RedactURL(url)).Int("attempt", m.attempt).Msg("dial failed")
		fx = m.failLocked(err, fx)
	} else {
		fx = m.openLocked(gen, conn, fx)
	}
	m.finish(fx)
}

func (m *Manager) openLocked(gen uint64, conn Conn, fx effects) effects {
	ctx, cancel := context.WithCancel(context.Background())
	sock := &socket{
		gen:    gen,
		conn:   conn,
		send:   make(chan []byte, m.cfg.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	m.sock = sock

	now := m.clock.Now()
	m.status = StatusConnected
	m.attempt = 0
	m.lastConnectedAt = &now
	m.lastError = ""
	m.redirected = false
	m.lastInbound = now

	m.resubscribeLocked()
	m.scheduleHeartbeatLocked()
	if m.suspended && !m.timers.pending(timerIdle) {
		m.armIdleLocked()
	}

	fx = append(fx, func() {
		go m.readLoop(sock)
		go m.writeLoop(sock)
	})
	return m.resyncLocked("connected", fx)
}

func (m *Manager) resubscribeLocked() {
	if m.subscribed != "" && m.subscribed != m.subject {
		m.sendLocked(unsubscribeFrame(m.subscribed))
	}
	if m.subject != "" {
		m.sendLocked(subscribeFrame(m.subject, m.subjectContext))
	}
	m.subscribed = m.subject
}

func (m *Manager) sendLocked(f Frame) bool {
	if m.sock == nil {
		return false
	}
	data, err := EncodeFrame(f)
	if err != nil {
		m.logger.Error().Err(err).Msg("encode frame")
		return false
	}
	select {
	case m.sock.send <- data:
		return true
	default:
		m.logger.Warn().Str("type", string(f.Type)).Msg("send buffer full, dropping frame")
		return false
	}
}

func (m *Manager) readLoop(sock *socket) {
	for {
		data, err := sock.conn.Read(sock.ctx)
		if err != nil {
			m.socketFailed(sock.gen, err)
			return
		}
		m.receive(sock.gen, data)
	}
}

func (m *Manager) writeLoop(sock *socket) {
	for {
		select {
		case <-sock.ctx.Done():
			return
		case data := <-sock.send:
			ctx, cancel := context.WithTimeout(sock.ctx, m.cfg.WriteTimeout)
			err := sock.conn.Write(ctx, data)
			cancel()
			if err != nil {
				m.socketFailed(sock.gen, err)
				return
			}
		}
	}
}

// receive handles one inbound frame. Any traffic counts as proof of life.
func (m *Manager) receive(gen uint64, data []byte) {
	m.mu.Lock()
	if m.sock == nil || m.sock.gen != gen {
		m.mu.Unlock()
		return
	}
	m.lastInbound = m.clock.Now()
	m.timers.stop(timerPong)

	var fx effects
	frame, err := DecodeFrame(data)
	if err != nil {
		m.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
		m.finish(fx)
		return
	}

	switch frame.Type {
	case FramePing:
		m.sendLocked(Frame{Type: FramePong})
	case FramePong:
	case FrameSubscriptionError:
		fx = m.subscriptionErrorLocked(frame, fx)
	case FrameTimelineEvent, FrameProcessing, FrameStreamEvent:
		if onFrame := m.handler.OnFrame; onFrame != nil {
			fx = append(fx, func() { onFrame(frame) })
		}
	default:
		m.logger.Debug().Str("type", string(frame.Type)).Msg("ignoring unknown frame type")
	}
	m.finish(fx)
}

func (m *Manager) subscriptionErrorLocked(frame Frame, fx effects) effects {
	message := frame.Message
	if message == "" {
		message = "subscription rejected"
	}
	if frame.AgentID != "" && frame.AgentID != m.subject {
		m.logger.Debug().Str("agent_id", frame.AgentID).Str("error", message).Msg("subscription error for previous subject")
		return fx
	}
	if looksLikeAuth(message) {
		fx = m.teardownLocked(fx, CloseNormal, "authentication required")
		return m.authFailureLocked(message, fx)
	}
	m.lastError = message
	return m.resyncLocked("subscription error", fx)
}

func (m *Manager) socketFailed(gen uint64, err error) {
	m.mu.Lock()
	if m.sock == nil || m.sock.gen != gen {
		m.mu.Unlock()
		return
	}
	fx := m.teardownLocked(nil, CloseGoingAway, "reconnecting")
	fx = m.failLocked(err, fx)
	m.finish(fx)
}

// failLocked reacts to a failed dial or a lost socket.
func (m *Manager) failLocked(err error, fx effects) effects {
	switch classify(err) {
	case failureAuth:
		return m.authFailureLocked("authentication required: "+err.Error(), fx)
	case failureAuthz:
		m.logger.Warn().Err(err).Msg("connection rejected, not retrying")
		m.status = StatusError
		m.lastError = err.Error()
		m.timers.stop(timerBackoff, timerIdle)
		return fx
	case failureNormal:
		m.lastError = ""
	default:
		m.lastError = err.Error()
	}
	return m.scheduleReconnectLocked(fx)
}

// authFailureLocked enters the terminal error state and redirects to login
// once per connected cycle.
func (m *Manager) authFailureLocked(message string, fx effects) effects {
	m.logger.Warn().Str("error", message).Msg("authentication required")
	m.status = StatusError
	m.lastError = message
	m.timers.stop(timerBackoff, timerIdle, timerHeartbeat, timerPong)
	if !m.redirected && m.redirector != nil {
		m.redirected = true
		redirector := m.redirector
		fx = append(fx, func() { redirector.RedirectToLogin(message) })
	}
	return fx
}

func (m *Manager) scheduleReconnectLocked(fx effects) effects {
	switch {
	case !m.online:
		m.status = StatusOffline
		m.attempt = 0
		return fx
	case !m.started:
		m.status = StatusIdle
		return fx
	}
	delay := BackoffDelay(m.attempt, m.cfg.BackoffBase, m.cfg.BackoffMax) + m.jitter()
	m.attempt++
	m.status = StatusReconnecting
	m.logger.Debug().Dur("delay", delay).Int("attempt", m.attempt).Msg("scheduling reconnect")
	m.timers.set(timerBackoff, delay, func(token uint64) {
		m.onTimer(timerBackoff, token, m.dialLocked)
	})
	return fx
}

// teardownLocked detaches the current socket and closes it asynchronously.
// Callbacks from the old socket are ignored from here on.
func (m *Manager) teardownLocked(fx effects, code int, reason string) effects {
	sock := m.sock
	m.sock = nil
	m.gen++
	m.dialing = false
	m.timers.stop(timerHeartbeat, timerPong)
	if sock == nil {
		return fx
	}
	return append(fx, func() {
		go func() {
			_ = sock.conn.Close(code, reason)
			sock.cancel()
		}()
	})
}

func (m *Manager) scheduleHeartbeatLocked() {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	m.timers.set(timerHeartbeat, m.cfg.HeartbeatInterval, func(token uint64) {
		m.onTimer(timerHeartbeat, token, m.heartbeatLocked)
	})
}

func (m *Manager) heartbeatLocked(fx effects) effects {
	if m.sock == nil {
		return fx
	}
	m.sendLocked(Frame{Type: FramePing})
	if m.cfg.PongTimeout > 0 && !m.timers.pending(timerPong) {
		m.timers.set(timerPong, m.cfg.PongTimeout, func(token uint64) {
			m.onTimer(timerPong, token, m.livenessTimeoutLocked)
		})
	}
	m.scheduleHeartbeatLocked()
	return fx
}

func (m *Manager) livenessTimeoutLocked(fx effects) effects {
	if m.sock == nil {
		return fx
	}
	m.logger.Warn().Time("last_inbound", m.lastInbound).Msg("no traffic within pong timeout, reconnecting")
	fx = m.teardownLocked(fx, CloseGoingAway, "heartbeat timeout")
	m.lastError = "heartbeat timeout"
	return m.scheduleReconnectLocked(fx)
}

func (m *Manager) idleLocked(fx effects) effects {
	m.logger.Debug().Msg("idle timeout reached, closing socket")
	m.timers.stop(timerBackoff)
	fx = m.teardownLocked(fx, CloseNormal, "idle")
	m.status = StatusIdle
	m.attempt = 0
	return fx
}

func (m *Manager) resyncLocked(reason string, fx effects) effects {
	if onResync := m.handler.OnResync; onResync != nil {
		fx = append(fx, func() { onResync(reason) })
	}
	return fx
}

// onTimer runs fn under the lock if token still owns the timer.
func (m *Manager) onTimer(name timerName, token uint64, fn func(effects) effects) {
	m.mu.Lock()
	if !m.timers.claim(name, token) {
		m.mu.Unlock()
		return
	}
	m.finish(fn(nil))
}

// finish releases the lock and runs the collected effects in order, led by
// a status notification if the snapshot changed.
func (m *Manager) finish(fx effects) {
	snapshot := m.snapshotLocked()
	if !snapshot.equal(m.published) {
		if snapshot.Status != m.published.Status {
			m.logger.Info().Str("from", string(m.published.Status)).Str("to", string(snapshot.Status)).Str("error", snapshot.LastError).Msg("connection status changed")
		}
		m.published = snapshot
		publisher, at := m.publisher, m.clock.Now()
		publish := func() {
			publisher.Publish(context.Background(), &events.Notification{
				Type:    events.TypeConnectionChanged,
				Source:  SourceName,
				AgentID: snapshot.Subject,
				At:      at,
				Payload: snapshot,
			})
		}
		fx = append(effects{publish}, fx...)
	}
	m.mu.Unlock()
	for _, f := range fx {
		f()
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	var connectedAt *time.Time
	if m.lastConnectedAt != nil {
		at := *m.lastConnectedAt
		connectedAt = &at
	}
	return Snapshot{
		Status:          m.status,
		LastConnectedAt: connectedAt,
		LastError:       m.lastError,
		Attempt:         m.attempt,
		Subject:         m.subject,
	}
}

func (m *Manager) header() http.Header {
	header := http.Header{}
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}
	return header
}

// pendingTimers reports how many timers are armed.
func (m *Manager) pendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers.count()
}
