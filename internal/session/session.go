// Package session wires the lifecycle coordinator, connection manager and
// timeline store together for one selected agent.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/agentsync/internal/clock"
	"github.com/tOgg1/agentsync/internal/events"
	"github.com/tOgg1/agentsync/internal/lifecycle"
	"github.com/tOgg1/agentsync/internal/logging"
	"github.com/tOgg1/agentsync/internal/models"
	"github.com/tOgg1/agentsync/internal/realtime"
	"github.com/tOgg1/agentsync/internal/timeline"
)

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("session: closed")

// Store is the part of the timeline store the session drives.
type Store interface {
	Initialize(ctx context.Context, agentID string) error
	RefreshLatest(ctx context.Context) error
	RefreshProcessing(ctx context.Context) error
	ReceiveRealtimeEvent(event models.TimelineEvent)
	ReceiveStreamEvent(ev models.StreamEvent) timeline.StreamOutcome
	UpdateProcessing(snapshot models.ProcessingSnapshot)
}

// Connection is the part of the connection manager the session drives.
type Connection interface {
	SetHandler(h realtime.Handler)
	SetSubject(agentID string, subjectContext json.RawMessage)
	Connect()
	Close()
	Resume(reason string)
	Suspend(reason string)
	SetOnline(online bool)
	Snapshot() realtime.Snapshot
}

var (
	_ Store      = (*timeline.Store)(nil)
	_ Connection = (*realtime.Manager)(nil)
)

// Session routes push frames into the store, asks the store to reconcile
// when the connection resyncs, and drives the connection from lifecycle
// signals.
type Session struct {
	store     Store
	conn      Connection
	lifecycle *lifecycle.Coordinator
	clock     clock.Clock
	logger    zerolog.Logger

	resyncInterval time.Duration
	lifecycleCfg   lifecycle.Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	agentID string
	looping bool
	closed  bool
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock for the resync ticker and the coordinator.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithResyncInterval sets how often history is pulled while connected.
// Zero disables periodic resync.
func WithResyncInterval(d time.Duration) Option {
	return func(s *Session) { s.resyncInterval = d }
}

// WithLifecycle sets the coordinator configuration.
func WithLifecycle(cfg lifecycle.Config) Option {
	return func(s *Session) { s.lifecycleCfg = cfg }
}

// New creates a session and installs itself as the connection's handler.
func New(store Store, conn Connection, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		store:          store,
		conn:           conn,
		clock:          clock.Real(),
		logger:         logging.Component("session"),
		resyncInterval: time.Minute,
		lifecycleCfg:   lifecycle.DefaultConfig(),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lifecycle = lifecycle.NewCoordinator(s.lifecycleCfg, lifecycle.Callbacks{
		OnResume:  conn.Resume,
		OnSuspend: conn.Suspend,
		OnNetwork: conn.SetOnline,
	}, lifecycle.WithClock(s.clock))
	conn.SetHandler(realtime.Handler{
		OnFrame:  s.handleFrame,
		OnResync: s.handleResync,
	})
	return s
}

// Lifecycle returns the coordinator that receives visibility and network
// signals.
func (s *Session) Lifecycle() *lifecycle.Coordinator {
	return s.lifecycle
}

// AgentID returns the selected agent.
func (s *Session) AgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentID
}

// Open loads agentID's history, subscribes to it and connects. Calling it
// again switches agents on the same connection.
func (s *Session) Open(ctx context.Context, agentID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.agentID = agentID
	if !s.looping && s.resyncInterval > 0 {
		s.looping = true
		s.wg.Add(1)
		go s.resyncLoop()
	}
	s.mu.Unlock()

	if err := s.store.Initialize(ctx, agentID); err != nil {
		return err
	}
	s.conn.SetSubject(agentID, nil)
	s.conn.Connect()
	return nil
}

// Close disconnects and stops background work.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.lifecycle.Stop()
	s.cancel()
	s.conn.Close()
	s.wg.Wait()
}

func (s *Session) handleFrame(frame realtime.Frame) {
	current := s.AgentID()
	if frame.AgentID != "" && frame.AgentID != current {
		s.logger.Debug().Str("agent_id", frame.AgentID).Str("type", string(frame.Type)).Msg("dropping frame for other agent")
		return
	}

	switch frame.Type {
	case realtime.FrameTimelineEvent:
		var event models.TimelineEvent
		if err := frame.DecodePayload(&event); err != nil {
			s.logger.Warn().Err(err).Msg("dropping timeline frame")
			return
		}
		s.store.ReceiveRealtimeEvent(event)
	case realtime.FrameProcessing:
		var snapshot models.ProcessingSnapshot
		if err := frame.DecodePayload(&snapshot); err != nil {
			s.logger.Warn().Err(err).Msg("dropping processing frame")
			return
		}
		s.store.UpdateProcessing(snapshot)
	case realtime.FrameStreamEvent:
		var ev models.StreamEvent
		if err := frame.DecodePayload(&ev); err != nil {
			s.logger.Warn().Err(err).Msg("dropping stream frame")
			return
		}
		if s.store.ReceiveStreamEvent(ev).NeedsRefresh {
			s.refresh("stream settled")
		}
	}
}

func (s *Session) handleResync(reason string) {
	s.refresh(reason)
}

// refresh reconciles in the background so socket goroutines never block
// on history fetches.
func (s *Session) refresh(reason string) {
	s.mu.Lock()
	if s.closed || s.agentID == "" {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.store.RefreshLatest(s.ctx); err != nil && s.ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("reason", reason).Msg("resync failed")
			return
		}
		s.logger.Debug().Str("reason", reason).Msg("resynced")
	}()
}

func (s *Session) resyncLoop() {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(s.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.conn.Snapshot().Status != realtime.StatusConnected {
				continue
			}
			s.refresh("periodic")
			if err := s.store.RefreshProcessing(s.ctx); err != nil && s.ctx.Err() == nil {
				s.logger.Debug().Err(err).Msg("processing refresh failed")
			}
		}
	}
}

// Watch subscribes handler to store and connection notifications until
// the returned function is called.
func Watch(publishers []events.Publisher, id string, handler events.Handler) (func(), error) {
	var subscribed []events.Publisher
	cancel := func() {
		for _, p := range subscribed {
			_ = p.Unsubscribe(id)
		}
	}
	for _, p := range publishers {
		if err := p.Subscribe(id, events.Filter{}, handler); err != nil {
			cancel()
			return nil, err
		}
		subscribed = append(subscribed, p)
	}
	return cancel, nil
}
