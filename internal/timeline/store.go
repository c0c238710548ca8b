// Package timeline owns the canonical event log for one agent conversation
// and reconciles history pages, push events and local sends into it.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/agentsync/internal/clock"
	"github.com/tOgg1/agentsync/internal/events"
	"github.com/tOgg1/agentsync/internal/logging"
	"github.com/tOgg1/agentsync/internal/merge"
	"github.com/tOgg1/agentsync/internal/models"
)

// SourceName identifies store notifications.
const SourceName = "timeline-store"

// Store errors.
var (
	ErrNoAgent        = errors.New("timeline: no agent selected")
	ErrEmptyMessage   = errors.New("timeline: message has no body or attachments")
	ErrUnknownMessage = errors.New("timeline: no failed message with that client id")
)

// StreamOutcome tells the caller what to do after a stream event.
type StreamOutcome struct {
	// NeedsRefresh asks the caller to run RefreshLatest.
	NeedsRefresh bool
}

// Store is the timeline state machine. All methods are safe for concurrent
// use. Fetches run outside the lock and their results are dropped when the
// agent or the operation's request counter moved on in the meantime.
type Store struct {
	mu sync.Mutex

	cfg       Config
	fetcher   Fetcher
	engine    *merge.Engine
	clock     clock.Clock
	publisher events.Publisher
	logger    zerolog.Logger
	newID     func() string

	state State

	initSeq    uint64
	olderSeq   uint64
	newerSeq   uint64
	refreshSeq uint64

	lastRefresh  time.Time
	forceRefresh bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps and throttling.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithPublisher sets the publisher that receives change notifications.
func WithPublisher(p events.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithIDGenerator sets the client id generator for optimistic messages.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// NewStore creates a store backed by fetcher.
func NewStore(fetcher Fetcher, cfg Config, opts ...Option) *Store {
	cfg = cfg.withDefaults()
	s := &Store{
		cfg:     cfg,
		fetcher: fetcher,
		engine:  merge.New(merge.Options{CollapseThreshold: cfg.CollapseThreshold}),
		clock:   clock.Real(),
		logger:  logging.Component(SourceName),
		newID:   uuid.NewString,
		state:   State{AutoScrollPinned: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = events.NewInMemoryPublisher()
	}
	return s
}

// Publisher returns the publisher notifications are sent to.
func (s *Store) Publisher() events.Publisher {
	return s.publisher
}

// State returns a deep copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Initialize loads the most recent page for agentID and replaces the log.
func (s *Store) Initialize(ctx context.Context, agentID string) error {
	if agentID == "" {
		return ErrNoAgent
	}

	s.mu.Lock()
	s.initSeq++
	s.olderSeq++
	s.newerSeq++
	s.refreshSeq++
	seq := s.initSeq
	s.state = State{
		AgentID:          agentID,
		Loading:          true,
		AutoScrollPinned: true,
	}
	s.lastRefresh = time.Time{}
	s.forceRefresh = false
	s.mu.Unlock()
	s.notify(agentID)

	page, err := s.fetcher.FetchTimeline(ctx, agentID, Query{Direction: DirectionInitial, Limit: s.cfg.PageSize})

	s.mu.Lock()
	if s.state.AgentID != agentID || s.initSeq != seq {
		s.mu.Unlock()
		s.logger.Debug().Str("agent_id", agentID).Msg("discarding stale initial page")
		return nil
	}
	s.state.Loading = false
	if err != nil {
		s.state.Error = err.Error()
		s.mu.Unlock()
		s.logger.Warn().Err(err).Str("agent_id", agentID).Msg("initial fetch failed")
		s.notify(agentID)
		return fmt.Errorf("initialize %s: %w", agentID, err)
	}
	s.applySnapshotLocked(page, false)
	s.state.Initialized = true
	count := len(s.state.Events)
	s.mu.Unlock()

	s.logger.Debug().Str("agent_id", agentID).Int("events", count).Msg("timeline initialized")
	s.notify(agentID)
	return nil
}

// JumpToLatest drops buffered events, pins to the live edge and reloads the
// most recent page. Optimistic messages survive the reload.
func (s *Store) JumpToLatest(ctx context.Context) error {
	s.mu.Lock()
	agentID := s.state.AgentID
	if agentID == "" {
		s.mu.Unlock()
		return ErrNoAgent
	}
	s.initSeq++
	s.olderSeq++
	s.newerSeq++
	seq := s.initSeq
	s.state.Pending = nil
	s.state.HasUnseenActivity = false
	s.state.AwaitingResponse = false
	s.state.AwaitingSince = nil
	s.state.AutoScrollPinned = true
	s.state.Loading = true
	s.state.LoadingOlder = false
	s.state.LoadingNewer = false
	s.mu.Unlock()
	s.notify(agentID)

	page, err := s.fetcher.FetchTimeline(ctx, agentID, Query{Direction: DirectionInitial, Limit: s.cfg.PageSize})

	s.mu.Lock()
	if s.state.AgentID != agentID || s.initSeq != seq {
		s.mu.Unlock()
		return nil
	}
	s.state.Loading = false
	if err != nil {
		s.state.Error = err.Error()
		s.mu.Unlock()
		s.notify(agentID)
		return fmt.Errorf("jump to latest: %w", err)
	}
	s.applySnapshotLocked(page, true)
	s.mu.Unlock()
	s.notify(agentID)
	return nil
}

// applySnapshotLocked replaces the log with page. When keepOptimistic is
// set, local messages not confirmed by the page are carried over.
func (s *Store) applySnapshotLocked(page *Page, keepOptimistic bool) {
	var carried []models.TimelineEvent
	if keepOptimistic {
		carried = s.state.Optimistic()
	}
	s.state.Events = carried
	for i := range page.Events {
		s.matchOptimisticLocked(page.Events[i])
	}
	s.state.Events = s.engine.Merge(s.state.Events, page.Events)

	trimmed := false
	s.state.Events, trimmed = trimOldest(s.state.Events, s.cfg.MaxEvents)
	s.state.HasMoreOlder = page.HasMoreOlder || trimmed
	s.state.HasMoreNewer = page.HasMoreNewer
	s.recomputeCursorsLocked()
	if page.Agent != nil {
		s.state.Agent = *page.Agent
	}
	s.updateProcessingLocked(page.processing(), s.clock.Now())
}

// LoadOlder fetches the page before the oldest cursor.
func (s *Store) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	agentID := s.state.AgentID
	if agentID == "" || s.state.Loading || s.state.LoadingOlder || !s.state.HasMoreOlder {
		s.mu.Unlock()
		return nil
	}
	s.olderSeq++
	seq := s.olderSeq
	s.state.LoadingOlder = true
	query := Query{Direction: DirectionOlder, Cursor: s.state.OldestCursor, Limit: s.cfg.PageSize}
	s.mu.Unlock()
	s.notify(agentID)

	page, err := s.fetcher.FetchTimeline(ctx, agentID, query)

	s.mu.Lock()
	if s.state.AgentID != agentID || s.olderSeq != seq {
		s.mu.Unlock()
		return nil
	}
	s.state.LoadingOlder = false
	if err != nil {
		s.state.Error = err.Error()
		s.mu.Unlock()
		s.logger.Warn().Err(err).Str("agent_id", agentID).Msg("load older failed")
		s.notify(agentID)
		return fmt.Errorf("load older: %w", err)
	}
	merged := s.engine.Merge(s.state.Events, page.Events)
	merged, trimmed := trimNewest(merged, s.cfg.MaxEvents)
	s.state.Events = merged
	s.state.HasMoreOlder = page.HasMoreOlder
	if trimmed {
		s.state.HasMoreNewer = true
	}
	s.recomputeCursorsLocked()
	s.mu.Unlock()
	s.notify(agentID)
	return nil
}

// LoadNewer fetches the page after the newest cursor.
func (s *Store) LoadNewer(ctx context.Context) error {
	s.mu.Lock()
	agentID := s.state.AgentID
	if agentID == "" || s.state.Loading || s.state.LoadingNewer || !s.state.HasMoreNewer {
		s.mu.Unlock()
		return nil
	}
	s.newerSeq++
	seq := s.newerSeq
	s.state.LoadingNewer = true
	query := Query{Direction: DirectionNewer, Cursor: s.state.NewestCursor, Limit: s.cfg.PageSize}
	s.mu.Unlock()
	s.notify(agentID)

	page, err := s.fetcher.FetchTimeline(ctx, agentID, query)

	s.mu.Lock()
	if s.state.AgentID != agentID || s.newerSeq != seq {
		s.mu.Unlock()
		return nil
	}
	s.state.LoadingNewer = false
	if err != nil {
		s.state.Error = err.Error()
		s.mu.Unlock()
		s.logger.Warn().Err(err).Str("agent_id", agentID).Msg("load newer failed")
		s.notify(agentID)
		return fmt.Errorf("load newer: %w", err)
	}
	for i := range page.Events {
		s.matchOptimisticLocked(page.Events[i])
	}
	s.state.HasMoreNewer = page.HasMoreNewer
	s.mergeNewerLocked(page.Events)
	s.mu.Unlock()
	s.notify(agentID)
	return nil
}

// RefreshLatest pulls everything newer than the newest cursor and applies
// it like a batch of push events. It is skipped while one is in flight or
// when one completed within the throttle window.
func (s *Store) RefreshLatest(ctx context.Context) error {
	s.mu.Lock()
	agentID := s.state.AgentID
	now := s.clock.Now()
	throttled := !s.lastRefresh.IsZero() && now.Sub(s.lastRefresh) < s.cfg.RefreshThrottle
	if agentID == "" || s.state.Loading || s.state.RefreshingLatest || (throttled && !s.forceRefresh) {
		s.mu.Unlock()
		return nil
	}
	s.forceRefresh = false
	s.refreshSeq++
	seq := s.refreshSeq
	s.state.RefreshingLatest = true
	query := Query{Direction: DirectionNewer, Cursor: s.state.NewestCursor, Limit: s.cfg.PageSize}
	if query.Cursor == "" {
		query.Direction = DirectionInitial
	}
	s.mu.Unlock()
	s.notify(agentID)

	page, err := s.fetcher.FetchTimeline(ctx, agentID, query)

	s.mu.Lock()
	if s.state.AgentID != agentID || s.refreshSeq != seq {
		s.mu.Unlock()
		return nil
	}
	s.state.RefreshingLatest = false
	s.lastRefresh = s.clock.Now()
	if err != nil {
		s.state.Error = err.Error()
		s.mu.Unlock()
		s.logger.Warn().Err(err).Str("agent_id", agentID).Msg("refresh latest failed")
		s.notify(agentID)
		return fmt.Errorf("refresh latest: %w", err)
	}
	if query.Direction == DirectionInitial {
		s.state.HasMoreOlder = s.state.HasMoreOlder || page.HasMoreOlder
	}
	if s.state.AutoScrollPinned {
		s.state.HasMoreNewer = page.HasMoreNewer
	}
	s.ingestLocked(page.Events, s.lastRefresh)
	s.updateProcessingLocked(page.processing(), s.clock.Now())
	s.mu.Unlock()
	s.notify(agentID)
	return nil
}

// RefreshProcessing re-reads the processing snapshot.
func (s *Store) RefreshProcessing(ctx context.Context) error {
	s.mu.Lock()
	agentID, seq := s.state.AgentID, s.initSeq
	s.mu.Unlock()
	if agentID == "" {
		return ErrNoAgent
	}

	snapshot, err := s.fetcher.FetchProcessing(ctx, agentID)
	if err != nil {
		return fmt.Errorf("refresh processing: %w", err)
	}
	if snapshot == nil {
		return nil
	}

	s.mu.Lock()
	if s.state.AgentID != agentID || s.initSeq != seq {
		s.mu.Unlock()
		return nil
	}
	s.updateProcessingLocked(*snapshot, s.clock.Now())
	s.mu.Unlock()
	s.notify(agentID)
	return nil
}

// ReceiveRealtimeEvent ingests one push event.
func (s *Store) ReceiveRealtimeEvent(event models.TimelineEvent) {
	if err := event.Validate(); err != nil {
		s.logger.Debug().Err(err).Str("cursor", event.Cursor).Msg("dropping invalid event")
		return
	}

	s.mu.Lock()
	agentID := s.state.AgentID
	if agentID == "" {
		s.mu.Unlock()
		return
	}
	s.ingestLocked([]models.TimelineEvent{event}, s.clock.Now())
	s.mu.Unlock()
	s.notify(agentID)
}

// ingestLocked applies events the way a push would: confirmed user
// messages retire their optimistic echo, agent activity updates the
// progress tracking, and the events go to the log when pinned or to the
// pending buffer otherwise.
func (s *Store) ingestLocked(batch []models.TimelineEvent, now time.Time) {
	if len(batch) == 0 {
		return
	}
	for i := range batch {
		s.matchOptimisticLocked(batch[i])
		s.noteActivityLocked(batch[i], now)
	}
	if !s.state.AutoScrollPinned {
		pending := s.engine.Merge(s.state.Pending, batch)
		s.state.Pending, _ = trimOldest(pending, s.cfg.MaxEvents)
		s.state.HasUnseenActivity = true
		return
	}
	s.mergeNewerLocked(batch)
}

// noteActivityLocked records agent activity. Thinking, steps and outbound
// messages start a new unit of work and end the wait for a response.
func (s *Store) noteActivityLocked(ev models.TimelineEvent, now time.Time) {
	switch {
	case ev.Kind == models.EventKindThinking, ev.Kind == models.EventKindSteps:
	case ev.Kind == models.EventKindMessage && ev.Message != nil && ev.Message.IsOutbound:
		if s.state.Stream != nil && s.state.Stream.Done {
			s.state.Stream = nil
		}
	default:
		return
	}
	started := now
	s.state.ProcessingStartedAt = &started
	s.state.AwaitingResponse = false
	s.state.AwaitingSince = nil
}

// SetAutoScrollPinned records whether the consumer is at the live edge.
// Pinning flushes the pending buffer in a single merge.
func (s *Store) SetAutoScrollPinned(pinned bool) {
	s.mu.Lock()
	agentID := s.state.AgentID
	if s.state.AutoScrollPinned == pinned && (!pinned || len(s.state.Pending) == 0) {
		s.mu.Unlock()
		return
	}
	s.state.AutoScrollPinned = pinned
	if pinned {
		pending := s.state.Pending
		s.state.Pending = nil
		s.state.HasUnseenActivity = false
		s.mergeNewerLocked(pending)
	}
	s.mu.Unlock()
	s.notify(agentID)
}

// UpdateProcessing replaces the processing snapshot.
func (s *Store) UpdateProcessing(snapshot models.ProcessingSnapshot) {
	s.mu.Lock()
	agentID := s.state.AgentID
	s.updateProcessingLocked(snapshot, s.clock.Now())
	s.mu.Unlock()
	s.notify(agentID)
}

func (s *Store) updateProcessingLocked(snapshot models.ProcessingSnapshot, now time.Time) {
	wasActive := s.state.ProcessingActive
	s.state.Processing = snapshot.Clone()
	s.state.ProcessingActive = snapshot.Active
	switch {
	case snapshot.Active && !wasActive && s.state.ProcessingStartedAt == nil:
		started := now
		s.state.ProcessingStartedAt = &started
	case !snapshot.Active && !s.state.AwaitingResponse:
		s.state.ProcessingStartedAt = nil
	}
}

// DismissError clears the store-level error.
func (s *Store) DismissError() {
	s.mu.Lock()
	agentID := s.state.AgentID
	if s.state.Error == "" {
		s.mu.Unlock()
		return
	}
	s.state.Error = ""
	s.mu.Unlock()
	s.notify(agentID)
}

// mergeNewerLocked merges batch at the live edge, trimming the oldest
// events past the window.
func (s *Store) mergeNewerLocked(batch []models.TimelineEvent) {
	if len(batch) == 0 {
		return
	}
	merged := s.engine.Merge(s.state.Events, batch)
	merged, trimmed := trimOldest(merged, s.cfg.MaxEvents)
	s.state.Events = merged
	if trimmed {
		s.state.HasMoreOlder = true
	}
	s.recomputeCursorsLocked()
}

// recomputeCursorsLocked derives the boundary cursors from the log.
// Optimistic messages carry local cursors and never become a boundary.
func (s *Store) recomputeCursorsLocked() {
	s.state.OldestCursor, s.state.NewestCursor = "", ""
	for _, ev := range s.state.Events {
		if isOptimistic(ev) {
			continue
		}
		if s.state.OldestCursor == "" {
			s.state.OldestCursor = ev.Cursor
		}
		s.state.NewestCursor = ev.Cursor
	}
}

func (s *Store) notify(agentID string) {
	s.publisher.Publish(context.Background(), &events.Notification{
		Type:    events.TypeTimelineChanged,
		Source:  SourceName,
		AgentID: agentID,
		At:      s.clock.Now(),
	})
}

func trimOldest(events []models.TimelineEvent, max int) ([]models.TimelineEvent, bool) {
	if max <= 0 || len(events) <= max {
		return events, false
	}
	return events[len(events)-max:], true
}

// trimNewest drops the newest confirmed events beyond max. Optimistic
// echoes are always kept and count against max.
func trimNewest(events []models.TimelineEvent, max int) ([]models.TimelineEvent, bool) {
	if max <= 0 || len(events) <= max {
		return events, false
	}
	budget := max
	for _, ev := range events {
		if isOptimistic(ev) {
			budget--
		}
	}
	out := make([]models.TimelineEvent, 0, max)
	trimmed := false
	for _, ev := range events {
		switch {
		case isOptimistic(ev):
			out = append(out, ev)
		case budget > 0:
			out = append(out, ev)
			budget--
		default:
			trimmed = true
		}
	}
	return out, trimmed
}
