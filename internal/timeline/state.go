package timeline

import (
	"time"

	"github.com/tOgg1/agentsync/internal/models"
)

// State is a point-in-time copy of the store.
type State struct {
	AgentID string
	Agent   models.AgentIdentity

	Events  []models.TimelineEvent
	Pending []models.TimelineEvent

	OldestCursor string
	NewestCursor string
	HasMoreOlder bool
	HasMoreNewer bool

	Initialized      bool
	Loading          bool
	LoadingOlder     bool
	LoadingNewer     bool
	RefreshingLatest bool

	AutoScrollPinned  bool
	HasUnseenActivity bool

	ProcessingActive    bool
	Processing          models.ProcessingSnapshot
	ProcessingStartedAt *time.Time
	AwaitingResponse    bool
	AwaitingSince       *time.Time

	Stream *models.StreamBuffer

	Error string
}

func (s State) clone() State {
	out := s
	out.Events = models.CloneEvents(s.Events)
	out.Pending = models.CloneEvents(s.Pending)
	out.Processing = s.Processing.Clone()
	out.ProcessingStartedAt = copyTime(s.ProcessingStartedAt)
	out.AwaitingSince = copyTime(s.AwaitingSince)
	if s.Stream != nil {
		stream := *s.Stream
		out.Stream = &stream
	}
	return out
}

// Optimistic returns the locally synthesized messages still in the log.
func (s State) Optimistic() []models.TimelineEvent {
	var out []models.TimelineEvent
	for _, ev := range s.Events {
		if ev.Kind == models.EventKindMessage && ev.Message.IsOptimistic() {
			out = append(out, ev)
		}
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
