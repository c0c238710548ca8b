package timeline

import (
	"time"

	"github.com/tOgg1/agentsync/internal/models"
)

// ReceiveStreamEvent applies a live streaming frame to the stream buffer.
func (s *Store) ReceiveStreamEvent(ev models.StreamEvent) StreamOutcome {
	s.mu.Lock()
	agentID := s.state.AgentID
	if agentID == "" || ev.StreamID == "" {
		s.mu.Unlock()
		return StreamOutcome{}
	}
	now := s.clock.Now()
	var outcome StreamOutcome

	switch ev.Phase {
	case models.StreamPhaseStart:
		s.state.Stream = &models.StreamBuffer{StreamID: ev.StreamID, StartedAt: now}
		appendStream(s.state.Stream, ev, now)
	case models.StreamPhaseDelta:
		if s.state.Stream == nil || s.state.Stream.StreamID != ev.StreamID {
			s.state.Stream = &models.StreamBuffer{StreamID: ev.StreamID, StartedAt: now}
		}
		appendStream(s.state.Stream, ev, now)
	case models.StreamPhaseDone:
		stream := s.state.Stream
		if stream == nil || stream.StreamID != ev.StreamID {
			s.mu.Unlock()
			return StreamOutcome{}
		}
		appendStream(stream, ev, now)
		stream.Done = true
		switch {
		case stream.Content != "":
		case stream.Reasoning == "":
			s.state.Stream = nil
		case s.cfg.StreamPolicy == StreamPolicyRefresh:
			s.state.Stream = nil
			s.forceRefresh = true
			outcome.NeedsRefresh = true
		default:
			stream.ReasoningOnly = true
		}
	default:
		s.mu.Unlock()
		s.logger.Debug().Str("phase", string(ev.Phase)).Msg("ignoring unknown stream phase")
		return StreamOutcome{}
	}
	s.mu.Unlock()
	s.notify(agentID)
	return outcome
}

func appendStream(buf *models.StreamBuffer, ev models.StreamEvent, now time.Time) {
	buf.Reasoning += ev.ReasoningDelta
	buf.Content += ev.ContentDelta
	buf.UpdatedAt = now
}
