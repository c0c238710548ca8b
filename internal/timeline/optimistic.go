package timeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tOgg1/agentsync/internal/cursor"
	"github.com/tOgg1/agentsync/internal/models"
)

// localIdentifierPrefix marks cursors minted for optimistic messages.
const localIdentifierPrefix = "local-"

// SendMessage shows body immediately as a sending message, then submits it.
// A failed submission leaves the message in the log marked failed; it is
// not retried automatically.
func (s *Store) SendMessage(ctx context.Context, body string, attachments []models.Attachment) error {
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	agentID := s.state.AgentID
	if agentID == "" {
		s.mu.Unlock()
		return ErrNoAgent
	}
	now := s.clock.Now()
	clientID := s.newID()
	s.insertOptimisticLocked(optimisticEvent(clientID, body, attachments, now), now)
	s.mu.Unlock()
	s.notify(agentID)

	s.logger.Debug().Str("agent_id", agentID).Str("client_id", clientID).Msg("sending message")
	return s.submit(ctx, agentID, SendRequest{Body: body, Attachments: attachments, ClientID: clientID})
}

// RetryMessage resubmits a failed optimistic message.
func (s *Store) RetryMessage(ctx context.Context, clientID string) error {
	s.mu.Lock()
	agentID := s.state.AgentID
	msg := s.findOptimisticLocked(clientID)
	if msg == nil || msg.Status != models.MessageStatusFailed {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	now := s.clock.Now()
	msg.Status = models.MessageStatusSending
	msg.Error = ""
	msg.Timestamp = now
	req := SendRequest{
		Body:        msg.BodyText,
		Attachments: append([]models.Attachment(nil), msg.Attachments...),
		ClientID:    clientID,
	}
	s.state.AwaitingResponse = true
	s.state.AwaitingSince = &now
	s.mu.Unlock()
	s.notify(agentID)

	return s.submit(ctx, agentID, req)
}

func (s *Store) submit(ctx context.Context, agentID string, req SendRequest) error {
	confirmed, err := s.fetcher.SendMessage(ctx, agentID, req)

	s.mu.Lock()
	if s.state.AgentID != agentID {
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		return nil
	}
	if err != nil {
		if msg := s.findOptimisticLocked(req.ClientID); msg != nil {
			msg.Status = models.MessageStatusFailed
			msg.Error = err.Error()
		}
		s.state.AwaitingResponse = false
		s.state.AwaitingSince = nil
		s.mu.Unlock()
		s.logger.Warn().Err(err).Str("agent_id", agentID).Str("client_id", req.ClientID).Msg("send failed")
		s.notify(agentID)
		return fmt.Errorf("send message: %w", err)
	}
	if confirmed != nil && confirmed.Validate() == nil {
		event := confirmed.Clone()
		if event.Kind == models.EventKindMessage && event.Message.ClientID == "" {
			event.Message.ClientID = req.ClientID
		}
		s.matchOptimisticLocked(event)
		s.mergeNewerLocked([]models.TimelineEvent{event})
	}
	s.mu.Unlock()
	s.notify(agentID)
	return nil
}

// insertOptimisticLocked merges a local echo straight into the visible
// log, regardless of pinning.
func (s *Store) insertOptimisticLocked(ev models.TimelineEvent, now time.Time) {
	s.state.Events = s.engine.Merge(s.state.Events, []models.TimelineEvent{ev})
	s.state.Events, _ = trimOldest(s.state.Events, s.cfg.MaxEvents)
	s.recomputeCursorsLocked()
	s.state.AwaitingResponse = true
	s.state.AwaitingSince = &now
}

// matchOptimisticLocked removes the optimistic echo of a confirmed user
// message. The client id is authoritative when both sides carry one;
// otherwise the trimmed text, attachment count and a timestamp within the
// match window must agree. At most one echo is removed.
func (s *Store) matchOptimisticLocked(ev models.TimelineEvent) {
	if ev.Kind != models.EventKindMessage || ev.Message == nil {
		return
	}
	confirmed := ev.Message
	if confirmed.IsOptimistic() || confirmed.IsOutbound {
		return
	}
	at := confirmed.Timestamp
	if at.IsZero() {
		at = s.clock.Now()
	}

	if idx := s.findMatch(s.state.Events, confirmed, at); idx >= 0 {
		s.state.Events = removeAt(s.state.Events, idx)
		s.recomputeCursorsLocked()
		return
	}
	if idx := s.findMatch(s.state.Pending, confirmed, at); idx >= 0 {
		s.state.Pending = removeAt(s.state.Pending, idx)
	}
}

func (s *Store) findMatch(list []models.TimelineEvent, confirmed *models.Message, at time.Time) int {
	if confirmed.ClientID != "" {
		for i := range list {
			if isOptimistic(list[i]) && list[i].Message.ClientID == confirmed.ClientID {
				return i
			}
		}
	}

	text := strings.TrimSpace(confirmed.BodyText)
	for i := range list {
		if !isOptimistic(list[i]) {
			continue
		}
		local := list[i].Message
		if confirmed.ClientID != "" && local.ClientID != "" {
			continue
		}
		if strings.TrimSpace(local.BodyText) != text || len(local.Attachments) != len(confirmed.Attachments) {
			continue
		}
		if delta := at.Sub(local.Timestamp); delta > s.cfg.MatchWindow || delta < -s.cfg.MatchWindow {
			continue
		}
		return i
	}
	return -1
}

func (s *Store) findOptimisticLocked(clientID string) *models.Message {
	for _, list := range [][]models.TimelineEvent{s.state.Events, s.state.Pending} {
		for i := range list {
			if isOptimistic(list[i]) && list[i].Message.ClientID == clientID {
				return list[i].Message
			}
		}
	}
	return nil
}

func optimisticEvent(clientID, body string, attachments []models.Attachment, now time.Time) models.TimelineEvent {
	tick := strconv.FormatInt(now.UnixMicro(), 10)
	return models.TimelineEvent{
		Kind:   models.EventKindMessage,
		Cursor: cursor.Format(tick, string(models.EventKindMessage), localIdentifierPrefix+clientID),
		Message: &models.Message{
			BodyText:    body,
			Timestamp:   now,
			Attachments: append([]models.Attachment(nil), attachments...),
			Status:      models.MessageStatusSending,
			ClientID:    clientID,
		},
	}
}

func isOptimistic(ev models.TimelineEvent) bool {
	return ev.Kind == models.EventKindMessage && ev.Message.IsOptimistic()
}

func removeAt(list []models.TimelineEvent, idx int) []models.TimelineEvent {
	out := make([]models.TimelineEvent, 0, len(list)-1)
	out = append(out, list[:idx]...)
	return append(out, list[idx+1:]...)
}
