// Package models defines the timeline data shared by the merge engine, the
// store, the push channel and the history client.
package models

import (
	"errors"
	"strings"
	"time"
)

// EventKind discriminates the TimelineEvent union.
type EventKind string

const (
	EventKindMessage  EventKind = "message"
	EventKindSteps    EventKind = "steps"
	EventKindThinking EventKind = "thinking"
	EventKindKanban   EventKind = "kanban"
)

// Validation errors for timeline events.
var (
	ErrMissingCursor  = errors.New("cursor is required")
	ErrUnknownKind    = errors.New("unknown event kind")
	ErrMissingPayload = errors.New("payload for kind is missing")
	ErrMissingEntryID = errors.New("tool call entry id is required")
	ErrInvalidStatus  = errors.New("message status is invalid")
)

// TimelineEvent is one entry of the canonical log. Exactly one of the
// payload pointers is set, matching Kind.
type TimelineEvent struct {
	Kind   EventKind `json:"kind"`
	Cursor string    `json:"cursor"`

	Message  *Message         `json:"message,omitempty"`
	Cluster  *ToolStepCluster `json:"cluster,omitempty"`
	Thinking *Thinking        `json:"thinking,omitempty"`
	Kanban   *KanbanSnapshot  `json:"kanban,omitempty"`
}

// MessageStatus marks locally synthesized messages. Confirmed messages
// carry an empty status.
type MessageStatus string

const (
	MessageStatusConfirmed MessageStatus = ""
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusFailed    MessageStatus = "failed"
)

// Message is a chat message. Outbound means authored by the agent.
type Message struct {
	ID          string        `json:"id,omitempty"`
	BodyText    string        `json:"body_text"`
	BodyHTML    string        `json:"body_html,omitempty"`
	IsOutbound  bool          `json:"is_outbound"`
	Channel     string        `json:"channel,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Status      MessageStatus `json:"status,omitempty"`
	ClientID    string        `json:"client_id,omitempty"`
	Error       string        `json:"error,omitempty"`

	// Sanitized is set once BodyHTML has been derived or cleaned locally.
	Sanitized bool `json:"-"`
}

// Attachment describes a file attached to a message.
type Attachment struct {
	ID          string `json:"id,omitempty"`
	Filename    string `json:"filename"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// IsOptimistic reports whether the message was synthesized locally.
func (m *Message) IsOptimistic() bool {
	return m != nil && m.Status != MessageStatusConfirmed
}

// ToolCallEntry is one tool invocation inside a cluster. Repeated partial
// updates for the same ID are merged field by field.
type ToolCallEntry struct {
	ID        string     `json:"id"`
	Cursor    string     `json:"cursor,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
	Caption   string     `json:"caption,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	Status    string     `json:"status,omitempty"`
	Result    string     `json:"result,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Thinking is a settled reasoning block.
type Thinking struct {
	Cursor    string     `json:"cursor,omitempty"`
	Reasoning string     `json:"reasoning"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ToolStepCluster is a coalesced run of tool calls and thinking blocks.
type ToolStepCluster struct {
	Entries           []ToolCallEntry `json:"entries"`
	Thinking          []Thinking      `json:"thinking,omitempty"`
	CollapseThreshold int             `json:"collapse_threshold"`
	EntryCount        int             `json:"entry_count"`
	Collapsible       bool            `json:"collapsible"`
	EarliestTimestamp *time.Time      `json:"earliest_timestamp,omitempty"`
	LatestTimestamp   *time.Time      `json:"latest_timestamp,omitempty"`
}

// KanbanSnapshot is the agent's task board at a point in time.
type KanbanSnapshot struct {
	Title string       `json:"title,omitempty"`
	Cards []KanbanCard `json:"cards,omitempty"`
}

// KanbanCard is a single task on the board.
type KanbanCard struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Validate checks that the event is well formed enough to merge.
func (e *TimelineEvent) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(e.Cursor) == "" {
		validation.Add("cursor", ErrMissingCursor)
	}
	switch e.Kind {
	case EventKindMessage:
		if e.Message == nil {
			validation.Add("message", ErrMissingPayload)
		} else {
			switch e.Message.Status {
			case MessageStatusConfirmed, MessageStatusSending, MessageStatusFailed:
			default:
				validation.Add("message.status", ErrInvalidStatus)
			}
		}
	case EventKindSteps:
		if e.Cluster == nil {
			validation.Add("cluster", ErrMissingPayload)
		} else {
			for i, entry := range e.Cluster.Entries {
				if strings.TrimSpace(entry.ID) == "" {
					validation.Add(indexField("cluster.entries", i), ErrMissingEntryID)
				}
			}
		}
	case EventKindThinking:
		if e.Thinking == nil {
			validation.Add("thinking", ErrMissingPayload)
		}
	case EventKindKanban:
		if e.Kanban == nil {
			validation.Add("kanban", ErrMissingPayload)
		}
	default:
		validation.Add("kind", ErrUnknownKind)
	}
	return validation.Err()
}

// IsStepLike reports whether the event takes part in cluster coalescing.
func (e *TimelineEvent) IsStepLike() bool {
	return e.Kind == EventKindSteps || e.Kind == EventKindThinking
}

// Clone returns a deep copy so store snapshots never alias internal state.
func (e TimelineEvent) Clone() TimelineEvent {
	out := e
	if e.Message != nil {
		msg := *e.Message
		msg.Attachments = append([]Attachment(nil), e.Message.Attachments...)
		out.Message = &msg
	}
	if e.Cluster != nil {
		cluster := *e.Cluster
		cluster.Entries = append([]ToolCallEntry(nil), e.Cluster.Entries...)
		cluster.Thinking = append([]Thinking(nil), e.Cluster.Thinking...)
		out.Cluster = &cluster
	}
	if e.Thinking != nil {
		thinking := *e.Thinking
		out.Thinking = &thinking
	}
	if e.Kanban != nil {
		kanban := *e.Kanban
		kanban.Cards = append([]KanbanCard(nil), e.Kanban.Cards...)
		out.Kanban = &kanban
	}
	return out
}

// CloneEvents deep-copies a slice of events.
func CloneEvents(events []TimelineEvent) []TimelineEvent {
	if events == nil {
		return nil
	}
	out := make([]TimelineEvent, len(events))
	for i := range events {
		out[i] = events[i].Clone()
	}
	return out
}
