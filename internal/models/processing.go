package models

import (
	"bytes"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// WebTask is a background task the agent is running on the user's behalf.
type WebTask struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Status    string     `json:"status,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// ProcessingSnapshot reports whether the agent is working. It is replaced
// wholesale on every update.
type ProcessingSnapshot struct {
	Active          bool       `json:"active"`
	WebTasks        []WebTask  `json:"web_tasks,omitempty"`
	NextScheduledAt *time.Time `json:"next_scheduled_at,omitempty"`
}

// UnmarshalJSON accepts both the legacy boolean form and the object form.
func (p *ProcessingSnapshot) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*p = ProcessingSnapshot{}
		return nil
	case bytes.Equal(trimmed, []byte("true")):
		*p = ProcessingSnapshot{Active: true}
		return nil
	case bytes.Equal(trimmed, []byte("false")):
		*p = ProcessingSnapshot{}
		return nil
	case trimmed[0] != '{':
		return fmt.Errorf("processing snapshot: unexpected json %q", truncate(trimmed, 32))
	}

	type plain ProcessingSnapshot
	var decoded plain
	if err := sonic.Unmarshal(trimmed, &decoded); err != nil {
		return fmt.Errorf("processing snapshot: %w", err)
	}
	*p = ProcessingSnapshot(decoded)
	return nil
}

// Clone returns a deep copy.
func (p ProcessingSnapshot) Clone() ProcessingSnapshot {
	out := p
	out.WebTasks = append([]WebTask(nil), p.WebTasks...)
	if p.NextScheduledAt != nil {
		at := *p.NextScheduledAt
		out.NextScheduledAt = &at
	}
	return out
}

// AgentIdentity is the display identity returned with the initial page.
type AgentIdentity struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Color  string `json:"color,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
