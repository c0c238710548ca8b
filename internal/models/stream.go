package models

import "time"

// StreamPhase identifies a live streaming event.
type StreamPhase string

const (
	StreamPhaseStart StreamPhase = "start"
	StreamPhaseDelta StreamPhase = "delta"
	StreamPhaseDone  StreamPhase = "done"
)

// StreamEvent is one frame of live model output.
type StreamEvent struct {
	Phase          StreamPhase `json:"phase"`
	StreamID       string      `json:"stream_id"`
	ReasoningDelta string      `json:"reasoning_delta,omitempty"`
	ContentDelta   string      `json:"content_delta,omitempty"`
}

// StreamBuffer accumulates live output. It never enters the canonical log.
type StreamBuffer struct {
	StreamID      string    `json:"stream_id"`
	Reasoning     string    `json:"reasoning,omitempty"`
	Content       string    `json:"content,omitempty"`
	Done          bool      `json:"done"`
	ReasoningOnly bool      `json:"reasoning_only,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
