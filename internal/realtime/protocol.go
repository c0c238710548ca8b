package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// FrameType discriminates push channel frames.
type FrameType string

const (
	FramePing              FrameType = "ping"
	FramePong              FrameType = "pong"
	FrameSubscribe         FrameType = "subscribe"
	FrameUnsubscribe       FrameType = "unsubscribe"
	FrameTimelineEvent     FrameType = "timeline.event"
	FrameProcessing        FrameType = "processing"
	FrameStreamEvent       FrameType = "stream.event"
	FrameSubscriptionError FrameType = "subscription.error"
)

// Frame is one JSON text frame on the push channel.
type Frame struct {
	Type    FrameType       `json:"type"`
	AgentID string          `json:"agent_id,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

// EncodeFrame serializes a frame.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := sonic.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// DecodeFrame parses a frame. Frames without a type are rejected.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := sonic.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

// DecodePayload unmarshals the frame payload into v.
func (f Frame) DecodePayload(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Type)
	}
	if err := sonic.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}

func subscribeFrame(agentID string, context json.RawMessage) Frame {
	return Frame{Type: FrameSubscribe, AgentID: agentID, Context: context}
}

func unsubscribeFrame(agentID string) Frame {
	return Frame{Type: FrameUnsubscribe, AgentID: agentID}
}
