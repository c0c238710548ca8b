package timeline

import (
	"context"

	"github.com/tOgg1/agentsync/internal/models"
)

// Direction selects which page to fetch.
type Direction string

const (
	DirectionInitial Direction = "initial"
	DirectionOlder   Direction = "older"
	DirectionNewer   Direction = "newer"
)

// Query describes one page request.
type Query struct {
	Direction Direction
	Cursor    string
	Limit     int
}

// Page is one page of history.
type Page struct {
	Events           []models.TimelineEvent     `json:"events"`
	OldestCursor     string                     `json:"oldest_cursor,omitempty"`
	NewestCursor     string                     `json:"newest_cursor,omitempty"`
	HasMoreOlder     bool                       `json:"has_more_older"`
	HasMoreNewer     bool                       `json:"has_more_newer"`
	ProcessingActive bool                       `json:"processing_active"`
	Processing       *models.ProcessingSnapshot `json:"processing_snapshot,omitempty"`
	Agent            *models.AgentIdentity      `json:"agent,omitempty"`
}

// processing returns the page's processing state, preferring the
// structured snapshot over the legacy flag.
func (p *Page) processing() models.ProcessingSnapshot {
	if p.Processing != nil {
		return p.Processing.Clone()
	}
	return models.ProcessingSnapshot{Active: p.ProcessingActive}
}

// SendRequest is a message submission.
type SendRequest struct {
	Body        string              `json:"body"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	ClientID    string              `json:"client_id"`
}

// Fetcher is the request/response collaborator the store pulls from.
type Fetcher interface {
	FetchTimeline(ctx context.Context, agentID string, query Query) (*Page, error)
	SendMessage(ctx context.Context, agentID string, req SendRequest) (*models.TimelineEvent, error)
	FetchProcessing(ctx context.Context, agentID string) (*models.ProcessingSnapshot, error)
}
