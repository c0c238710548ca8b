package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tOgg1/agentsync/internal/models"
)

var errBoom = errors.New("boom")

type fetchCall struct {
	agentID string
	query   Query
}

// fakeFetcher answers from per-direction queues unless a respond hook is
// installed.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[Direction][]*Page
	calls   []fetchCall
	sends   []SendRequest
	respond func(ctx context.Context, agentID string, q Query) (*Page, error)
	sendFn  func(agentID string, req SendRequest) (*models.TimelineEvent, error)
	proc    *models.ProcessingSnapshot
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[Direction][]*Page)}
}

func (f *fakeFetcher) queue(dir Direction, page *Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[dir] = append(f.pages[dir], page)
}

func (f *fakeFetcher) FetchTimeline(ctx context.Context, agentID string, q Query) (*Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{agentID: agentID, query: q})
	respond := f.respond
	var page *Page
	if respond == nil {
		if queued := f.pages[q.Direction]; len(queued) > 0 {
			page = queued[0]
			f.pages[q.Direction] = queued[1:]
		}
	}
	f.mu.Unlock()

	if respond != nil {
		return respond(ctx, agentID, q)
	}
	if page == nil {
		return &Page{}, nil
	}
	return page, nil
}

func (f *fakeFetcher) SendMessage(ctx context.Context, agentID string, req SendRequest) (*models.TimelineEvent, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	fn := f.sendFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(agentID, req)
}

func (f *fakeFetcher) FetchProcessing(ctx context.Context, agentID string) (*models.ProcessingSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proc, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) lastCall() fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

var baseTime = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

func cursorAt(n int, kind models.EventKind) string {
	return fmt.Sprintf("%d:%s:%d", baseTime.UnixMicro()+int64(n), kind, n)
}

func msgEvent(n int, text string, outbound bool) models.TimelineEvent {
	return models.TimelineEvent{
		Kind:   models.EventKindMessage,
		Cursor: cursorAt(n, models.EventKindMessage),
		Message: &models.Message{
			ID:         fmt.Sprintf("m%d", n),
			BodyText:   text,
			IsOutbound: outbound,
			Timestamp:  baseTime.Add(time.Duration(n) * time.Second),
		},
	}
}

func stepsEvent(n int, id string) models.TimelineEvent {
	return models.TimelineEvent{
		Kind:    models.EventKindSteps,
		Cursor:  cursorAt(n, models.EventKindSteps),
		Cluster: &models.ToolStepCluster{Entries: []models.ToolCallEntry{{ID: id, ToolName: "shell"}}},
	}
}

func messages(from, to int) []models.TimelineEvent {
	var out []models.TimelineEvent
	for i := from; i <= to; i++ {
		out = append(out, msgEvent(i, fmt.Sprintf("message %d", i), i%2 == 0))
	}
	return out
}
