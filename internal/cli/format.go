package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tOgg1/agentsync/internal/models"
	"github.com/tOgg1/agentsync/internal/realtime"
	"github.com/tOgg1/agentsync/internal/timeline"
)

const (
	timestampLayout = "15:04:05"
	previewWidth    = 72
)

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.Local().Format(timestampLayout)
}

func eventTime(ev models.TimelineEvent) time.Time {
	switch ev.Kind {
	case models.EventKindMessage:
		return ev.Message.Timestamp
	case models.EventKindSteps:
		if ev.Cluster.LatestTimestamp != nil {
			return *ev.Cluster.LatestTimestamp
		}
	case models.EventKindThinking:
		if ev.Thinking.Timestamp != nil {
			return *ev.Thinking.Timestamp
		}
	}
	return time.Time{}
}

func sender(ev models.TimelineEvent) string {
	if ev.Kind == models.EventKindMessage && !ev.Message.IsOutbound {
		return "you"
	}
	return "agent"
}

// summarize renders the one-line body of an event.
func summarize(ev models.TimelineEvent) string {
	switch ev.Kind {
	case models.EventKindMessage:
		text := oneLine(ev.Message.BodyText)
		if n := len(ev.Message.Attachments); n > 0 {
			text += fmt.Sprintf(" [%d attachment%s]", n, plural(n))
		}
		return text
	case models.EventKindSteps:
		c := ev.Cluster
		names := make([]string, 0, len(c.Entries))
		for _, e := range c.Entries {
			name := e.ToolName
			if name == "" {
				name = e.Caption
			}
			if name != "" {
				names = append(names, name)
			}
		}
		text := fmt.Sprintf("%d step%s", c.EntryCount, plural(c.EntryCount))
		if len(names) > 0 {
			text += ": " + strings.Join(names, ", ")
		}
		return truncateText(text, previewWidth)
	case models.EventKindThinking:
		return truncateText("thinking: "+oneLine(ev.Thinking.Reasoning), previewWidth)
	case models.EventKindKanban:
		title := ev.Kanban.Title
		if title == "" {
			title = "board"
		}
		return fmt.Sprintf("%s (%d card%s)", title, len(ev.Kanban.Cards), plural(len(ev.Kanban.Cards)))
	}
	return string(ev.Kind)
}

func formatEvent(ev models.TimelineEvent, st styles) string {
	ts := st.render(st.Muted, formatTimestamp(eventTime(ev)))
	who := sender(ev)
	switch ev.Kind {
	case models.EventKindMessage:
		label := st.render(st.Agent, who)
		if who == "you" {
			label = st.render(st.User, who)
		}
		line := fmt.Sprintf("%s %s: %s", ts, label, summarize(ev))
		switch ev.Message.Status {
		case models.MessageStatusSending:
			line += " " + st.render(st.Pending, "(sending)")
		case models.MessageStatusFailed:
			reason := "failed"
			if ev.Message.Error != "" {
				reason += ": " + ev.Message.Error
			}
			line += " " + st.render(st.Failed, "("+reason+")")
		}
		return line
	default:
		return fmt.Sprintf("%s %s", ts, st.render(st.Steps, summarize(ev)))
	}
}

func formatConnection(snapshot realtime.Snapshot, st styles) string {
	line := st.render(st.Status, string(snapshot.Status))
	if snapshot.Attempt > 0 && snapshot.Status == realtime.StatusReconnecting {
		line += " attempt " + strconv.Itoa(snapshot.Attempt)
	}
	if snapshot.LastError != "" {
		line += " " + st.render(st.Error, snapshot.LastError)
	}
	return line
}

// fingerprint changes whenever an event would print differently.
func fingerprint(ev models.TimelineEvent) string {
	switch ev.Kind {
	case models.EventKindMessage:
		return string(ev.Message.Status) + "|" + ev.Message.Error
	case models.EventKindSteps:
		return strconv.Itoa(ev.Cluster.EntryCount)
	case models.EventKindKanban:
		return strconv.Itoa(len(ev.Kanban.Cards))
	}
	return ""
}

// timelinePrinter writes events from successive store states once, and
// again only when their rendering changes. Echoes still sending are not
// printed; the confirmed event is.
type timelinePrinter struct {
	mu         sync.Mutex
	out        io.Writer
	styles     styles
	seen       map[string]string
	processing bool
	stream     string
}

func newTimelinePrinter(out io.Writer, st styles) *timelinePrinter {
	return &timelinePrinter{out: out, styles: st, seen: make(map[string]string)}
}

func (p *timelinePrinter) render(state timeline.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ev := range state.Events {
		key := ev.Cursor
		if ev.Kind == models.EventKindMessage {
			if ev.Message.Status == models.MessageStatusSending {
				continue
			}
			if ev.Message.Status == models.MessageStatusFailed {
				key = "client:" + ev.Message.ClientID
			}
		}
		fp := fingerprint(ev)
		if prev, ok := p.seen[key]; ok && prev == fp {
			continue
		}
		p.seen[key] = fp
		fmt.Fprintln(p.out, formatEvent(ev, p.styles))
	}

	if state.ProcessingActive != p.processing {
		p.processing = state.ProcessingActive
		if p.processing {
			fmt.Fprintln(p.out, p.styles.render(p.styles.Pending, "agent is working..."))
		}
	}

	if s := state.Stream; s != nil && s.Done && s.StreamID != p.stream && s.Content == "" && s.Reasoning != "" {
		p.stream = s.StreamID
		fmt.Fprintln(p.out, p.styles.render(p.styles.Muted, truncateText("thought: "+oneLine(s.Reasoning), previewWidth)))
	}

	if state.HasUnseenActivity && len(state.Pending) > 0 {
		fmt.Fprintln(p.out, p.styles.render(p.styles.Muted, fmt.Sprintf("%d new event%s buffered", len(state.Pending), plural(len(state.Pending)))))
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateText(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
