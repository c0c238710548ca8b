package merge

import (
	"time"

	"github.com/tOgg1/agentsync/internal/cursor"
	"github.com/tOgg1/agentsync/internal/models"
)

// index is the working set of one Merge call: events keyed by cursor plus
// the cluster that owns each tool entry and each folded thinking block.
type index struct {
	engine *Engine
	events map[string]*models.TimelineEvent
	owners map[string]string
}

func newIndex(engine *Engine, existing []models.TimelineEvent) *index {
	ix := &index{
		engine: engine,
		events: make(map[string]*models.TimelineEvent, len(existing)),
		owners: make(map[string]string),
	}
	for i := range existing {
		ev := existing[i].Clone()
		ix.events[ev.Cursor] = &ev
		ix.own(&ev)
	}
	return ix
}

func (ix *index) apply(ev models.TimelineEvent) {
	owners := ix.clustersOwning(ev)
	if len(owners) == 0 {
		ix.upsert(ev)
		return
	}

	if cur, ok := ix.events[ev.Cursor]; ok && cur.IsStepLike() {
		owners = appendUnique(owners, ev.Cursor)
	}
	target := owners[0]
	for _, c := range owners[1:] {
		target = cursor.Min(target, c)
	}

	dst := ix.events[target]
	if dst.Kind != models.EventKindSteps {
		dst.Cluster = &models.ToolStepCluster{}
		foldInto(dst.Cluster, models.TimelineEvent{Kind: dst.Kind, Cursor: dst.Cursor, Thinking: dst.Thinking})
		dst.Kind, dst.Thinking = models.EventKindSteps, nil
	}
	for _, c := range owners {
		if c == target {
			continue
		}
		other := ix.events[c]
		ix.disown(other)
		delete(ix.events, c)
		foldInto(dst.Cluster, *other)
	}
	foldInto(dst.Cluster, ev)
	ix.own(dst)
}

func (ix *index) upsert(ev models.TimelineEvent) {
	cur, ok := ix.events[ev.Cursor]
	if !ok {
		ix.events[ev.Cursor] = &ev
		ix.own(&ev)
		return
	}

	switch {
	case cur.Kind == models.EventKindSteps && ev.IsStepLike():
		foldInto(cur.Cluster, ev)
	case cur.Kind == models.EventKindThinking && ev.Kind == models.EventKindSteps:
		standalone := *cur
		*cur = ev
		foldInto(cur.Cluster, standalone)
	case cur.Kind == models.EventKindThinking && ev.Kind == models.EventKindThinking:
		mergeThinking(cur.Thinking, *ev.Thinking)
	default:
		ix.disown(cur)
		*cur = ev
	}
	ix.own(cur)
}

// clustersOwning returns the cursors of clusters that already hold one of
// the event's tool entries or thinking blocks.
func (ix *index) clustersOwning(ev models.TimelineEvent) []string {
	var owners []string
	for _, key := range memberKeys(ev) {
		if c, ok := ix.owners[key]; ok {
			owners = appendUnique(owners, c)
		}
	}
	return owners
}

func (ix *index) own(ev *models.TimelineEvent) {
	if ev.Kind != models.EventKindSteps {
		return
	}
	for _, key := range memberKeys(*ev) {
		ix.owners[key] = ev.Cursor
	}
}

func (ix *index) disown(ev *models.TimelineEvent) {
	if ev.Kind != models.EventKindSteps {
		return
	}
	for _, key := range memberKeys(*ev) {
		if ix.owners[key] == ev.Cursor {
			delete(ix.owners, key)
		}
	}
}

func (ix *index) sorted() []models.TimelineEvent {
	out := make([]models.TimelineEvent, 0, len(ix.events))
	for _, ev := range ix.events {
		out = append(out, *ev)
	}
	sortEvents(out)
	return out
}

func memberKeys(ev models.TimelineEvent) []string {
	switch ev.Kind {
	case models.EventKindSteps:
		if ev.Cluster == nil {
			return nil
		}
		keys := make([]string, 0, len(ev.Cluster.Entries)+len(ev.Cluster.Thinking))
		for _, entry := range ev.Cluster.Entries {
			keys = append(keys, "entry:"+entry.ID)
		}
		for _, thinking := range ev.Cluster.Thinking {
			keys = append(keys, "thinking:"+thinking.Cursor)
		}
		return keys
	case models.EventKindThinking:
		return []string{"thinking:" + thinkingOf(ev).Cursor}
	default:
		return nil
	}
}

// foldInto merges a step-like event into cluster. Other kinds are ignored.
func foldInto(cluster *models.ToolStepCluster, ev models.TimelineEvent) {
	switch ev.Kind {
	case models.EventKindSteps:
		if ev.Cluster == nil {
			return
		}
		for _, entry := range ev.Cluster.Entries {
			addEntry(cluster, entry)
		}
		for _, thinking := range ev.Cluster.Thinking {
			addThinking(cluster, thinking)
		}
		if ev.Cluster.CollapseThreshold > cluster.CollapseThreshold {
			cluster.CollapseThreshold = ev.Cluster.CollapseThreshold
		}
		cluster.EarliestTimestamp, cluster.LatestTimestamp = widen(cluster.EarliestTimestamp, cluster.LatestTimestamp, ev.Cluster.EarliestTimestamp)
		cluster.EarliestTimestamp, cluster.LatestTimestamp = widen(cluster.EarliestTimestamp, cluster.LatestTimestamp, ev.Cluster.LatestTimestamp)
	case models.EventKindThinking:
		if ev.Thinking != nil {
			addThinking(cluster, thinkingOf(ev))
		}
	}
}

func addEntry(cluster *models.ToolStepCluster, entry models.ToolCallEntry) {
	for i := range cluster.Entries {
		if cluster.Entries[i].ID == entry.ID {
			mergeEntry(&cluster.Entries[i], entry)
			return
		}
	}
	cluster.Entries = append(cluster.Entries, entry)
}

func addThinking(cluster *models.ToolStepCluster, thinking models.Thinking) {
	for i := range cluster.Thinking {
		if cluster.Thinking[i].Cursor == thinking.Cursor {
			mergeThinking(&cluster.Thinking[i], thinking)
			return
		}
	}
	cluster.Thinking = append(cluster.Thinking, thinking)
}

// mergeEntry applies incoming over dst field by field. Empty incoming
// fields keep the current value.
func mergeEntry(dst *models.ToolCallEntry, incoming models.ToolCallEntry) {
	dst.Cursor = pick(dst.Cursor, incoming.Cursor)
	dst.ToolName = pick(dst.ToolName, incoming.ToolName)
	dst.Caption = pick(dst.Caption, incoming.Caption)
	dst.Summary = pick(dst.Summary, incoming.Summary)
	dst.Status = pick(dst.Status, incoming.Status)
	dst.Result = pick(dst.Result, incoming.Result)
	if incoming.Timestamp != nil {
		dst.Timestamp = copyTime(incoming.Timestamp)
	}
}

func mergeThinking(dst *models.Thinking, incoming models.Thinking) {
	dst.Reasoning = pick(dst.Reasoning, incoming.Reasoning)
	if incoming.Timestamp != nil {
		dst.Timestamp = copyTime(incoming.Timestamp)
	}
}

// thinkingOf returns the event's thinking block identified by the event
// cursor unless the block carries its own.
func thinkingOf(ev models.TimelineEvent) models.Thinking {
	if ev.Thinking == nil {
		return models.Thinking{Cursor: ev.Cursor}
	}
	thinking := *ev.Thinking
	if thinking.Cursor == "" {
		thinking.Cursor = ev.Cursor
	}
	return thinking
}

func pick(current, incoming string) string {
	if incoming != "" {
		return incoming
	}
	return current
}

func widen(earliest, latest, ts *time.Time) (*time.Time, *time.Time) {
	if ts == nil {
		return earliest, latest
	}
	if earliest == nil || ts.Before(*earliest) {
		earliest = copyTime(ts)
	}
	if latest == nil || ts.After(*latest) {
		latest = copyTime(ts)
	}
	return earliest, latest
}

func copyTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	out := *ts
	return &out
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
