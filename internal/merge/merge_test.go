package merge

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/agentsync/internal/cursor"
	"github.com/tOgg1/agentsync/internal/models"
)

func ts(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func message(c, text string) models.TimelineEvent {
	return models.TimelineEvent{
		Kind:    models.EventKindMessage,
		Cursor:  c,
		Message: &models.Message{ID: c, BodyText: text},
	}
}

func steps(c string, entries ...models.ToolCallEntry) models.TimelineEvent {
	return models.TimelineEvent{
		Kind:    models.EventKindSteps,
		Cursor:  c,
		Cluster: &models.ToolStepCluster{Entries: entries},
	}
}

func thinking(c, reasoning string) models.TimelineEvent {
	return models.TimelineEvent{
		Kind:     models.EventKindThinking,
		Cursor:   c,
		Thinking: &models.Thinking{Reasoning: reasoning},
	}
}

func entry(id, status string) models.ToolCallEntry {
	return models.ToolCallEntry{ID: id, ToolName: "shell", Status: status}
}

func cursorsOf(events []models.TimelineEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Cursor
	}
	return out
}

func entryIDs(events []models.TimelineEvent) map[string]int {
	counts := map[string]int{}
	for _, ev := range events {
		if ev.Cluster == nil {
			continue
		}
		for _, e := range ev.Cluster.Entries {
			counts[e.ID]++
		}
	}
	return counts
}

func TestMergeEmptyIncomingReturnsExisting(t *testing.T) {
	existing := []models.TimelineEvent{message("2:message:2", "b"), message("1:message:1", "a")}

	out := Merge(existing, nil)

	require.Len(t, out, 2)
	assert.Same(t, &existing[0], &out[0])
	assert.Equal(t, "2:message:2", out[0].Cursor, "must not resort")
}

func TestMergeSortsAndDedupesByCursor(t *testing.T) {
	existing := []models.TimelineEvent{message("3:message:3", "c"), message("1:message:1", "a")}
	incoming := []models.TimelineEvent{message("2:message:2", "b"), message("3:message:3", "c2")}

	out := Merge(existing, incoming)

	assert.Equal(t, []string{"1:message:1", "2:message:2", "3:message:3"}, cursorsOf(out))
	assert.Equal(t, "c2", out[2].Message.BodyText)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	existing := []models.TimelineEvent{steps("1:steps:1", entry("a", "running"))}
	incoming := []models.TimelineEvent{steps("1:steps:1", entry("a", "done"))}

	_ = Merge(existing, incoming)

	assert.Equal(t, "running", existing[0].Cluster.Entries[0].Status)
	assert.Zero(t, existing[0].Cluster.EntryCount)
}

func TestMergeClusterFieldsLastNonEmptyWins(t *testing.T) {
	existing := []models.TimelineEvent{steps("1:steps:1", models.ToolCallEntry{
		ID: "a", ToolName: "grep", Caption: "search", Status: "running",
	})}
	incoming := []models.TimelineEvent{steps("1:steps:1", models.ToolCallEntry{
		ID: "a", Status: "done", Result: "3 matches", Timestamp: ts(20),
	}, models.ToolCallEntry{ID: "b", ToolName: "read"})}

	out := Merge(existing, incoming)

	require.Len(t, out, 1)
	cluster := out[0].Cluster
	require.Len(t, cluster.Entries, 2)
	a := cluster.Entries[0]
	assert.Equal(t, "grep", a.ToolName)
	assert.Equal(t, "search", a.Caption)
	assert.Equal(t, "done", a.Status)
	assert.Equal(t, "3 matches", a.Result)
	assert.Equal(t, 2, cluster.EntryCount)
	assert.Equal(t, DefaultCollapseThreshold, cluster.CollapseThreshold)
	assert.False(t, cluster.Collapsible)
	assert.Equal(t, ts(20), cluster.EarliestTimestamp)
	assert.Equal(t, ts(20), cluster.LatestTimestamp)
}

func TestMergeThinkingFoldsIntoClusterAtSameCursor(t *testing.T) {
	existing := []models.TimelineEvent{steps("5:steps:1", entry("a", "done"))}
	incoming := []models.TimelineEvent{thinking("5:steps:1", "considering")}

	out := Merge(existing, incoming)

	require.Len(t, out, 1)
	assert.Equal(t, models.EventKindSteps, out[0].Kind)
	require.Len(t, out[0].Cluster.Thinking, 1)
	assert.Equal(t, "considering", out[0].Cluster.Thinking[0].Reasoning)
	assert.Equal(t, 2, out[0].Cluster.EntryCount)
}

func TestMergeEntryOwnedByOtherClusterFoldsThere(t *testing.T) {
	existing := []models.TimelineEvent{
		steps("1:steps:1", entry("a", "running")),
		message("2:message:2", "between"),
	}
	incoming := []models.TimelineEvent{steps("3:steps:3", entry("a", "done"), entry("b", "running"))}

	out := Merge(existing, incoming)

	assert.Equal(t, []string{"1:steps:1", "2:message:2"}, cursorsOf(out))
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, entryIDs(out))
	assert.Equal(t, "done", out[0].Cluster.Entries[0].Status)
}

func TestMergeJoinsClustersSharingEntries(t *testing.T) {
	existing := []models.TimelineEvent{
		steps("1:steps:1", entry("a", "running")),
		message("2:message:2", "between"),
		steps("3:steps:3", entry("b", "running")),
	}
	incoming := []models.TimelineEvent{steps("4:steps:4", entry("a", "done"), entry("b", "done"))}

	out := Merge(existing, incoming)

	assert.Equal(t, []string{"1:steps:1", "2:message:2"}, cursorsOf(out))
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, entryIDs(out))
}

func TestMergeTimestampRangeFollowsEntryUpdates(t *testing.T) {
	existing := []models.TimelineEvent{steps("1:steps:1",
		models.ToolCallEntry{ID: "a", Timestamp: ts(10)},
		models.ToolCallEntry{ID: "b", Timestamp: ts(30)},
	)}
	out := Merge(existing, nil)
	out = Merge(out, []models.TimelineEvent{steps("1:steps:1", models.ToolCallEntry{ID: "a", Timestamp: ts(20)})})

	require.Len(t, out, 1)
	assert.Equal(t, ts(20), out[0].Cluster.EarliestTimestamp)
	assert.Equal(t, ts(30), out[0].Cluster.LatestTimestamp)

	out = Merge(out, []models.TimelineEvent{steps("1:steps:1", models.ToolCallEntry{ID: "b", Timestamp: ts(25)})})
	assert.Equal(t, ts(20), out[0].Cluster.EarliestTimestamp)
	assert.Equal(t, ts(25), out[0].Cluster.LatestTimestamp)
}

func TestMergeKeepsClusterRangeWithoutMemberTimestamps(t *testing.T) {
	ev := steps("1:steps:1", entry("a", "done"))
	ev.Cluster.EarliestTimestamp, ev.Cluster.LatestTimestamp = ts(5), ts(9)

	out := Merge(nil, []models.TimelineEvent{ev})

	require.Len(t, out, 1)
	assert.Equal(t, ts(5), out[0].Cluster.EarliestTimestamp)
	assert.Equal(t, ts(9), out[0].Cluster.LatestTimestamp)
}

func TestMergeThroughEmptyMatchesDirectMerge(t *testing.T) {
	cases := map[string]struct {
		existing, incoming []models.TimelineEvent
	}{
		"run within one gap": {
			existing: []models.TimelineEvent{message("1:message:1", "a"), message("5:message:5", "b")},
			incoming: []models.TimelineEvent{
				steps("2:steps:2", entry("x", "done")),
				thinking("3:thinking:3", "hmm"),
				steps("4:steps:4", entry("y", "done")),
			},
		},
		"isolated steps": {
			existing: []models.TimelineEvent{message("1:message:1", "a"), message("3:message:3", "b")},
			incoming: []models.TimelineEvent{steps("2:steps:2", entry("x", "done")), message("4:message:4", "c")},
		},
		"steps extend a trailing cluster": {
			existing: []models.TimelineEvent{message("1:message:1", "a"), steps("2:steps:2", entry("x", "running"))},
			incoming: []models.TimelineEvent{steps("3:steps:3", entry("y", "done")), steps("4:steps:4", entry("x", "done"))},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			direct := Merge(tc.existing, tc.incoming)
			staged := Merge(tc.existing, Merge(nil, tc.incoming))
			assert.Equal(t, direct, staged)
		})
	}
}

func TestMergeKeepsBatchClusterAcrossExistingMessage(t *testing.T) {
	existing := []models.TimelineEvent{message("1:message:1", "a"), message("3:message:3", "b")}
	batch := Merge(nil, []models.TimelineEvent{
		steps("2:steps:2", entry("x", "done")),
		steps("4:steps:4", entry("y", "done")),
	})
	require.Len(t, batch, 1)

	out := Merge(existing, batch)

	assert.Equal(t, []string{"1:message:1", "2:steps:2", "3:message:3"}, cursorsOf(out))
	assert.Equal(t, map[string]int{"x": 1, "y": 1}, entryIDs(out))
}

func TestMergeCoalescesAdjacentSteps(t *testing.T) {
	incoming := []models.TimelineEvent{
		message("1:message:1", "go"),
		steps("2:steps:2", entry("a", "done")),
		thinking("3:thinking:3", "hmm"),
		steps("4:steps:4", entry("b", "done"), entry("c", "done")),
		message("5:message:5", "done"),
		thinking("6:thinking:6", "alone"),
	}

	out := Merge(nil, incoming)

	require.Equal(t, []string{"1:message:1", "2:steps:2", "5:message:5", "6:thinking:6"}, cursorsOf(out))
	cluster := out[1].Cluster
	require.NotNil(t, cluster)
	assert.Len(t, cluster.Entries, 3)
	require.Len(t, cluster.Thinking, 1)
	assert.Equal(t, "3:thinking:3", cluster.Thinking[0].Cursor)
	assert.Equal(t, 4, cluster.EntryCount)
	assert.True(t, cluster.Collapsible)
	assert.Equal(t, models.EventKindThinking, out[3].Kind)
}

func TestMergeCollapseThresholdTakesMax(t *testing.T) {
	a := steps("1:steps:1", entry("a", "done"))
	a.Cluster.CollapseThreshold = 5
	b := steps("2:steps:2", entry("b", "done"))
	b.Cluster.CollapseThreshold = 2

	out := Merge(nil, []models.TimelineEvent{a, b})

	require.Len(t, out, 1)
	assert.Equal(t, 5, out[0].Cluster.CollapseThreshold)
	assert.False(t, out[0].Cluster.Collapsible)
}

func TestEngineCustomThreshold(t *testing.T) {
	engine := New(Options{CollapseThreshold: 2})

	out := engine.Merge(nil, []models.TimelineEvent{steps("1:steps:1", entry("a", "done"), entry("b", "done"))})

	require.Len(t, out, 1)
	assert.True(t, out[0].Cluster.Collapsible)
}

func TestMergeSkipsInvalidEvents(t *testing.T) {
	out := Merge(nil, []models.TimelineEvent{
		{Kind: models.EventKindMessage, Cursor: ""},
		{Kind: models.EventKindSteps, Cursor: "1:steps:1"},
		message("2:message:2", "ok"),
	})

	assert.Equal(t, []string{"2:message:2"}, cursorsOf(out))
}

func TestMergeIsIdempotent(t *testing.T) {
	batches := [][]models.TimelineEvent{
		{message("1:message:1", "**hi**"), message("2:message:2", "there")},
		{steps("3:steps:3", entry("a", "running")), thinking("4:thinking:4", "x"), steps("5:steps:5", entry("b", ""))},
		{steps("6:steps:6", entry("a", "done")), message("7:message:7", "<script>x</script>ok")},
		{thinking("3:steps:3", "folded"), {Kind: models.EventKindKanban, Cursor: "8:kanban:8", Kanban: &models.KanbanSnapshot{Title: "board"}}},
	}

	var log []models.TimelineEvent
	for i, batch := range batches {
		once := Merge(log, batch)
		twice := Merge(once, batch)
		assert.Equal(t, once, twice, "batch %d", i)
		log = once
	}
}

func TestMergeConservesEntriesAndCursors(t *testing.T) {
	var log []models.TimelineEvent
	seen := map[string]bool{}
	for batch := 0; batch < 20; batch++ {
		var incoming []models.TimelineEvent
		for i := 0; i < 4; i++ {
			n := (batch*7 + i*3) % 17
			id := fmt.Sprintf("e%d", (batch+i)%9)
			if n%5 == 0 {
				incoming = append(incoming, message(fmt.Sprintf("%d:message:%d", n, n), "m"))
				continue
			}
			seen[id] = true
			c := fmt.Sprintf("%d:steps:%d", n, n)
			incoming = append(incoming, steps(c, entry(id, "done")))
		}
		log = Merge(log, incoming)

		counts := entryIDs(log)
		for id, n := range counts {
			assert.Equal(t, 1, n, "entry %s duplicated after batch %d", id, batch)
		}
		cursors := cursorsOf(log)
		unique := map[string]bool{}
		for i, c := range cursors {
			assert.False(t, unique[c], "duplicate cursor %s", c)
			unique[c] = true
			if i > 0 {
				assert.True(t, cursor.Less(cursors[i-1], c), "out of order at %d", i)
			}
		}
	}
	assert.Len(t, entryIDs(log), len(seen))
}

func TestNormalizeRendersAndSanitizes(t *testing.T) {
	out := Merge(nil, []models.TimelineEvent{
		message("1:message:1", "**bold** <script>alert(1)</script>"),
		{Kind: models.EventKindMessage, Cursor: "2:message:2", Message: &models.Message{
			BodyText: "ignored", BodyHTML: `<p onclick="x()">hi</p>`,
		}},
	})

	require.Len(t, out, 2)
	first := out[0].Message
	assert.True(t, first.Sanitized)
	assert.Contains(t, first.BodyHTML, "<strong>bold</strong>")
	assert.NotContains(t, first.BodyHTML, "<script")

	second := out[1].Message
	assert.Contains(t, second.BodyHTML, "hi")
	assert.NotContains(t, second.BodyHTML, "onclick")
}

func TestNormalizeRunsOnce(t *testing.T) {
	engine := New(Options{})
	msg := &models.Message{BodyText: "plain", BodyHTML: "<b>kept</b>", Sanitized: true}

	engine.Normalize(msg)

	assert.Equal(t, "<b>kept</b>", msg.BodyHTML)
}
