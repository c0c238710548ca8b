// Package merge folds batches of timeline events into the canonical,
// cursor-ordered event log.
package merge

import (
	"sort"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/tOgg1/agentsync/internal/cursor"
	"github.com/tOgg1/agentsync/internal/models"
)

// DefaultCollapseThreshold is used for clusters that do not carry one.
const DefaultCollapseThreshold = 3

// Options configures an Engine.
type Options struct {
	// CollapseThreshold is the entry count at which a cluster becomes
	// collapsible. Zero means DefaultCollapseThreshold.
	CollapseThreshold int
}

// Engine merges event batches. It holds no log state and is safe for
// concurrent use.
type Engine struct {
	threshold int
	markdown  goldmark.Markdown
	policy    *bluemonday.Policy
}

// New creates an Engine.
func New(opts Options) *Engine {
	threshold := opts.CollapseThreshold
	if threshold <= 0 {
		threshold = DefaultCollapseThreshold
	}
	return &Engine{
		threshold: threshold,
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:    bluemonday.UGCPolicy(),
	}
}

var defaultEngine = New(Options{})

// Merge folds incoming into existing with the default options.
func Merge(existing, incoming []models.TimelineEvent) []models.TimelineEvent {
	return defaultEngine.Merge(existing, incoming)
}

// Merge returns the canonical log for existing plus incoming. Neither input
// is modified. Incoming events that fail validation are skipped. An empty
// incoming batch returns existing as is.
func (e *Engine) Merge(existing, incoming []models.TimelineEvent) []models.TimelineEvent {
	if len(incoming) == 0 {
		return existing
	}

	ix := newIndex(e, existing)
	for i := range incoming {
		if incoming[i].Validate() != nil {
			continue
		}
		ix.apply(incoming[i].Clone())
	}

	merged := ix.sorted()
	for pass := 0; pass < 2; pass++ {
		merged = e.coalesce(merged)
		sortEvents(merged)
	}

	for i := range merged {
		switch merged[i].Kind {
		case models.EventKindMessage:
			e.Normalize(merged[i].Message)
		case models.EventKindSteps:
			e.refresh(merged[i].Cluster)
		}
	}
	return merged
}

// coalesce collapses every run of two or more adjacent step-like events
// into a single cluster keyed by the smallest cursor of the run.
func (e *Engine) coalesce(events []models.TimelineEvent) []models.TimelineEvent {
	out := make([]models.TimelineEvent, 0, len(events))
	for i := 0; i < len(events); {
		if !events[i].IsStepLike() {
			out = append(out, events[i])
			i++
			continue
		}
		j := i + 1
		for j < len(events) && events[j].IsStepLike() {
			j++
		}
		if j-i == 1 {
			out = append(out, events[i])
		} else {
			out = append(out, e.combineRun(events[i:j]))
		}
		i = j
	}
	return out
}

func (e *Engine) combineRun(run []models.TimelineEvent) models.TimelineEvent {
	cluster := &models.ToolStepCluster{}
	first := ""
	for _, ev := range run {
		first = cursor.Min(first, ev.Cursor)
		foldInto(cluster, ev)
	}
	e.refresh(cluster)
	return models.TimelineEvent{Kind: models.EventKindSteps, Cursor: first, Cluster: cluster}
}

// refresh recomputes the derived cluster fields.
func (e *Engine) refresh(cluster *models.ToolStepCluster) {
	if cluster == nil {
		return
	}
	if cluster.CollapseThreshold <= 0 {
		cluster.CollapseThreshold = e.threshold
	}
	cluster.EntryCount = len(cluster.Entries) + len(cluster.Thinking)
	cluster.Collapsible = cluster.EntryCount >= cluster.CollapseThreshold

	// Member timestamps are authoritative. The cluster's own range is kept
	// only when no member carries one.
	var earliest, latest *time.Time
	for _, entry := range cluster.Entries {
		earliest, latest = widen(earliest, latest, entry.Timestamp)
	}
	for _, thinking := range cluster.Thinking {
		earliest, latest = widen(earliest, latest, thinking.Timestamp)
	}
	if earliest != nil {
		cluster.EarliestTimestamp, cluster.LatestTimestamp = earliest, latest
	}
}

func sortEvents(events []models.TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return cursor.Less(events[i].Cursor, events[j].Cursor)
	})
}
