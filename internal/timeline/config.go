package timeline

import (
	"fmt"
	"time"
)

// StreamPolicy decides what happens to a live buffer that finished with
// reasoning but no content.
type StreamPolicy string

const (
	// StreamPolicyRetain keeps the buffer and flags it reasoning-only.
	StreamPolicyRetain StreamPolicy = "retain"
	// StreamPolicyRefresh drops the buffer and asks the caller to pull the
	// settled version with RefreshLatest.
	StreamPolicyRefresh StreamPolicy = "refresh"
)

// Config holds store tuning.
type Config struct {
	// PageSize is the number of events requested per page.
	PageSize int

	// MaxEvents caps the canonical log.
	MaxEvents int

	// RefreshThrottle is the minimum spacing between completed refreshes.
	RefreshThrottle time.Duration

	// MatchWindow is the timestamp tolerance for optimistic message matching.
	MatchWindow time.Duration

	// StreamPolicy applies to reasoning-only streams.
	StreamPolicy StreamPolicy

	// CollapseThreshold is passed to the merge engine.
	CollapseThreshold int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:          50,
		MaxEvents:         500,
		RefreshThrottle:   2 * time.Second,
		MatchWindow:       30 * time.Second,
		StreamPolicy:      StreamPolicyRetain,
		CollapseThreshold: 3,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.MaxEvents < c.PageSize {
		return fmt.Errorf("max events (%d) must be at least the page size (%d)", c.MaxEvents, c.PageSize)
	}
	if c.RefreshThrottle < 0 || c.MatchWindow < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	switch c.StreamPolicy {
	case StreamPolicyRetain, StreamPolicyRefresh:
	default:
		return fmt.Errorf("unknown stream policy %q", c.StreamPolicy)
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = def.MaxEvents
	}
	if c.MatchWindow <= 0 {
		c.MatchWindow = def.MatchWindow
	}
	if c.StreamPolicy == "" {
		c.StreamPolicy = def.StreamPolicy
	}
	if c.CollapseThreshold <= 0 {
		c.CollapseThreshold = def.CollapseThreshold
	}
	return c
}
