// Package lifecycle turns visibility, focus, page cache and network signals
// into resume and suspend callbacks.
package lifecycle

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tOgg1/agentsync/internal/clock"
	"github.com/tOgg1/agentsync/internal/logging"
)

// Reasons passed to callbacks.
const (
	ReasonVisible  = "visible"
	ReasonHidden   = "hidden"
	ReasonFocus    = "focus"
	ReasonPageShow = "pageshow"
	ReasonPageHide = "pagehide"
	ReasonOnline   = "online"
	ReasonOffline  = "offline"
)

// Config controls resume throttling.
type Config struct {
	// ResumeInterval is the minimum spacing between resume callbacks.
	ResumeInterval time.Duration
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{ResumeInterval: time.Second}
}

// Callbacks receive normalized lifecycle transitions. Any field may be nil.
type Callbacks struct {
	OnResume  func(reason string)
	OnSuspend func(reason string)
	// OnNetwork runs before the resume or suspend for the same signal.
	OnNetwork func(online bool)
}

// Coordinator de-duplicates lifecycle signals. Resume callbacks are rate
// limited; suspend callbacks never are.
type Coordinator struct {
	mu        sync.Mutex
	clock     clock.Clock
	limiter   *rate.Limiter
	callbacks Callbacks
	logger    zerolog.Logger

	hidden  bool
	offline bool
	stopped bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for throttling.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(co *Coordinator) { co.logger = logger }
}

// NewCoordinator creates a coordinator that starts visible and online.
func NewCoordinator(cfg Config, callbacks Callbacks, opts ...Option) *Coordinator {
	limit := rate.Inf
	if cfg.ResumeInterval > 0 {
		limit = rate.Every(cfg.ResumeInterval)
	}
	co := &Coordinator{
		clock:     clock.Real(),
		limiter:   rate.NewLimiter(limit, 1),
		callbacks: callbacks,
		logger:    logging.Component("lifecycle"),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Visibility reports a visibility change.
func (c *Coordinator) Visibility(visible bool) {
	if visible {
		c.resume(ReasonVisible, func() { c.hidden = false })
		return
	}
	c.suspend(ReasonHidden, func() bool {
		if c.hidden {
			return false
		}
		c.hidden = true
		return true
	})
}

// Focus reports that the window gained focus.
func (c *Coordinator) Focus() {
	c.resume(ReasonFocus, nil)
}

// PageShow reports a page show. Only a page restored from cache resumes.
func (c *Coordinator) PageShow(persisted bool) {
	if !persisted {
		return
	}
	c.resume(ReasonPageShow, func() { c.hidden = false })
}

// PageHide reports that the page is being hidden or cached.
func (c *Coordinator) PageHide() {
	c.suspend(ReasonPageHide, func() bool {
		c.hidden = true
		return true
	})
}

// Online reports that the network came back.
func (c *Coordinator) Online() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	changed := c.offline
	c.offline = false
	onNetwork := c.callbacks.OnNetwork
	c.mu.Unlock()

	if changed && onNetwork != nil {
		onNetwork(true)
	}
	c.resume(ReasonOnline, nil)
}

// Offline reports that the network went away.
func (c *Coordinator) Offline() {
	c.mu.Lock()
	if c.stopped || c.offline {
		c.mu.Unlock()
		return
	}
	c.offline = true
	onNetwork, onSuspend := c.callbacks.OnNetwork, c.callbacks.OnSuspend
	c.mu.Unlock()

	c.logger.Debug().Msg("network offline")
	if onNetwork != nil {
		onNetwork(false)
	}
	if onSuspend != nil {
		onSuspend(ReasonOffline)
	}
}

// Stop disables all further callbacks.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

func (c *Coordinator) resume(reason string, mutate func()) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if mutate != nil {
		mutate()
	}
	if c.offline {
		c.mu.Unlock()
		return
	}
	if !c.limiter.AllowN(c.clock.Now(), 1) {
		c.mu.Unlock()
		c.logger.Debug().Str("reason", reason).Msg("resume throttled")
		return
	}
	onResume := c.callbacks.OnResume
	c.mu.Unlock()

	c.logger.Debug().Str("reason", reason).Msg("resume")
	if onResume != nil {
		onResume(reason)
	}
}

func (c *Coordinator) suspend(reason string, mutate func() bool) {
	c.mu.Lock()
	if c.stopped || !mutate() {
		c.mu.Unlock()
		return
	}
	onSuspend := c.callbacks.OnSuspend
	c.mu.Unlock()

	c.logger.Debug().Str("reason", reason).Msg("suspend")
	if onSuspend != nil {
		onSuspend(reason)
	}
}
