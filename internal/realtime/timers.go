package realtime

import (
	"time"

	"github.com/tOgg1/agentsync/internal/clock"
)

type timerName string

const (
	timerBackoff   timerName = "backoff"
	timerHeartbeat timerName = "heartbeat"
	timerPong      timerName = "pong"
	timerIdle      timerName = "idle"
)

type timerEntry struct {
	timer *clock.Timer
	token uint64
}

// timerRegistry holds at most one timer per name. Setting a name stops the
// previous handle first. It is not safe for concurrent use; the manager
// guards it with its own lock.
type timerRegistry struct {
	clock  clock.Clock
	timers map[timerName]timerEntry
	seq    uint64
}

func newTimerRegistry(c clock.Clock) *timerRegistry {
	return &timerRegistry{clock: c, timers: make(map[timerName]timerEntry)}
}

// set schedules fire after d and returns the token it will be called with.
// A non-positive d is raised to the smallest delay so fire never runs
// inside the caller.
func (r *timerRegistry) set(name timerName, d time.Duration, fire func(token uint64)) uint64 {
	r.stop(name)
	if d <= 0 {
		d = time.Nanosecond
	}
	r.seq++
	token := r.seq
	r.timers[name] = timerEntry{
		timer: r.clock.AfterFunc(d, func() { fire(token) }),
		token: token,
	}
	return token
}

// claim reports whether token still owns name and releases it if so.
func (r *timerRegistry) claim(name timerName, token uint64) bool {
	entry, ok := r.timers[name]
	if !ok || entry.token != token {
		return false
	}
	delete(r.timers, name)
	return true
}

func (r *timerRegistry) pending(name timerName) bool {
	_, ok := r.timers[name]
	return ok
}

func (r *timerRegistry) stop(names ...timerName) {
	for _, name := range names {
		if entry, ok := r.timers[name]; ok {
			entry.timer.Stop()
			delete(r.timers, name)
		}
	}
}

func (r *timerRegistry) stopAll() {
	for name, entry := range r.timers {
		entry.timer.Stop()
		delete(r.timers, name)
	}
}

func (r *timerRegistry) count() int {
	return len(r.timers)
}
