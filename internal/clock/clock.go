// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0
//
// Adapted from bureau lib/clock. Modified for agentsync.

// Package clock abstracts the time source so timer-heavy code (heartbeats,
// backoff, idle suspension, throttling) can be driven deterministically in
// tests.
package clock

import "time"

// Clock is the subset of the time package the sync layer depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the callback from running. It reports whether the call
// stopped a pending timer.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Ticker delivers periodic ticks. C has capacity 1; slow readers drop ticks.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() {
	if t == nil || t.stopFunc == nil {
		return
	}
	t.stopFunc()
}
