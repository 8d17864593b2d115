// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.After, or time.NewTimer directly. Real() is the standard library
// behavior; Fake() is a deterministic clock for tests that advances only
// when told to.
//
// When a goroutine calls After or NewTimer on a FakeClock it registers a
// pending waiter. Tests use WaitForWaiters to block until the goroutine
// under test has registered its timer, then Advance (or AdvanceTo) to
// fire it deterministically. This removes the registration/advance race
// that makes sleep-based tests flaky.
package clock

import "time"

// Clock is the time surface the engine depends on. The scheduler arms
// one timer per occurrence; approval stamping and run summaries read
// Now.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that delivers on C once d has elapsed.
	NewTimer(d time.Duration) *Timer
}

// Timer is a single-shot scheduled event.
type Timer struct {
	// C delivers the fire time.
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the Timer from firing. Returns false if the timer has
// already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset re-arms the timer to fire after d. Returns true if the timer
// was still active.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
