// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock provides the time operations used by the matchmaking and
// signaling layers.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for d, then calls f in its own goroutine (real
	// clock) or synchronously during Advance (fake clock). The
	// returned Timer can cancel the pending call with Stop.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C at the given interval. Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a scheduled one-shot event created by AfterFunc.
type Timer struct {
	stop func() bool
}

// Stop prevents the timer from firing. Reports whether the call
// stopped the timer; false means it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers periodic ticks on C. Call Stop to release it.
// C is buffered with capacity 1; ticks are dropped, not queued, when
// the consumer falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() { t.stop() }
