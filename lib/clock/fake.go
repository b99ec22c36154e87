// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock pinned to the given time. Time stands
// still until Advance is called.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests. Timers and tickers
// fire only when Advance moves the clock past their deadline.
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order; do not call Advance from within a callback.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

// fakeWaiter is a pending After, AfterFunc, or Ticker registration.
type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time // nil for AfterFunc waiters
	callback func()         // nil for channel waiters
	interval time.Duration  // non-zero for tickers: reschedule after firing
	stopped  bool
	fired    bool
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- f.current
		return channel
	}
	f.waiters = append(f.waiters, &fakeWaiter{
		deadline: f.current.Add(d),
		channel:  channel,
	})
	return channel
}

func (f *FakeClock) AfterFunc(d time.Duration, callback func()) *Timer {
	f.mu.Lock()
	if d <= 0 {
		f.mu.Unlock()
		callback()
		return &Timer{stop: func() bool { return false }}
	}
	waiter := &fakeWaiter{
		deadline: f.current.Add(d),
		callback: callback,
	}
	f.waiters = append(f.waiters, waiter)
	f.mu.Unlock()

	return &Timer{stop: func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if waiter.fired || waiter.stopped {
			return false
		}
		waiter.stopped = true
		return true
	}}
}

func (f *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	f.mu.Lock()
	channel := make(chan time.Time, 1)
	waiter := &fakeWaiter{
		deadline: f.current.Add(d),
		channel:  channel,
		interval: d,
	}
	f.waiters = append(f.waiters, waiter)
	f.mu.Unlock()

	return &Ticker{
		C: channel,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			waiter.stopped = true
		},
	}
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline falls within the window, in deadline order. Tickers
// reschedule themselves and may fire multiple times per Advance.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.current.Add(d)

	for {
		waiter := f.nextDueLocked(target)
		if waiter == nil {
			break
		}
		f.current = waiter.deadline

		switch {
		case waiter.interval > 0:
			// Ticker: non-blocking send, drop when the consumer is
			// behind, then reschedule.
			select {
			case waiter.channel <- waiter.deadline:
			default:
			}
			waiter.deadline = waiter.deadline.Add(waiter.interval)
		case waiter.callback != nil:
			waiter.fired = true
			callback := waiter.callback
			// Run the callback without the lock so it can register
			// new waiters.
			f.mu.Unlock()
			callback()
			f.mu.Lock()
		default:
			waiter.fired = true
			waiter.channel <- waiter.deadline
		}
	}

	f.current = target
	f.compactLocked()
	f.mu.Unlock()
}

// nextDueLocked returns the unfired waiter with the earliest deadline
// at or before target, or nil if none is due.
func (f *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	var due *fakeWaiter
	for _, waiter := range f.waiters {
		if waiter.stopped || waiter.fired {
			continue
		}
		if waiter.deadline.After(target) {
			continue
		}
		if due == nil || waiter.deadline.Before(due.deadline) {
			due = waiter
		}
	}
	return due
}

// compactLocked drops fired and stopped waiters, keeping the
// remainder in deadline order for deterministic iteration.
func (f *FakeClock) compactLocked() {
	live := f.waiters[:0]
	for _, waiter := range f.waiters {
		if !waiter.stopped && !waiter.fired {
			live = append(live, waiter)
		}
	}
	f.waiters = live
	sort.Slice(f.waiters, func(i, j int) bool {
		return f.waiters[i].deadline.Before(f.waiters[j].deadline)
	})
}
