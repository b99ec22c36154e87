// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects [Real]; tests inject [Fake] and advance it deterministically.
//
// Matchmaking waits, negotiation timeouts, session expiry, and stale
// queue sweeps are all timer-driven. Running those against the wall
// clock would make every timeout test slow and flaky, so anything in
// this repository that would call time.Now, time.After, time.AfterFunc,
// or time.NewTicker takes a Clock instead.
package clock
