// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

// Package matchmaker pairs waiting participants into debate sessions.
//
// There is no central matcher goroutine. Every waiting participant is
// its own matchmaker: it looks for the oldest other waiting entry and
// attempts the store's pair claim. Concurrent attempts over the same
// entries are resolved by the claim itself, which is linearizable, so
// no pair can ever be matched twice and nobody needs a lock across
// processes.
//
// Progress comes from three sources, any of which may fire first: bus
// events (a new entry appeared, a match committed), a poll ticker
// (bus delivery is best-effort), and the caller's own entry vanishing
// (someone else claimed it). All three converge on the same store
// queries, so a missed event costs latency, never correctness.
package matchmaker
