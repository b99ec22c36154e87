// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the durable layer under matchmaking and signaling:
// queue entries, debate sessions, the per-session message channel,
// moderation reports, topics, and archives of ended sessions. It is
// backed by SQLite through lib/sqlitepool.
//
// The one linearizable primitive the whole system depends on is
// [Store.TryRemovePair]: a conditional delete that removes exactly two
// queue entries or none, inside a single IMMEDIATE transaction. Two
// participants that simultaneously discover each other both attempt
// the claim; SQLite's write serialization guarantees at most one
// commits. [Store.MatchPair] extends the same transaction with the
// session insert, so a claimed pair can never exist without its
// session.
//
// Every insert that other components wait on (queue entries, sessions,
// messages, terminations) is announced on the configured bus after the
// transaction commits. Delivery is at-least-once; consumers reconcile
// against direct queries and treat the absence of a row, not its age,
// as authoritative.
package store
