// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus carries insert notifications between the store and its
// consumers: queue entries for the matchmaker, session creations for
// waiting participants, channel messages for signaling and chat, and
// terminations for anyone holding a session open.
//
// Delivery is at-least-once and backpressure-free: a subscriber that
// falls behind loses events rather than stalling publishers, and every
// consumer is expected to reconcile against the store when it matters.
// Two implementations exist: [MemoryBus] for single-node deployments
// and tests, and [RedisBus] for multi-node deployments where inserts
// on one node must reach subscribers on another.
package bus
