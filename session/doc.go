// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

// Package session manages the lifecycle of debate sessions after
// matching: time-boxed expiry, termination, moderation reports, and
// archiving of the message channel once a session is terminal.
//
// Termination is idempotent from every direction. Either participant
// hanging up, the expiry watchdog, and a moderation report can all
// race; the store's compare-and-set makes exactly one of them the
// transition and the rest observers.
package session
