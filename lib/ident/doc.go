// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

// Package ident defines the typed identifiers that flow between the
// matchmaking, signaling, and storage layers: [ParticipantID],
// [TopicID], [EntryID], [SessionID], and [RoomID].
//
// All identifiers are immutable value types wrapping an opaque string.
// The zero value is never valid; use IsZero to check. Identifiers
// implement encoding.TextMarshaler and encoding.TextUnmarshaler so
// they serialize as plain strings in JSON and CBOR, and parse back at
// the boundary.
//
// ParticipantID is deliberately unvalidated beyond non-emptiness: the
// identity provider is an external collaborator and the core treats
// its identifiers as opaque.
package ident
