// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling negotiates a WebRTC peer connection between the
// two participants of a debate session. The signaling medium is the
// session's ordinary message channel: offers, answers, and trickled
// ICE candidates travel as JSON frames with reserved type tags,
// interleaved with chat.
//
// The reserved tags (offer, answer, ice-candidate) are a hard keyword
// boundary. Any channel body that is a JSON object with one of these
// tags is a signaling frame, including chat text a user typed that
// happens to parse that way. [ParseFrame] enforces the boundary in
// one place; chat renderers call [IsSignaling] to exclude frames.
//
// [Machine] runs one side of the negotiation. The initiator role is
// not negotiated: the session record fixes it (ParticipantA, the side
// that was waiting longer, always offers). ICE candidates arriving
// before the remote description are buffered; duplicates are applied
// best-effort and never fatal.
package signaling
