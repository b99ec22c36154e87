// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding for session
// archives. Core Deterministic Encoding (RFC 8949 §4.2) guarantees
// that the same archived message log always produces identical bytes,
// which is what makes the BLAKE3 integrity checksum on stored
// archives meaningful.
//
// JSON stays the wire format for signaling frames and the HTTP API;
// CBOR is used only where blobs are written once and verified later.
package codec
