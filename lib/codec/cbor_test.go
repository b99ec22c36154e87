// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/crossfire-live/crossfire/lib/ident"
)

func TestDeterministicEncoding(t *testing.T) {
	value := map[string]any{
		"zeta":  1,
		"alpha": "x",
		"mid":   []int{3, 1, 2},
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same value produced different encodings")
	}
}

func TestIdentifiersEncodeAsText(t *testing.T) {
	type record struct {
		Session ident.SessionID     `cbor:"session"`
		Sender  ident.ParticipantID `cbor:"sender"`
	}

	sender, err := ident.ParseParticipantID("participant-7")
	if err != nil {
		t.Fatalf("parse participant: %v", err)
	}
	original := record{
		Session: ident.NewSessionID(),
		Sender:  sender,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// The raw session UUID must appear as a text string in the
	// encoding; an empty-map encoding would drop the identity.
	if !bytes.Contains(data, []byte(original.Session.String())) {
		t.Errorf("encoding does not contain session ID text: %x", data)
	}

	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Session != original.Session || decoded.Sender != original.Sender {
		t.Errorf("decoded = %+v, want %+v", decoded, original)
	}
}
