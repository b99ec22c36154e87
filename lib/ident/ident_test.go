// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParticipantIDOpaque(t *testing.T) {
	// Any non-empty string is acceptable: the identity provider's
	// format is not ours to validate.
	for _, raw := range []string{"u-123", "@alice:example.org", "550e8400-e29b-41d4-a716-446655440000"} {
		id, err := ParseParticipantID(raw)
		if err != nil {
			t.Errorf("ParseParticipantID(%q) error: %v", raw, err)
		}
		if id.String() != raw {
			t.Errorf("String() = %q, want %q", id.String(), raw)
		}
	}

	if _, err := ParseParticipantID(""); err == nil {
		t.Error("ParseParticipantID(\"\") succeeded, want error")
	}
}

func TestSessionIDRoundTrip(t *testing.T) {
	id := NewSessionID()
	if id.IsZero() {
		t.Fatal("NewSessionID returned zero value")
	}

	parsed, err := ParseSessionID(id.String())
	if err != nil {
		t.Fatalf("ParseSessionID(%q) error: %v", id.String(), err)
	}
	if parsed != id {
		t.Errorf("parsed = %v, want %v", parsed, id)
	}

	if _, err := ParseSessionID("not-a-uuid"); err == nil {
		t.Error("ParseSessionID accepted a non-UUID string")
	}
}

func TestEntryIDJSON(t *testing.T) {
	id := NewEntryID()

	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// Identifiers serialize as plain JSON strings, not objects.
	if data[0] != '"' {
		t.Fatalf("marshaled form = %s, want a JSON string", data)
	}

	var decoded EntryID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != id {
		t.Errorf("decoded = %v, want %v", decoded, id)
	}
}

func TestRoomID(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	room := NewRoomID(now)

	parsed, err := ParseRoomID(room.String())
	if err != nil {
		t.Fatalf("ParseRoomID(%q) error: %v", room.String(), err)
	}
	if parsed != room {
		t.Errorf("parsed = %v, want %v", parsed, room)
	}

	if _, err := ParseRoomID("lobby"); err == nil {
		t.Error("ParseRoomID accepted an identifier without the room_ prefix")
	}

	// Two rooms in the same millisecond must not collide.
	other := NewRoomID(now)
	if other == room {
		t.Error("two NewRoomID calls produced identical identifiers")
	}
}
