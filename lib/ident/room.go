// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RoomID is the human-readable room identifier attached to a debate
// session, of the form "room_<unixms>_<suffix>". It exists for
// operator tooling and log correlation; sessions are keyed by
// SessionID everywhere else.
type RoomID struct {
	id string
}

// NewRoomID generates a room identifier stamped with the given wall
// time. The suffix is the first UUID group, enough to disambiguate
// rooms created in the same millisecond.
func NewRoomID(now time.Time) RoomID {
	suffix := uuid.NewString()[:8]
	return RoomID{id: fmt.Sprintf("room_%d_%s", now.UnixMilli(), suffix)}
}

// ParseRoomID validates and wraps a raw room identifier.
func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return RoomID{}, fmt.Errorf("empty room ID")
	}
	if !strings.HasPrefix(raw, "room_") {
		return RoomID{}, fmt.Errorf("room ID must start with 'room_': %q", raw)
	}
	return RoomID{id: raw}, nil
}

func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is uninitialized.
func (r RoomID) IsZero() bool { return r.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) { return []byte(r.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
