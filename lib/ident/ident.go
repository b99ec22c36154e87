// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"fmt"

	"github.com/google/uuid"
)

// ParticipantID identifies a participant. The value comes from the
// external identity provider and is treated as opaque; no shape is
// assumed beyond non-emptiness.
type ParticipantID struct {
	id string
}

// ParseParticipantID wraps a raw participant identifier. Returns an
// error only for the empty string.
func ParseParticipantID(raw string) (ParticipantID, error) {
	if raw == "" {
		return ParticipantID{}, fmt.Errorf("empty participant ID")
	}
	return ParticipantID{id: raw}, nil
}

func (p ParticipantID) String() string { return p.id }

// IsZero reports whether the ParticipantID is uninitialized.
func (p ParticipantID) IsZero() bool { return p.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (p ParticipantID) MarshalText() ([]byte, error) { return []byte(p.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero value.
func (p *ParticipantID) UnmarshalText(data []byte) error {
	*p = ParticipantID{id: string(data)}
	return nil
}

// EntryID identifies a queue entry. Entry IDs are generated by the
// queue store on insert and are UUID-backed.
type EntryID struct {
	id string
}

// NewEntryID generates a fresh entry identifier.
func NewEntryID() EntryID { return EntryID{id: uuid.NewString()} }

// ParseEntryID validates and wraps a raw entry identifier.
func ParseEntryID(raw string) (EntryID, error) {
	if _, err := uuid.Parse(raw); err != nil {
		return EntryID{}, fmt.Errorf("invalid entry ID %q: %w", raw, err)
	}
	return EntryID{id: raw}, nil
}

func (e EntryID) String() string { return e.id }

// IsZero reports whether the EntryID is uninitialized.
func (e EntryID) IsZero() bool { return e.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (e EntryID) MarshalText() ([]byte, error) { return []byte(e.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EntryID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EntryID{}
		return nil
	}
	parsed, err := ParseEntryID(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// SessionID identifies a debate session.
type SessionID struct {
	id string
}

// NewSessionID generates a fresh session identifier.
func NewSessionID() SessionID { return SessionID{id: uuid.NewString()} }

// ParseSessionID validates and wraps a raw session identifier.
func ParseSessionID(raw string) (SessionID, error) {
	if _, err := uuid.Parse(raw); err != nil {
		return SessionID{}, fmt.Errorf("invalid session ID %q: %w", raw, err)
	}
	return SessionID{id: raw}, nil
}

func (s SessionID) String() string { return s.id }

// IsZero reports whether the SessionID is uninitialized.
func (s SessionID) IsZero() bool { return s.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (s SessionID) MarshalText() ([]byte, error) { return []byte(s.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SessionID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*s = SessionID{}
		return nil
	}
	parsed, err := ParseSessionID(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MessageID identifies a message on a session channel.
type MessageID struct {
	id string
}

// NewMessageID generates a fresh message identifier.
func NewMessageID() MessageID { return MessageID{id: uuid.NewString()} }

// ParseMessageID validates and wraps a raw message identifier.
func ParseMessageID(raw string) (MessageID, error) {
	if _, err := uuid.Parse(raw); err != nil {
		return MessageID{}, fmt.Errorf("invalid message ID %q: %w", raw, err)
	}
	return MessageID{id: raw}, nil
}

func (m MessageID) String() string { return m.id }

// IsZero reports whether the MessageID is uninitialized.
func (m MessageID) IsZero() bool { return m.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (m MessageID) MarshalText() ([]byte, error) { return []byte(m.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MessageID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*m = MessageID{}
		return nil
	}
	parsed, err := ParseMessageID(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// TopicID identifies a debate topic.
type TopicID struct {
	id string
}

// NewTopicID generates a fresh topic identifier.
func NewTopicID() TopicID { return TopicID{id: uuid.NewString()} }

// ParseTopicID validates and wraps a raw topic identifier.
func ParseTopicID(raw string) (TopicID, error) {
	if _, err := uuid.Parse(raw); err != nil {
		return TopicID{}, fmt.Errorf("invalid topic ID %q: %w", raw, err)
	}
	return TopicID{id: raw}, nil
}

func (t TopicID) String() string { return t.id }

// IsZero reports whether the TopicID is uninitialized.
func (t TopicID) IsZero() bool { return t.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (t TopicID) MarshalText() ([]byte, error) { return []byte(t.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TopicID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*t = TopicID{}
		return nil
	}
	parsed, err := ParseTopicID(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ReportID identifies a moderation report.
type ReportID struct {
	id string
}

// NewReportID generates a fresh report identifier.
func NewReportID() ReportID { return ReportID{id: uuid.NewString()} }

// ParseReportID validates and wraps a raw report identifier.
func ParseReportID(raw string) (ReportID, error) {
	if _, err := uuid.Parse(raw); err != nil {
		return ReportID{}, fmt.Errorf("invalid report ID %q: %w", raw, err)
	}
	return ReportID{id: raw}, nil
}

func (r ReportID) String() string { return r.id }

// IsZero reports whether the ReportID is uninitialized.
func (r ReportID) IsZero() bool { return r.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (r ReportID) MarshalText() ([]byte, error) { return []byte(r.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ReportID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = ReportID{}
		return nil
	}
	parsed, err := ParseReportID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
