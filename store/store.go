// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/crossfire-live/crossfire/bus"
	"github.com/crossfire-live/crossfire/lib/clock"
	"github.com/crossfire-live/crossfire/lib/ident"
	"github.com/crossfire-live/crossfire/lib/sqlitepool"
)

// ErrNotFound reports that the requested row does not exist. Callers
// in the matchmaking path treat it as "the entry was claimed or
// withdrawn", not as a failure.
var ErrNotFound = errors.New("store: not found")

// SessionStatus is the lifecycle state of a debate session.
type SessionStatus string

const (
	// SessionActive: both participants paired, channel live.
	SessionActive SessionStatus = "active"
	// SessionEnded: normal termination (either side, or timeout).
	SessionEnded SessionStatus = "ended"
	// SessionReported: moderation escalation. Terminal and final;
	// it supersedes ended and nothing overwrites it.
	SessionReported SessionStatus = "reported"
)

// Terminal reports whether the status is past active.
func (s SessionStatus) Terminal() bool { return s != SessionActive }

// QueueEntry is one participant waiting to be matched. At most one
// waiting entry exists per participant; the row disappears when the
// entry is claimed into a session, withdrawn, or swept as stale.
type QueueEntry struct {
	ID          ident.EntryID
	Participant ident.ParticipantID
	Topic       ident.TopicID
	JoinedAt    time.Time
	HeartbeatAt time.Time
}

// DebateSession is one time-boxed pairing. ParticipantA is always the
// side that was already waiting when the match happened, which fixes
// the signaling initiator role with no extra coordination.
type DebateSession struct {
	ID           ident.SessionID
	Room         ident.RoomID
	Topic        ident.TopicID
	ParticipantA ident.ParticipantID
	ParticipantB ident.ParticipantID
	Status       SessionStatus
	StartedAt    time.Time
	EndedAt      time.Time // zero while active
	Duration     time.Duration
}

// Other returns the session's other participant, and false if p is
// not in the session at all.
func (s DebateSession) Other(p ident.ParticipantID) (ident.ParticipantID, bool) {
	switch p {
	case s.ParticipantA:
		return s.ParticipantB, true
	case s.ParticipantB:
		return s.ParticipantA, true
	}
	return ident.ParticipantID{}, false
}

// Has reports whether p is one of the session's participants.
func (s DebateSession) Has(p ident.ParticipantID) bool {
	return p == s.ParticipantA || p == s.ParticipantB
}

// Message is one entry on a session's append-only channel, chat text
// or a signaling frame, undifferentiated at this layer. Seq is the
// database-assigned channel sequence; ordering is by Seq everywhere,
// never by client clocks.
type Message struct {
	ID        ident.MessageID
	Session   ident.SessionID
	Sender    ident.ParticipantID
	Body      string
	Seq       int64
	CreatedAt time.Time
}

// ReportStatus is the moderation state of a report.
type ReportStatus string

const (
	ReportPending  ReportStatus = "pending"
	ReportResolved ReportStatus = "resolved"
)

// Report is an immutable moderation record.
type Report struct {
	ID        ident.ReportID
	Session   ident.SessionID
	Reporter  ident.ParticipantID
	Reported  ident.ParticipantID
	Reason    string
	Status    ReportStatus
	CreatedAt time.Time
}

// Topic is a debate prompt. Exactly one topic is active at a time.
type Topic struct {
	ID        ident.TopicID
	Text      string
	Active    bool
	CreatedBy string
	CreatedAt time.Time
}

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// PoolSize is forwarded to sqlitepool. Zero means its default.
	PoolSize int

	// Bus receives insert notifications after commits. Required.
	Bus bus.Bus

	// Clock provides row timestamps. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Store is the durable layer. Safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	bus    bus.Bus
	clock  clock.Clock
	logger *slog.Logger
}

// Open creates the store, creating the schema on first connection.
func Open(cfg Config) (*Store, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("store: Bus is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("store: Logger is required")
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	return &Store{
		pool:   pool,
		bus:    cfg.Bus,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}, nil
}

// Close closes the underlying pool. It does not close the bus; the
// bus outlives the store in the server's shutdown order.
func (s *Store) Close() error {
	return s.pool.Close()
}

// nanos converts a time to the canonical column representation.
func nanos(t time.Time) int64 { return t.UnixNano() }

// fromNanos converts a column value back to a UTC time. Zero stays
// the zero time.
func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
