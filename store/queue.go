// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/crossfire-live/crossfire/bus"
	"github.com/crossfire-live/crossfire/lib/ident"
)

// errRollback forces a transaction to roll back without surfacing an
// error to the caller. Used by the claim path to turn "condition not
// met" into a clean false.
var errRollback = errors.New("store: rollback")

// withImmediateTxn runs fn inside an IMMEDIATE transaction on a
// pooled connection. IMMEDIATE acquires the write lock up front, so
// concurrent claim attempts serialize at BEGIN instead of deadlocking
// at COMMIT.
func (s *Store) withImmediateTxn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = fn(conn)
	return err
}

// Enqueue inserts a waiting entry for the participant, or returns the
// participant's existing waiting entry; at most one exists at a
// time. A genuinely new entry is announced on the queue scope.
func (s *Store) Enqueue(ctx context.Context, participant ident.ParticipantID, topic ident.TopicID) (QueueEntry, error) {
	if participant.IsZero() {
		return QueueEntry{}, fmt.Errorf("store: enqueue: empty participant")
	}
	if topic.IsZero() {
		return QueueEntry{}, fmt.Errorf("store: enqueue: empty topic")
	}

	now := s.clock.Now()
	entry := QueueEntry{
		ID:          ident.NewEntryID(),
		Participant: participant,
		Topic:       topic,
		JoinedAt:    now.UTC(),
		HeartbeatAt: now.UTC(),
	}

	inserted := false
	err := s.withImmediateTxn(ctx, func(conn *sqlite.Conn) error {
		existing, err := queueEntryByParticipant(conn, participant)
		if err == nil {
			entry = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		err = sqlitex.Execute(conn,
			`INSERT INTO queue_entries (id, participant_id, topic_id, joined_at, heartbeat_at)
			 VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				entry.ID.String(),
				entry.Participant.String(),
				entry.Topic.String(),
				nanos(entry.JoinedAt),
				nanos(entry.HeartbeatAt),
			}})
		if err != nil {
			return fmt.Errorf("store: enqueue: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return QueueEntry{}, err
	}

	if inserted {
		s.publish(ctx, bus.QueueScope(), bus.Event{
			Kind:        bus.KindQueueEntryInserted,
			At:          entry.JoinedAt,
			Entry:       entry.ID,
			Participant: entry.Participant,
			Topic:       entry.Topic,
		})
	}
	return entry, nil
}

// Entry fetches a queue entry by id. Returns ErrNotFound when the
// entry has been claimed, withdrawn, or swept; absence is the
// authoritative signal, callers never cache staleness.
func (s *Store) Entry(ctx context.Context, id ident.EntryID) (QueueEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return QueueEntry{}, err
	}
	defer s.pool.Put(conn)

	return queueEntryByID(conn, id)
}

// OldestWaiting returns the oldest waiting entry for the topic that
// does not belong to exclude. The second return is false when the
// queue has no eligible entry.
func (s *Store) OldestWaiting(ctx context.Context, topic ident.TopicID, exclude ident.ParticipantID) (QueueEntry, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return QueueEntry{}, false, err
	}
	defer s.pool.Put(conn)

	var entry QueueEntry
	found := false
	err = sqlitex.Execute(conn,
		`SELECT id, participant_id, topic_id, joined_at, heartbeat_at
		 FROM queue_entries
		 WHERE topic_id = ? AND participant_id != ?
		 ORDER BY joined_at, id LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{topic.String(), exclude.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				entry, scanErr = scanQueueEntry(stmt)
				found = scanErr == nil
				return scanErr
			},
		})
	if err != nil {
		return QueueEntry{}, false, fmt.Errorf("store: oldest waiting: %w", err)
	}
	return entry, found, nil
}

// WaitingAhead returns how many waiting entries for the same topic
// are older than the given entry, the zero-based queue position.
func (s *Store) WaitingAhead(ctx context.Context, id ident.EntryID) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	entry, err := queueEntryByID(conn, id)
	if err != nil {
		return 0, err
	}

	count := 0
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM queue_entries
		 WHERE topic_id = ?
		   AND (joined_at < ? OR (joined_at = ? AND id < ?))`,
		&sqlitex.ExecOptions{
			Args: []any{
				entry.Topic.String(),
				nanos(entry.JoinedAt),
				nanos(entry.JoinedAt),
				entry.ID.String(),
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: waiting ahead: %w", err)
	}
	return count, nil
}

// TryRemovePair atomically removes exactly the two given entries.
// Reports false, with no side effects, if either is already gone.
// This is the matchmaking claim: for any entry id, at most one of any
// number of concurrent callers observes true.
func (s *Store) TryRemovePair(ctx context.Context, idA, idB ident.EntryID) (bool, error) {
	if idA == idB {
		return false, fmt.Errorf("store: try remove pair: identical entry %s", idA)
	}

	err := s.withImmediateTxn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"DELETE FROM queue_entries WHERE id IN (?, ?)",
			&sqlitex.ExecOptions{Args: []any{idA.String(), idB.String()}})
		if err != nil {
			return fmt.Errorf("store: try remove pair: %w", err)
		}
		// Compare-and-delete: both rows or neither. Anything short of
		// two means another claimer already took one; roll back so
		// the surviving row stays matchable.
		if conn.Changes() != 2 {
			return errRollback
		}
		return nil
	})
	if errors.Is(err, errRollback) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MatchPair claims the two entries and creates their session in one
// transaction: the claim can never commit without the session row.
// candidate must be the entry that was already waiting; it becomes
// ParticipantA, the signaling initiator. Reports false on a lost
// claim race.
func (s *Store) MatchPair(ctx context.Context, candidate, self QueueEntry) (DebateSession, bool, error) {
	if candidate.ID == self.ID {
		return DebateSession{}, false, fmt.Errorf("store: match pair: entry %s offered as both sides", self.ID)
	}
	if candidate.Participant == self.Participant {
		return DebateSession{}, false, fmt.Errorf("store: match pair: participant %s cannot debate themselves", self.Participant)
	}

	now := s.clock.Now().UTC()
	session := DebateSession{
		ID:           ident.NewSessionID(),
		Room:         ident.NewRoomID(now),
		Topic:        candidate.Topic,
		ParticipantA: candidate.Participant,
		ParticipantB: self.Participant,
		Status:       SessionActive,
		StartedAt:    now,
	}

	err := s.withImmediateTxn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"DELETE FROM queue_entries WHERE id IN (?, ?)",
			&sqlitex.ExecOptions{Args: []any{candidate.ID.String(), self.ID.String()}})
		if err != nil {
			return fmt.Errorf("store: match pair: %w", err)
		}
		if conn.Changes() != 2 {
			return errRollback
		}

		err = sqlitex.Execute(conn,
			`INSERT INTO debate_sessions
				(id, room_id, topic_id, participant_a, participant_b, status, started_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				session.ID.String(),
				session.Room.String(),
				session.Topic.String(),
				session.ParticipantA.String(),
				session.ParticipantB.String(),
				string(session.Status),
				nanos(session.StartedAt),
			}})
		if err != nil {
			return fmt.Errorf("store: match pair: insert session: %w", err)
		}
		return nil
	})
	if errors.Is(err, errRollback) {
		return DebateSession{}, false, nil
	}
	if err != nil {
		return DebateSession{}, false, err
	}

	s.publish(ctx, bus.MatchScope(), bus.Event{
		Kind:         bus.KindSessionCreated,
		At:           session.StartedAt,
		Session:      session.ID,
		Topic:        session.Topic,
		ParticipantA: session.ParticipantA,
		ParticipantB: session.ParticipantB,
	})

	s.logger.Info("pair matched",
		"session", session.ID,
		"participant_a", session.ParticipantA,
		"participant_b", session.ParticipantB,
	)
	return session, true, nil
}

// Withdraw removes a single waiting entry. Removing an entry that is
// already gone is a no-op; cancel and disconnect race with being
// matched, and the loser of that race has nothing left to do.
func (s *Store) Withdraw(ctx context.Context, id ident.EntryID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM queue_entries WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{id.String()}})
	if err != nil {
		return fmt.Errorf("store: withdraw: %w", err)
	}
	return nil
}

// Heartbeat refreshes an entry's liveness stamp. ErrNotFound means
// the entry was matched, withdrawn, or swept in the meantime.
func (s *Store) Heartbeat(ctx context.Context, id ident.EntryID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE queue_entries SET heartbeat_at = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{nanos(s.clock.Now()), id.String()}})
	if err != nil {
		return fmt.Errorf("store: heartbeat: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// SweepStale removes waiting entries whose heartbeat is older than
// maxAge. Crashed clients stop heartbeating; their ghost entries must
// become unmatchable rather than pairing someone with nobody.
func (s *Store) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	cutoff := s.clock.Now().Add(-maxAge)
	err = sqlitex.Execute(conn,
		"DELETE FROM queue_entries WHERE heartbeat_at < ?",
		&sqlitex.ExecOptions{Args: []any{nanos(cutoff)}})
	if err != nil {
		return 0, fmt.Errorf("store: sweep stale: %w", err)
	}

	swept := conn.Changes()
	if swept > 0 {
		s.logger.Info("stale queue entries swept", "count", swept)
	}
	return swept, nil
}

// QueueDepth returns the number of waiting entries across all topics.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	count := 0
	err = sqlitex.Execute(conn,
		"SELECT COUNT(*) FROM queue_entries",
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		}})
	if err != nil {
		return 0, fmt.Errorf("store: queue depth: %w", err)
	}
	return count, nil
}

// publish sends a bus event, logging rather than failing on error:
// the row is committed, and every consumer reconciles against the
// store anyway.
func (s *Store) publish(ctx context.Context, scope bus.Scope, event bus.Event) {
	if err := s.bus.Publish(ctx, scope, event); err != nil {
		s.logger.Warn("bus publish failed",
			"scope", scope.Key(),
			"kind", event.Kind,
			"error", err,
		)
	}
}

func queueEntryByID(conn *sqlite.Conn, id ident.EntryID) (QueueEntry, error) {
	var entry QueueEntry
	found := false
	err := sqlitex.Execute(conn,
		`SELECT id, participant_id, topic_id, joined_at, heartbeat_at
		 FROM queue_entries WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				entry, scanErr = scanQueueEntry(stmt)
				found = scanErr == nil
				return scanErr
			},
		})
	if err != nil {
		return QueueEntry{}, fmt.Errorf("store: entry %s: %w", id, err)
	}
	if !found {
		return QueueEntry{}, fmt.Errorf("store: entry %s: %w", id, ErrNotFound)
	}
	return entry, nil
}

func queueEntryByParticipant(conn *sqlite.Conn, participant ident.ParticipantID) (QueueEntry, error) {
	var entry QueueEntry
	found := false
	err := sqlitex.Execute(conn,
		`SELECT id, participant_id, topic_id, joined_at, heartbeat_at
		 FROM queue_entries WHERE participant_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{participant.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				entry, scanErr = scanQueueEntry(stmt)
				found = scanErr == nil
				return scanErr
			},
		})
	if err != nil {
		return QueueEntry{}, fmt.Errorf("store: entry for %s: %w", participant, err)
	}
	if !found {
		return QueueEntry{}, fmt.Errorf("store: entry for %s: %w", participant, ErrNotFound)
	}
	return entry, nil
}

// scanQueueEntry reads the canonical five-column entry projection.
func scanQueueEntry(stmt *sqlite.Stmt) (QueueEntry, error) {
	id, err := ident.ParseEntryID(stmt.ColumnText(0))
	if err != nil {
		return QueueEntry{}, fmt.Errorf("store: scan entry id: %w", err)
	}
	participant, err := ident.ParseParticipantID(stmt.ColumnText(1))
	if err != nil {
		return QueueEntry{}, fmt.Errorf("store: scan participant: %w", err)
	}
	topic, err := ident.ParseTopicID(stmt.ColumnText(2))
	if err != nil {
		return QueueEntry{}, fmt.Errorf("store: scan topic: %w", err)
	}
	return QueueEntry{
		ID:          id,
		Participant: participant,
		Topic:       topic,
		JoinedAt:    fromNanos(stmt.ColumnInt64(3)),
		HeartbeatAt: fromNanos(stmt.ColumnInt64(4)),
	}, nil
}
