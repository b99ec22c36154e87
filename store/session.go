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

// Session fetches a debate session by id.
func (s *Store) Session(ctx context.Context, id ident.SessionID) (DebateSession, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return DebateSession{}, err
	}
	defer s.pool.Put(conn)

	return sessionByID(conn, id)
}

// ActiveSessionFor returns the participant's current active session.
// A participant has at most one: they cannot be in the queue while in
// a session, and matching removed their queue entry.
func (s *Store) ActiveSessionFor(ctx context.Context, participant ident.ParticipantID) (DebateSession, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return DebateSession{}, err
	}
	defer s.pool.Put(conn)

	var session DebateSession
	found := false
	err = sqlitex.Execute(conn,
		sessionSelect+` WHERE status = 'active' AND (participant_a = ? OR participant_b = ?)
		 ORDER BY started_at DESC LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{participant.String(), participant.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				session, scanErr = scanSession(stmt)
				found = scanErr == nil
				return scanErr
			},
		})
	if err != nil {
		return DebateSession{}, fmt.Errorf("store: active session for %s: %w", participant, err)
	}
	if !found {
		return DebateSession{}, fmt.Errorf("store: active session for %s: %w", participant, ErrNotFound)
	}
	return session, nil
}

// ActiveSessions returns every session still in the active state,
// oldest first. The expiry watchdog walks this on its tick.
func (s *Store) ActiveSessions(ctx context.Context) ([]DebateSession, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var sessions []DebateSession
	err = sqlitex.Execute(conn,
		sessionSelect+" WHERE status = 'active' ORDER BY started_at",
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			session, scanErr := scanSession(stmt)
			if scanErr != nil {
				return scanErr
			}
			sessions = append(sessions, session)
			return nil
		}})
	if err != nil {
		return nil, fmt.Errorf("store: active sessions: %w", err)
	}
	return sessions, nil
}

// EndSession transitions active -> ended. The transition is a
// compare-and-set on status: concurrent end attempts (both sides
// hanging up, or a hangup racing the expiry watchdog) all converge on
// the same terminal row, and exactly one caller observes true.
//
// Duration is computed from the server clock and clamped to
// [0, maxDuration]: a clock step backwards can never record a
// negative debate, and a termination arriving late (watchdog downtime,
// a hangup past the deadline) never records more than the time box.
func (s *Store) EndSession(ctx context.Context, id ident.SessionID, maxDuration time.Duration) (DebateSession, bool, error) {
	now := s.clock.Now().UTC()

	var session DebateSession
	ended := false
	err := s.withImmediateTxn(ctx, func(conn *sqlite.Conn) error {
		current, err := sessionByID(conn, id)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			session = current
			return nil
		}

		duration := clampDuration(now.Sub(current.StartedAt), maxDuration)
		err = sqlitex.Execute(conn,
			`UPDATE debate_sessions
			 SET status = 'ended', ended_at = ?, duration_seconds = ?
			 WHERE id = ? AND status = 'active'`,
			&sqlitex.ExecOptions{Args: []any{
				nanos(now),
				int64(duration / time.Second),
				id.String(),
			}})
		if err != nil {
			return fmt.Errorf("store: end session: %w", err)
		}
		if conn.Changes() != 1 {
			return fmt.Errorf("store: end session %s: row vanished mid-transaction", id)
		}

		current.Status = SessionEnded
		current.EndedAt = now
		current.Duration = duration.Truncate(time.Second)
		session = current
		ended = true
		return nil
	})
	if err != nil {
		return DebateSession{}, false, err
	}

	if ended {
		s.publish(ctx, bus.SessionScope(id), bus.Event{
			Kind:    bus.KindSessionTerminated,
			At:      now,
			Session: id,
			Body:    string(SessionEnded),
		})
		s.logger.Info("session ended",
			"session", id,
			"duration", session.Duration,
		)
	}
	return session, ended, nil
}

// ReportSession files a moderation report against the reporter's
// counterpart and forces the session terminal. An active session is
// ended as part of the same transaction, its duration clamped to
// [0, maxDuration] like EndSession; a session that already ended
// normally is upgraded to reported with its recorded end untouched.
// Re-reporting by the same participant returns the original report.
func (s *Store) ReportSession(ctx context.Context, id ident.SessionID, reporter ident.ParticipantID, reason string, maxDuration time.Duration) (Report, error) {
	if reason == "" {
		return Report{}, fmt.Errorf("store: report session: empty reason")
	}

	now := s.clock.Now().UTC()
	report := Report{
		ID:        ident.NewReportID(),
		Session:   id,
		Reporter:  reporter,
		Reason:    reason,
		Status:    ReportPending,
		CreatedAt: now,
	}

	terminated := false
	err := s.withImmediateTxn(ctx, func(conn *sqlite.Conn) error {
		session, err := sessionByID(conn, id)
		if err != nil {
			return err
		}
		reported, ok := session.Other(reporter)
		if !ok {
			return fmt.Errorf("store: report session %s: %s is not a participant", id, reporter)
		}
		report.Reported = reported

		existing, err := reportBySessionAndReporter(conn, id, reporter)
		if err == nil {
			report = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		if session.Status == SessionActive {
			duration := clampDuration(now.Sub(session.StartedAt), maxDuration)
			err = sqlitex.Execute(conn,
				`UPDATE debate_sessions
				 SET status = 'reported', ended_at = ?, duration_seconds = ?
				 WHERE id = ?`,
				&sqlitex.ExecOptions{Args: []any{
					nanos(now), int64(duration / time.Second), id.String(),
				}})
			terminated = true
		} else {
			err = sqlitex.Execute(conn,
				"UPDATE debate_sessions SET status = 'reported' WHERE id = ?",
				&sqlitex.ExecOptions{Args: []any{id.String()}})
		}
		if err != nil {
			return fmt.Errorf("store: report session: mark reported: %w", err)
		}

		err = sqlitex.Execute(conn,
			`INSERT INTO reports (id, session_id, reporter_id, reported_id, reason, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				report.ID.String(),
				report.Session.String(),
				report.Reporter.String(),
				report.Reported.String(),
				report.Reason,
				string(report.Status),
				nanos(report.CreatedAt),
			}})
		if err != nil {
			return fmt.Errorf("store: report session: insert report: %w", err)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	if terminated {
		s.publish(ctx, bus.SessionScope(id), bus.Event{
			Kind:    bus.KindSessionTerminated,
			At:      now,
			Session: id,
			Body:    string(SessionReported),
		})
	}
	s.logger.Info("session reported",
		"session", id,
		"reporter", report.Reporter,
		"report", report.ID,
	)
	return report, nil
}

// clampDuration bounds an elapsed wall time to [0, max]. A
// non-positive max disables the upper bound.
func clampDuration(elapsed, max time.Duration) time.Duration {
	if elapsed < 0 {
		return 0
	}
	if max > 0 && elapsed > max {
		return max
	}
	return elapsed
}

const sessionSelect = `SELECT id, room_id, topic_id, participant_a, participant_b,
	status, started_at, ended_at, duration_seconds
 FROM debate_sessions`

func sessionByID(conn *sqlite.Conn, id ident.SessionID) (DebateSession, error) {
	var session DebateSession
	found := false
	err := sqlitex.Execute(conn,
		sessionSelect+" WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				session, scanErr = scanSession(stmt)
				found = scanErr == nil
				return scanErr
			},
		})
	if err != nil {
		return DebateSession{}, fmt.Errorf("store: session %s: %w", id, err)
	}
	if !found {
		return DebateSession{}, fmt.Errorf("store: session %s: %w", id, ErrNotFound)
	}
	return session, nil
}

func scanSession(stmt *sqlite.Stmt) (DebateSession, error) {
	id, err := ident.ParseSessionID(stmt.ColumnText(0))
	if err != nil {
		return DebateSession{}, fmt.Errorf("store: scan session id: %w", err)
	}
	room, err := ident.ParseRoomID(stmt.ColumnText(1))
	if err != nil {
		return DebateSession{}, fmt.Errorf("store: scan room: %w", err)
	}
	topic, err := ident.ParseTopicID(stmt.ColumnText(2))
	if err != nil {
		return DebateSession{}, fmt.Errorf("store: scan topic: %w", err)
	}
	a, err := ident.ParseParticipantID(stmt.ColumnText(3))
	if err != nil {
		return DebateSession{}, fmt.Errorf("store: scan participant a: %w", err)
	}
	b, err := ident.ParseParticipantID(stmt.ColumnText(4))
	if err != nil {
		return DebateSession{}, fmt.Errorf("store: scan participant b: %w", err)
	}
	session := DebateSession{
		ID:           id,
		Room:         room,
		Topic:        topic,
		ParticipantA: a,
		ParticipantB: b,
		Status:       SessionStatus(stmt.ColumnText(5)),
		StartedAt:    fromNanos(stmt.ColumnInt64(6)),
	}
	if stmt.ColumnType(7) != sqlite.TypeNull {
		session.EndedAt = fromNanos(stmt.ColumnInt64(7))
	}
	if stmt.ColumnType(8) != sqlite.TypeNull {
		session.Duration = time.Duration(stmt.ColumnInt64(8)) * time.Second
	}
	return session, nil
}
