// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/crossfire-live/crossfire/bus"
	"github.com/crossfire-live/crossfire/lib/ident"
)

// ErrSessionClosed reports an append against a terminated session.
var ErrSessionClosed = fmt.Errorf("store: session closed")

// AppendMessage appends one entry to the session channel. The body is
// opaque here: chat text and signaling frames share the channel, and
// distinguishing them is the signaling layer's job. The assigned Seq
// is the channel's total order.
//
// Appends are rejected once the session is terminal, so a channel can
// never grow after archiving begins.
func (s *Store) AppendMessage(ctx context.Context, session ident.SessionID, sender ident.ParticipantID, body string) (Message, error) {
	if body == "" {
		return Message{}, fmt.Errorf("store: append message: empty body")
	}

	message := Message{
		ID:        ident.NewMessageID(),
		Session:   session,
		Sender:    sender,
		Body:      body,
		CreatedAt: s.clock.Now().UTC(),
	}

	err := s.withImmediateTxn(ctx, func(conn *sqlite.Conn) error {
		current, err := sessionByID(conn, session)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return fmt.Errorf("store: append to %s: %w", session, ErrSessionClosed)
		}
		if !current.Has(sender) {
			return fmt.Errorf("store: append to %s: %s is not a participant", session, sender)
		}

		err = sqlitex.Execute(conn,
			`INSERT INTO messages (id, session_id, sender_id, body, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				message.ID.String(),
				message.Session.String(),
				message.Sender.String(),
				message.Body,
				nanos(message.CreatedAt),
			}})
		if err != nil {
			return fmt.Errorf("store: append message: %w", err)
		}
		message.Seq = conn.LastInsertRowID()
		return nil
	})
	if err != nil {
		return Message{}, err
	}

	s.publish(ctx, bus.SessionScope(session), bus.Event{
		Kind:        bus.KindMessageAppended,
		At:          message.CreatedAt,
		Session:     session,
		Participant: sender,
		Message:     message.ID,
		Seq:         message.Seq,
		Body:        message.Body,
	})
	return message, nil
}

// Messages returns the session's channel entries with Seq strictly
// greater than afterSeq, in Seq order. afterSeq zero reads from the
// beginning. Consumers that woke on a bus event call this to catch up
// on everything they may have missed.
func (s *Store) Messages(ctx context.Context, session ident.SessionID, afterSeq int64) ([]Message, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var messages []Message
	err = sqlitex.Execute(conn,
		`SELECT seq, id, session_id, sender_id, body, created_at
		 FROM messages WHERE session_id = ? AND seq > ?
		 ORDER BY seq`,
		&sqlitex.ExecOptions{
			Args: []any{session.String(), afterSeq},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				message, scanErr := scanMessage(stmt)
				if scanErr != nil {
					return scanErr
				}
				messages = append(messages, message)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: messages for %s: %w", session, err)
	}
	return messages, nil
}

// MessageCount returns the number of channel entries for the session.
func (s *Store) MessageCount(ctx context.Context, session ident.SessionID) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	count := 0
	err = sqlitex.Execute(conn,
		"SELECT COUNT(*) FROM messages WHERE session_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{session.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: message count for %s: %w", session, err)
	}
	return count, nil
}

func scanMessage(stmt *sqlite.Stmt) (Message, error) {
	id, err := ident.ParseMessageID(stmt.ColumnText(1))
	if err != nil {
		return Message{}, fmt.Errorf("store: scan message id: %w", err)
	}
	session, err := ident.ParseSessionID(stmt.ColumnText(2))
	if err != nil {
		return Message{}, fmt.Errorf("store: scan message session: %w", err)
	}
	sender, err := ident.ParseParticipantID(stmt.ColumnText(3))
	if err != nil {
		return Message{}, fmt.Errorf("store: scan message sender: %w", err)
	}
	return Message{
		Seq:       stmt.ColumnInt64(0),
		ID:        id,
		Session:   session,
		Sender:    sender,
		Body:      stmt.ColumnText(4),
		CreatedAt: fromNanos(stmt.ColumnInt64(5)),
	}, nil
}
