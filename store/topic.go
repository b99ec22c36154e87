// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/crossfire-live/crossfire/lib/ident"
)

// ActiveTopic returns the debate prompt participants are currently
// queued under. ErrNotFound means no topic has been activated yet;
// the server refuses queue joins until one is.
func (s *Store) ActiveTopic(ctx context.Context) (Topic, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Topic{}, err
	}
	defer s.pool.Put(conn)

	var topic Topic
	found := false
	err = sqlitex.Execute(conn,
		topicSelect+" WHERE active = 1",
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			var scanErr error
			topic, scanErr = scanTopic(stmt)
			found = scanErr == nil
			return scanErr
		}})
	if err != nil {
		return Topic{}, fmt.Errorf("store: active topic: %w", err)
	}
	if !found {
		return Topic{}, fmt.Errorf("store: active topic: %w", ErrNotFound)
	}
	return topic, nil
}

// SetActiveTopic creates a new topic and makes it the active one,
// deactivating the previous active topic in the same transaction so
// the one-active invariant never has an observable gap. Entries
// already waiting under the old topic keep waiting under it; only new
// joins see the new topic.
func (s *Store) SetActiveTopic(ctx context.Context, text, createdBy string) (Topic, error) {
	if text == "" {
		return Topic{}, fmt.Errorf("store: set active topic: empty text")
	}

	topic := Topic{
		ID:        ident.NewTopicID(),
		Text:      text,
		Active:    true,
		CreatedBy: createdBy,
		CreatedAt: s.clock.Now().UTC(),
	}

	err := s.withImmediateTxn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"UPDATE topics SET active = 0 WHERE active = 1", nil)
		if err != nil {
			return fmt.Errorf("store: set active topic: deactivate: %w", err)
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO topics (id, topic_text, active, created_by, created_at)
			 VALUES (?, ?, 1, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				topic.ID.String(),
				topic.Text,
				topic.CreatedBy,
				nanos(topic.CreatedAt),
			}})
		if err != nil {
			return fmt.Errorf("store: set active topic: insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return Topic{}, err
	}

	s.logger.Info("active topic changed", "topic", topic.ID, "text", topic.Text)
	return topic, nil
}

// Topic fetches a topic by id, active or not. Sessions reference the
// topic they were matched under even after it rotates out.
func (s *Store) Topic(ctx context.Context, id ident.TopicID) (Topic, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Topic{}, err
	}
	defer s.pool.Put(conn)

	var topic Topic
	found := false
	err = sqlitex.Execute(conn,
		topicSelect+" WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				topic, scanErr = scanTopic(stmt)
				found = scanErr == nil
				return scanErr
			},
		})
	if err != nil {
		return Topic{}, fmt.Errorf("store: topic %s: %w", id, err)
	}
	if !found {
		return Topic{}, fmt.Errorf("store: topic %s: %w", id, ErrNotFound)
	}
	return topic, nil
}

// Topics returns every topic, newest first.
func (s *Store) Topics(ctx context.Context) ([]Topic, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var topics []Topic
	err = sqlitex.Execute(conn,
		topicSelect+" ORDER BY created_at DESC",
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			topic, scanErr := scanTopic(stmt)
			if scanErr != nil {
				return scanErr
			}
			topics = append(topics, topic)
			return nil
		}})
	if err != nil {
		return nil, fmt.Errorf("store: topics: %w", err)
	}
	return topics, nil
}

const topicSelect = `SELECT id, topic_text, active, created_by, created_at FROM topics`

func scanTopic(stmt *sqlite.Stmt) (Topic, error) {
	id, err := ident.ParseTopicID(stmt.ColumnText(0))
	if err != nil {
		return Topic{}, fmt.Errorf("store: scan topic id: %w", err)
	}
	return Topic{
		ID:        id,
		Text:      stmt.ColumnText(1),
		Active:    stmt.ColumnInt(2) != 0,
		CreatedBy: stmt.ColumnText(3),
		CreatedAt: fromNanos(stmt.ColumnInt64(4)),
	}, nil
}
