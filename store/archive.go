// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/crossfire-live/crossfire/lib/codec"
	"github.com/crossfire-live/crossfire/lib/ident"
)

// ErrNotTerminal reports an archive attempt on a live session.
var ErrNotTerminal = fmt.Errorf("store: session not terminal")

// Archive is the durable record of a finished debate: the session row
// plus its complete message channel, frozen after termination.
type Archive struct {
	Session  DebateSession
	Messages []Message
}

// archiveDocument is the CBOR shape stored in the payload column.
// String forms keep the payload independent of internal type layout.
type archiveDocument struct {
	SessionID    string            `cbor:"session_id"`
	RoomID       string            `cbor:"room_id"`
	TopicID      string            `cbor:"topic_id"`
	ParticipantA string            `cbor:"participant_a"`
	ParticipantB string            `cbor:"participant_b"`
	Status       string            `cbor:"status"`
	StartedAt    int64             `cbor:"started_at"`
	EndedAt      int64             `cbor:"ended_at"`
	DurationSec  int64             `cbor:"duration_seconds"`
	Messages     []archivedMessage `cbor:"messages"`
}

type archivedMessage struct {
	Seq       int64  `cbor:"seq"`
	ID        string `cbor:"id"`
	Sender    string `cbor:"sender"`
	Body      string `cbor:"body"`
	CreatedAt int64  `cbor:"created_at"`
}

// ArchiveSession freezes a terminal session: the session row and its
// message channel are encoded, compressed, checksummed, and written
// to session_archives, and the live message rows are deleted, all in
// one transaction. Archiving an already archived session is a no-op.
//
// Payload is deterministic CBOR under zstd; the checksum is BLAKE3
// over the compressed bytes, verified on every read.
func (s *Store) ArchiveSession(ctx context.Context, id ident.SessionID) error {
	now := s.clock.Now().UTC()

	archived := false
	messageCount := 0
	err := s.withImmediateTxn(ctx, func(conn *sqlite.Conn) error {
		session, err := sessionByID(conn, id)
		if err != nil {
			return err
		}
		if !session.Status.Terminal() {
			return fmt.Errorf("store: archive %s: %w", id, ErrNotTerminal)
		}

		exists := false
		err = sqlitex.Execute(conn,
			"SELECT 1 FROM session_archives WHERE session_id = ?",
			&sqlitex.ExecOptions{
				Args: []any{id.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					exists = true
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("store: archive %s: %w", id, err)
		}
		if exists {
			return nil
		}

		doc := archiveDocument{
			SessionID:    session.ID.String(),
			RoomID:       session.Room.String(),
			TopicID:      session.Topic.String(),
			ParticipantA: session.ParticipantA.String(),
			ParticipantB: session.ParticipantB.String(),
			Status:       string(session.Status),
			StartedAt:    nanos(session.StartedAt),
			EndedAt:      nanos(session.EndedAt),
			DurationSec:  int64(session.Duration / time.Second),
		}
		err = sqlitex.Execute(conn,
			`SELECT seq, id, sender_id, body, created_at
			 FROM messages WHERE session_id = ? ORDER BY seq`,
			&sqlitex.ExecOptions{
				Args: []any{id.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					doc.Messages = append(doc.Messages, archivedMessage{
						Seq:       stmt.ColumnInt64(0),
						ID:        stmt.ColumnText(1),
						Sender:    stmt.ColumnText(2),
						Body:      stmt.ColumnText(3),
						CreatedAt: stmt.ColumnInt64(4),
					})
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("store: archive %s: read messages: %w", id, err)
		}

		payload, err := encodeArchive(doc)
		if err != nil {
			return fmt.Errorf("store: archive %s: %w", id, err)
		}
		sum := blake3.Sum256(payload)

		err = sqlitex.Execute(conn,
			`INSERT INTO session_archives (session_id, archived_at, message_count, checksum, payload)
			 VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				id.String(), nanos(now), len(doc.Messages), sum[:], payload,
			}})
		if err != nil {
			return fmt.Errorf("store: archive %s: insert: %w", id, err)
		}

		err = sqlitex.Execute(conn,
			"DELETE FROM messages WHERE session_id = ?",
			&sqlitex.ExecOptions{Args: []any{id.String()}})
		if err != nil {
			return fmt.Errorf("store: archive %s: delete messages: %w", id, err)
		}

		archived = true
		messageCount = len(doc.Messages)
		return nil
	})
	if err != nil {
		return err
	}

	if archived {
		s.logger.Info("session archived", "session", id, "messages", messageCount)
	}
	return nil
}

// ReadArchive loads and decodes an archived session, verifying the
// stored checksum before decompressing. A checksum mismatch means the
// row was corrupted at rest and is surfaced as an error, never as
// partial data.
func (s *Store) ReadArchive(ctx context.Context, id ident.SessionID) (Archive, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Archive{}, err
	}
	defer s.pool.Put(conn)

	var payload, checksum []byte
	found := false
	err = sqlitex.Execute(conn,
		"SELECT checksum, payload FROM session_archives WHERE session_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				checksum = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, checksum)
				payload = make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, payload)
				found = true
				return nil
			},
		})
	if err != nil {
		return Archive{}, fmt.Errorf("store: read archive %s: %w", id, err)
	}
	if !found {
		return Archive{}, fmt.Errorf("store: read archive %s: %w", id, ErrNotFound)
	}

	sum := blake3.Sum256(payload)
	if !bytes.Equal(sum[:], checksum) {
		return Archive{}, fmt.Errorf("store: read archive %s: checksum mismatch", id)
	}

	doc, err := decodeArchive(payload)
	if err != nil {
		return Archive{}, fmt.Errorf("store: read archive %s: %w", id, err)
	}
	return docToArchive(doc)
}

func encodeArchive(doc archiveDocument) ([]byte, error) {
	raw, err := codec.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(raw, nil), nil
}

func decodeArchive(payload []byte) (archiveDocument, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return archiveDocument{}, fmt.Errorf("zstd: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(payload, nil)
	if err != nil {
		return archiveDocument{}, fmt.Errorf("decompress: %w", err)
	}
	var doc archiveDocument
	if err := codec.Unmarshal(raw, &doc); err != nil {
		return archiveDocument{}, fmt.Errorf("decode: %w", err)
	}
	return doc, nil
}

func docToArchive(doc archiveDocument) (Archive, error) {
	sessionID, err := ident.ParseSessionID(doc.SessionID)
	if err != nil {
		return Archive{}, fmt.Errorf("store: archive session id: %w", err)
	}
	room, err := ident.ParseRoomID(doc.RoomID)
	if err != nil {
		return Archive{}, fmt.Errorf("store: archive room: %w", err)
	}
	topic, err := ident.ParseTopicID(doc.TopicID)
	if err != nil {
		return Archive{}, fmt.Errorf("store: archive topic: %w", err)
	}
	a, err := ident.ParseParticipantID(doc.ParticipantA)
	if err != nil {
		return Archive{}, fmt.Errorf("store: archive participant a: %w", err)
	}
	b, err := ident.ParseParticipantID(doc.ParticipantB)
	if err != nil {
		return Archive{}, fmt.Errorf("store: archive participant b: %w", err)
	}

	archive := Archive{
		Session: DebateSession{
			ID:           sessionID,
			Room:         room,
			Topic:        topic,
			ParticipantA: a,
			ParticipantB: b,
			Status:       SessionStatus(doc.Status),
			StartedAt:    fromNanos(doc.StartedAt),
			EndedAt:      fromNanos(doc.EndedAt),
			Duration:     time.Duration(doc.DurationSec) * time.Second,
		},
	}
	for _, m := range doc.Messages {
		id, err := ident.ParseMessageID(m.ID)
		if err != nil {
			return Archive{}, fmt.Errorf("store: archive message id: %w", err)
		}
		sender, err := ident.ParseParticipantID(m.Sender)
		if err != nil {
			return Archive{}, fmt.Errorf("store: archive message sender: %w", err)
		}
		archive.Messages = append(archive.Messages, Message{
			Seq:       m.Seq,
			ID:        id,
			Session:   sessionID,
			Sender:    sender,
			Body:      m.Body,
			CreatedAt: fromNanos(m.CreatedAt),
		})
	}
	return archive, nil
}
