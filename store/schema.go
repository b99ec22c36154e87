// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package store

// schema is applied to every new connection. All statements are
// idempotent. Timestamps are Unix nanoseconds.
//
// messages.seq is the channel ordering authority: an AUTOINCREMENT
// rowid assigned at insert, monotone across the database. created_at
// is informational; two messages in the same nanosecond still have a
// total order through seq.
//
// queue_entries has no status column: a waiting entry is a row, a
// matched entry is no row plus a debate_sessions row, both written in
// the same transaction. There is no observable intermediate state.
const schema = `
CREATE TABLE IF NOT EXISTS topics (
	id         TEXT PRIMARY KEY,
	topic_text TEXT NOT NULL,
	active     INTEGER NOT NULL DEFAULT 0,
	created_by TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_topics_one_active
	ON topics(active) WHERE active = 1;

CREATE TABLE IF NOT EXISTS queue_entries (
	id             TEXT PRIMARY KEY,
	participant_id TEXT NOT NULL,
	topic_id       TEXT NOT NULL,
	joined_at      INTEGER NOT NULL,
	heartbeat_at   INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_one_per_participant
	ON queue_entries(participant_id);
CREATE INDEX IF NOT EXISTS idx_queue_topic_joined
	ON queue_entries(topic_id, joined_at);

CREATE TABLE IF NOT EXISTS debate_sessions (
	id               TEXT PRIMARY KEY,
	room_id          TEXT NOT NULL,
	topic_id         TEXT NOT NULL,
	participant_a    TEXT NOT NULL,
	participant_b    TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'active',
	started_at       INTEGER NOT NULL,
	ended_at         INTEGER,
	duration_seconds INTEGER
);
CREATE INDEX IF NOT EXISTS idx_sessions_participant_a
	ON debate_sessions(participant_a, started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_participant_b
	ON debate_sessions(participant_b, started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_status
	ON debate_sessions(status, started_at);

CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES debate_sessions(id),
	sender_id  TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session
	ON messages(session_id, seq);

CREATE TABLE IF NOT EXISTS reports (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES debate_sessions(id),
	reporter_id TEXT NOT NULL,
	reported_id TEXT NOT NULL,
	reason      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_reports_once_per_reporter
	ON reports(session_id, reporter_id);

CREATE TABLE IF NOT EXISTS session_archives (
	session_id    TEXT PRIMARY KEY REFERENCES debate_sessions(id),
	archived_at   INTEGER NOT NULL,
	message_count INTEGER NOT NULL,
	checksum      BLOB NOT NULL,
	payload       BLOB NOT NULL
);
`
