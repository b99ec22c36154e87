// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool wraps zombiezen.com/go/sqlite's sqlitex.Pool with
// the pragmas every Crossfire database needs: WAL journaling for
// concurrent readers, a busy timeout so the claim transaction retries
// instead of failing under writer contention, and foreign keys on.
//
// The pool hands out raw *sqlite.Conn values. Individual connections
// are not safe for concurrent use; each goroutine must Take its own
// and Put it back, typically via defer.
package sqlitepool
