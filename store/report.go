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

// Report fetches a moderation report by id.
func (s *Store) Report(ctx context.Context, id ident.ReportID) (Report, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Report{}, err
	}
	defer s.pool.Put(conn)

	var report Report
	found := false
	err = sqlitex.Execute(conn,
		reportSelect+" WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				report, scanErr = scanReport(stmt)
				found = scanErr == nil
				return scanErr
			},
		})
	if err != nil {
		return Report{}, fmt.Errorf("store: report %s: %w", id, err)
	}
	if !found {
		return Report{}, fmt.Errorf("store: report %s: %w", id, ErrNotFound)
	}
	return report, nil
}

// PendingReports returns unresolved reports, oldest first, for the
// moderation endpoint.
func (s *Store) PendingReports(ctx context.Context) ([]Report, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var reports []Report
	err = sqlitex.Execute(conn,
		reportSelect+" WHERE status = 'pending' ORDER BY created_at",
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			report, scanErr := scanReport(stmt)
			if scanErr != nil {
				return scanErr
			}
			reports = append(reports, report)
			return nil
		}})
	if err != nil {
		return nil, fmt.Errorf("store: pending reports: %w", err)
	}
	return reports, nil
}

// ResolveReport marks a pending report resolved. Resolving twice is a
// no-op.
func (s *Store) ResolveReport(ctx context.Context, id ident.ReportID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE reports SET status = 'resolved' WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{id.String()}})
	if err != nil {
		return fmt.Errorf("store: resolve report: %w", err)
	}
	if conn.Changes() == 0 {
		// Distinguish "already resolved" from "never existed".
		if _, err := s.reportExists(conn, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) reportExists(conn *sqlite.Conn, id ident.ReportID) (bool, error) {
	found := false
	err := sqlitex.Execute(conn,
		"SELECT 1 FROM reports WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("store: report %s: %w", id, err)
	}
	if !found {
		return false, fmt.Errorf("store: report %s: %w", id, ErrNotFound)
	}
	return true, nil
}

const reportSelect = `SELECT id, session_id, reporter_id, reported_id, reason, status, created_at
 FROM reports`

func reportBySessionAndReporter(conn *sqlite.Conn, session ident.SessionID, reporter ident.ParticipantID) (Report, error) {
	var report Report
	found := false
	err := sqlitex.Execute(conn,
		reportSelect+" WHERE session_id = ? AND reporter_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{session.String(), reporter.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				report, scanErr = scanReport(stmt)
				found = scanErr == nil
				return scanErr
			},
		})
	if err != nil {
		return Report{}, fmt.Errorf("store: report for %s by %s: %w", session, reporter, err)
	}
	if !found {
		return Report{}, fmt.Errorf("store: report for %s by %s: %w", session, reporter, ErrNotFound)
	}
	return report, nil
}

func scanReport(stmt *sqlite.Stmt) (Report, error) {
	id, err := ident.ParseReportID(stmt.ColumnText(0))
	if err != nil {
		return Report{}, fmt.Errorf("store: scan report id: %w", err)
	}
	session, err := ident.ParseSessionID(stmt.ColumnText(1))
	if err != nil {
		return Report{}, fmt.Errorf("store: scan report session: %w", err)
	}
	reporter, err := ident.ParseParticipantID(stmt.ColumnText(2))
	if err != nil {
		return Report{}, fmt.Errorf("store: scan reporter: %w", err)
	}
	reported, err := ident.ParseParticipantID(stmt.ColumnText(3))
	if err != nil {
		return Report{}, fmt.Errorf("store: scan reported: %w", err)
	}
	return Report{
		ID:        id,
		Session:   session,
		Reporter:  reporter,
		Reported:  reported,
		Reason:    stmt.ColumnText(4),
		Status:    ReportStatus(stmt.ColumnText(5)),
		CreatedAt: fromNanos(stmt.ColumnInt64(6)),
	}, nil
}
