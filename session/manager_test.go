// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/crossfire-live/crossfire/bus"
	"github.com/crossfire-live/crossfire/lib/clock"
	"github.com/crossfire-live/crossfire/lib/ident"
	"github.com/crossfire-live/crossfire/lib/testutil"
	"github.com/crossfire-live/crossfire/store"
)

type fixture struct {
	manager *Manager
	store   *store.Store
	clock   *clock.FakeClock
}

func newFixture(t *testing.T, maxDuration time.Duration) *fixture {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	memBus := bus.NewMemoryBus(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := store.Open(store.Config{
		Path:   filepath.Join(t.TempDir(), "crossfire.db"),
		Bus:    memBus,
		Clock:  fake,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	m, err := New(Config{
		Store:       s,
		Bus:         memBus,
		Clock:       fake,
		Logger:      logger,
		MaxDuration: maxDuration,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		memBus.Close()
	})
	return &fixture{manager: m, store: s, clock: fake}
}

func (f *fixture) matchedSession(t *testing.T) store.DebateSession {
	t.Helper()
	ctx := context.Background()
	topic, err := f.store.SetActiveTopic(ctx, "Does homework help?", "admin")
	if err != nil {
		t.Fatalf("SetActiveTopic: %v", err)
	}
	a, err := ident.ParseParticipantID(testutil.UniqueID("debater"))
	if err != nil {
		t.Fatalf("ParseParticipantID: %v", err)
	}
	b, err := ident.ParseParticipantID(testutil.UniqueID("debater"))
	if err != nil {
		t.Fatalf("ParseParticipantID: %v", err)
	}
	waiting, err := f.store.Enqueue(ctx, a, topic.ID)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	f.clock.Advance(time.Millisecond)
	joining, err := f.store.Enqueue(ctx, b, topic.ID)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	session, matched, err := f.store.MatchPair(ctx, waiting, joining)
	if err != nil || !matched {
		t.Fatalf("MatchPair: matched=%v err=%v", matched, err)
	}
	return session
}

func TestEndIsIdempotentAndArchives(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	ctx := context.Background()
	session := f.matchedSession(t)

	if _, err := f.store.AppendMessage(ctx, session.ID, session.ParticipantA, "only message"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	ended, err := f.manager.End(ctx, session.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.Status != store.SessionEnded || ended.Duration != 2*time.Minute {
		t.Errorf("ended = %+v", ended)
	}

	// The other participant hangs up too.
	again, err := f.manager.End(ctx, session.ID)
	if err != nil {
		t.Fatalf("End again: %v", err)
	}
	if again.EndedAt != ended.EndedAt {
		t.Errorf("repeat end moved ended_at: %s != %s", again.EndedAt, ended.EndedAt)
	}

	archive, err := f.store.ReadArchive(ctx, session.ID)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if len(archive.Messages) != 1 || archive.Messages[0].Body != "only message" {
		t.Errorf("archive = %+v", archive.Messages)
	}
}

func TestEndClampsOverdueDurationToTimeBox(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	session := f.matchedSession(t)

	// An end arriving long past the deadline, as after watchdog
	// downtime, records the time box rather than the elapsed wall
	// time.
	f.clock.Advance(2 * time.Hour)
	ended, err := f.manager.End(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.Duration != 15*time.Minute {
		t.Errorf("duration = %s, want clamped to 15m", ended.Duration)
	}
}

func TestReportForcesTerminalAndRecordsCounterpart(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	ctx := context.Background()
	session := f.matchedSession(t)

	report, err := f.manager.Report(ctx, session.ID, session.ParticipantB, "harassment")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.Reported != session.ParticipantA {
		t.Errorf("reported = %s, want %s", report.Reported, session.ParticipantA)
	}

	current, err := f.store.Session(ctx, session.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if current.Status != store.SessionReported {
		t.Errorf("status = %s, want reported", current.Status)
	}
}

func TestWatchEndsSessionAtExpiry(t *testing.T) {
	f := newFixture(t, 10*time.Minute)
	ctx := context.Background()
	session := f.matchedSession(t)

	done := make(chan error, 1)
	go func() { done <- f.manager.Watch(ctx, session) }()

	// Not due yet.
	f.clock.Advance(9 * time.Minute)
	select {
	case err := <-done:
		t.Fatalf("Watch returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	f.clock.Advance(time.Minute)
	if err := testutil.RequireReceive(t, done, 5*time.Second, "watch result"); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	current, err := f.store.Session(ctx, session.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if current.Status != store.SessionEnded {
		t.Errorf("status = %s, want ended", current.Status)
	}
	if current.Duration != 10*time.Minute {
		t.Errorf("duration = %s, want the full time box", current.Duration)
	}
}

func TestWatchStopsWhenManuallyEnded(t *testing.T) {
	f := newFixture(t, 10*time.Minute)
	ctx := context.Background()
	session := f.matchedSession(t)

	done := make(chan error, 1)
	go func() { done <- f.manager.Watch(ctx, session) }()

	// Give the watcher a moment to subscribe before ending.
	time.Sleep(20 * time.Millisecond)
	if _, err := f.manager.End(ctx, session.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := testutil.RequireReceive(t, done, 5*time.Second, "watch result"); err != nil {
		t.Fatalf("Watch after manual end: %v", err)
	}
}

func TestExpireOverdueSweepsOnlyDueSessions(t *testing.T) {
	f := newFixture(t, 10*time.Minute)
	ctx := context.Background()

	overdue := f.matchedSession(t)
	f.clock.Advance(11 * time.Minute)
	fresh := f.matchedSession(t)

	expired, err := f.manager.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if expired != 1 {
		t.Errorf("expired %d sessions, want 1", expired)
	}

	endedSession, err := f.store.Session(ctx, overdue.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if endedSession.Status != store.SessionEnded {
		t.Errorf("overdue status = %s, want ended", endedSession.Status)
	}
	freshSession, err := f.store.Session(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if freshSession.Status != store.SessionActive {
		t.Errorf("fresh status = %s, want active", freshSession.Status)
	}
}
