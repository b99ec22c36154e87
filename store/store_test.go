// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/crossfire-live/crossfire/bus"
	"github.com/crossfire-live/crossfire/lib/clock"
	"github.com/crossfire-live/crossfire/lib/ident"
	"github.com/crossfire-live/crossfire/lib/testutil"
)

func newTestStore(t *testing.T) (*Store, *clock.FakeClock, *bus.MemoryBus) {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	memBus := bus.NewMemoryBus(nil)
	s, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "crossfire.db"),
		Bus:    memBus,
		Clock:  fake,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		memBus.Close()
	})
	return s, fake, memBus
}

func participant(t *testing.T) ident.ParticipantID {
	t.Helper()
	p, err := ident.ParseParticipantID(testutil.UniqueID("debater"))
	if err != nil {
		t.Fatalf("ParseParticipantID: %v", err)
	}
	return p
}

func activeTopic(t *testing.T, s *Store) ident.TopicID {
	t.Helper()
	topic, err := s.SetActiveTopic(context.Background(), "Should cities ban private cars?", "admin")
	if err != nil {
		t.Fatalf("SetActiveTopic: %v", err)
	}
	return topic.ID
}

func TestEnqueueIsIdempotentPerParticipant(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	topic := activeTopic(t, s)
	p := participant(t)

	first, err := s.Enqueue(ctx, p, topic)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := s.Enqueue(ctx, p, topic)
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second enqueue created a new entry: %s != %s", second.ID, first.ID)
	}

	depth, err := s.QueueDepth(ctx)
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	if depth != 1 {
		t.Errorf("queue depth = %d, want 1", depth)
	}
}

func TestEnqueuePublishesOnlyOnInsert(t *testing.T) {
	s, _, memBus := newTestStore(t)
	ctx := context.Background()
	topic := activeTopic(t, s)
	p := participant(t)

	subscription, err := memBus.Subscribe(bus.QueueScope())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer subscription.Cancel()

	entry, err := s.Enqueue(ctx, p, topic)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	event := testutil.RequireReceive(t, subscription.C(), 2*time.Second, "insert event")
	if event.Kind != bus.KindQueueEntryInserted || event.Entry != entry.ID {
		t.Errorf("unexpected event %+v", event)
	}

	if _, err := s.Enqueue(ctx, p, topic); err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	select {
	case extra := <-subscription.C():
		t.Errorf("duplicate enqueue published %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOldestWaitingExcludesSelf(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()
	topic := activeTopic(t, s)
	alone := participant(t)

	entry, err := s.Enqueue(ctx, alone, topic)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// The only waiting entry is the caller's own: no candidate.
	if _, found, err := s.OldestWaiting(ctx, topic, alone); err != nil {
		t.Fatalf("OldestWaiting: %v", err)
	} else if found {
		t.Fatal("participant offered their own entry as a candidate")
	}

	fake.Advance(time.Second)
	other := participant(t)
	if _, err := s.Enqueue(ctx, other, topic); err != nil {
		t.Fatalf("Enqueue other: %v", err)
	}

	candidate, found, err := s.OldestWaiting(ctx, topic, other)
	if err != nil {
		t.Fatalf("OldestWaiting: %v", err)
	}
	if !found || candidate.ID != entry.ID {
		t.Errorf("candidate = %+v (found=%v), want entry %s", candidate, found, entry.ID)
	}
}

func TestWaitingAheadCountsOlderEntries(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()
	topic := activeTopic(t, s)

	var last QueueEntry
	for i := 0; i < 3; i++ {
		entry, err := s.Enqueue(ctx, participant(t), topic)
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
		last = entry
		fake.Advance(time.Second)
	}

	ahead, err := s.WaitingAhead(ctx, last.ID)
	if err != nil {
		t.Fatalf("WaitingAhead: %v", err)
	}
	if ahead != 2 {
		t.Errorf("WaitingAhead = %d, want 2", ahead)
	}
}

func TestTryRemovePairAllOrNothing(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	topic := activeTopic(t, s)

	a, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	b, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}

	claimed, err := s.TryRemovePair(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("TryRemovePair: %v", err)
	}
	if !claimed {
		t.Fatal("claim of two waiting entries failed")
	}

	// Second claim sees nothing: both rows are gone.
	claimed, err = s.TryRemovePair(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("TryRemovePair again: %v", err)
	}
	if claimed {
		t.Fatal("claim succeeded twice for the same pair")
	}
}

func TestTryRemovePairLeavesSurvivorWhenOneIsGone(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	topic := activeTopic(t, s)

	a, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	b, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}
	if err := s.Withdraw(ctx, b.ID); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	claimed, err := s.TryRemovePair(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("TryRemovePair: %v", err)
	}
	if claimed {
		t.Fatal("claim succeeded with one entry withdrawn")
	}

	// The surviving entry must still be matchable.
	if _, err := s.Entry(ctx, a.ID); err != nil {
		t.Errorf("survivor entry gone after failed claim: %v", err)
	}
}

func TestTryRemovePairConcurrentClaimers(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	topic := activeTopic(t, s)

	a, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	b, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}

	const claimers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.TryRemovePair(ctx, a.ID, b.ID)
			if err != nil {
				t.Errorf("TryRemovePair: %v", err)
				return
			}
			wins <- claimed
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for claimed := range wins {
		if claimed {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("%d concurrent claimers won, want exactly 1", winners)
	}
}

func TestMatchPairCreatesSessionWithWaitingSideAsInitiator(t *testing.T) {
	s, fake, memBus := newTestStore(t)
	ctx := context.Background()
	topic := activeTopic(t, s)

	waiting, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue waiting: %v", err)
	}
	fake.Advance(time.Second)
	joining, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue joining: %v", err)
	}

	subscription, err := memBus.Subscribe(bus.MatchScope())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer subscription.Cancel()

	session, matched, err := s.MatchPair(ctx, waiting, joining)
	if err != nil {
		t.Fatalf("MatchPair: %v", err)
	}
	if !matched {
		t.Fatal("match of two waiting entries failed")
	}
	if session.ParticipantA != waiting.Participant {
		t.Errorf("initiator = %s, want already-waiting %s", session.ParticipantA, waiting.Participant)
	}
	if session.ParticipantB != joining.Participant {
		t.Errorf("participant b = %s, want %s", session.ParticipantB, joining.Participant)
	}
	if session.Status != SessionActive {
		t.Errorf("status = %s, want active", session.Status)
	}
	if session.Room.IsZero() {
		t.Error("session has no room")
	}

	for _, id := range []ident.EntryID{waiting.ID, joining.ID} {
		if _, err := s.Entry(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("entry %s still present after match: %v", id, err)
		}
	}

	event := testutil.RequireReceive(t, subscription.C(), 2*time.Second, "match event")
	if event.Kind != bus.KindSessionCreated || event.Session != session.ID {
		t.Errorf("unexpected event %+v", event)
	}
}

func TestMatchPairLosesRaceCleanly(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	topic := activeTopic(t, s)

	waiting, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue waiting: %v", err)
	}
	joining, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue joining: %v", err)
	}
	if err := s.Withdraw(ctx, waiting.ID); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	_, matched, err := s.MatchPair(ctx, waiting, joining)
	if err != nil {
		t.Fatalf("MatchPair: %v", err)
	}
	if matched {
		t.Fatal("match committed against a withdrawn entry")
	}
	if _, err := s.ActiveSessionFor(ctx, joining.Participant); !errors.Is(err, ErrNotFound) {
		t.Errorf("phantom session after lost race: %v", err)
	}
}

func TestMatchPairRejectsSelfPairing(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	topic := activeTopic(t, s)
	p := participant(t)

	entry, err := s.Enqueue(ctx, p, topic)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	same := entry
	same.ID = ident.NewEntryID()
	if _, _, err := s.MatchPair(ctx, entry, same); err == nil {
		t.Fatal("self-pairing accepted")
	}
}

func TestHeartbeatAndSweep(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()
	topic := activeTopic(t, s)

	stale, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue stale: %v", err)
	}
	fresh, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue fresh: %v", err)
	}

	fake.Advance(45 * time.Second)
	if err := s.Heartbeat(ctx, fresh.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	swept, err := s.SweepStale(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept %d entries, want 1", swept)
	}
	if _, err := s.Entry(ctx, stale.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale entry survived sweep: %v", err)
	}
	if _, err := s.Entry(ctx, fresh.ID); err != nil {
		t.Errorf("fresh entry swept: %v", err)
	}

	if err := s.Heartbeat(ctx, stale.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("heartbeat on swept entry: %v, want ErrNotFound", err)
	}
}

func matchedSession(t *testing.T, s *Store, fake *clock.FakeClock, topic ident.TopicID) DebateSession {
	t.Helper()
	ctx := context.Background()
	waiting, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue waiting: %v", err)
	}
	fake.Advance(time.Millisecond)
	joining, err := s.Enqueue(ctx, participant(t), topic)
	if err != nil {
		t.Fatalf("Enqueue joining: %v", err)
	}
	session, matched, err := s.MatchPair(ctx, waiting, joining)
	if err != nil || !matched {
		t.Fatalf("MatchPair: matched=%v err=%v", matched, err)
	}
	return session
}

func TestEndSessionComputesClampedDuration(t *testing.T) {
	s, fake, memBus := newTestStore(t)
	ctx := context.Background()
	session := matchedSession(t, s, fake, activeTopic(t, s))

	subscription, err := memBus.Subscribe(bus.SessionScope(session.ID))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer subscription.Cancel()

	fake.Advance(90 * time.Second)
	ended, changed, err := s.EndSession(ctx, session.ID, 15*time.Minute)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if !changed {
		t.Fatal("EndSession reported no transition on an active session")
	}
	if ended.Status != SessionEnded {
		t.Errorf("status = %s, want ended", ended.Status)
	}
	if ended.Duration != 90*time.Second {
		t.Errorf("duration = %s, want 90s", ended.Duration)
	}

	event := testutil.RequireReceive(t, subscription.C(), 2*time.Second, "termination event")
	if event.Kind != bus.KindSessionTerminated {
		t.Errorf("event kind = %s, want termination", event.Kind)
	}

	// Second end converges on the same row without a new transition.
	again, changed, err := s.EndSession(ctx, session.ID, 15*time.Minute)
	if err != nil {
		t.Fatalf("EndSession again: %v", err)
	}
	if changed {
		t.Error("EndSession transitioned twice")
	}
	if again.EndedAt != ended.EndedAt {
		t.Errorf("ended_at moved on repeat end: %s != %s", again.EndedAt, ended.EndedAt)
	}
}

func TestEndSessionCapsDurationAtTimeBox(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()
	topic := activeTopic(t, s)

	// A termination arriving long after the deadline (watchdog
	// downtime, a stale client hanging up) records the time box, not
	// the elapsed wall time.
	overdue := matchedSession(t, s, fake, topic)
	fake.Advance(2 * time.Hour)
	ended, _, err := s.EndSession(ctx, overdue.ID, 15*time.Minute)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if ended.Duration != 15*time.Minute {
		t.Errorf("duration = %s, want capped at 15m", ended.Duration)
	}

	// The report path applies the same cap when it ends the session.
	reported := matchedSession(t, s, fake, topic)
	fake.Advance(time.Hour)
	if _, err := s.ReportSession(ctx, reported.ID, reported.ParticipantA, "went on forever", 15*time.Minute); err != nil {
		t.Fatalf("ReportSession: %v", err)
	}
	got, err := s.Session(ctx, reported.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Duration != 15*time.Minute {
		t.Errorf("reported duration = %s, want capped at 15m", got.Duration)
	}
}

func TestReportSessionTerminatesAndIsIdempotent(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()
	session := matchedSession(t, s, fake, activeTopic(t, s))

	report, err := s.ReportSession(ctx, session.ID, session.ParticipantA, "abusive conduct", 15*time.Minute)
	if err != nil {
		t.Fatalf("ReportSession: %v", err)
	}
	if report.Reported != session.ParticipantB {
		t.Errorf("reported = %s, want counterpart %s", report.Reported, session.ParticipantB)
	}

	got, err := s.Session(ctx, session.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Status != SessionReported {
		t.Errorf("status = %s, want reported", got.Status)
	}

	repeat, err := s.ReportSession(ctx, session.ID, session.ParticipantA, "second reason", 15*time.Minute)
	if err != nil {
		t.Fatalf("ReportSession repeat: %v", err)
	}
	if repeat.ID != report.ID {
		t.Errorf("repeat report created a new row: %s != %s", repeat.ID, report.ID)
	}

	outsider := participant(t)
	if _, err := s.ReportSession(ctx, session.ID, outsider, "reason", 15*time.Minute); err == nil {
		t.Fatal("report by a non-participant accepted")
	}
}

func TestReportUpgradesEndedSession(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()
	session := matchedSession(t, s, fake, activeTopic(t, s))

	if _, _, err := s.EndSession(ctx, session.ID, 15*time.Minute); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := s.ReportSession(ctx, session.ID, session.ParticipantB, "late report", 15*time.Minute); err != nil {
		t.Fatalf("ReportSession: %v", err)
	}
	got, err := s.Session(ctx, session.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Status != SessionReported {
		t.Errorf("status = %s, want reported", got.Status)
	}
}

func TestAppendMessageOrdersBySeq(t *testing.T) {
	s, fake, memBus := newTestStore(t)
	ctx := context.Background()
	session := matchedSession(t, s, fake, activeTopic(t, s))

	subscription, err := memBus.Subscribe(bus.SessionScope(session.ID))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer subscription.Cancel()

	first, err := s.AppendMessage(ctx, session.ID, session.ParticipantA, "opening statement")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	second, err := s.AppendMessage(ctx, session.ID, session.ParticipantB, "rebuttal")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if second.Seq <= first.Seq {
		t.Errorf("seq not monotone: %d then %d", first.Seq, second.Seq)
	}

	event := testutil.RequireReceive(t, subscription.C(), 2*time.Second, "append event")
	if event.Kind != bus.KindMessageAppended || event.Seq != first.Seq {
		t.Errorf("unexpected event %+v", event)
	}

	tail, err := s.Messages(ctx, session.ID, first.Seq)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(tail) != 1 || tail[0].ID != second.ID {
		t.Errorf("tail after seq %d = %+v, want just %s", first.Seq, tail, second.ID)
	}
}

func TestAppendMessageRejectsClosedSessionAndOutsiders(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()
	session := matchedSession(t, s, fake, activeTopic(t, s))

	if _, err := s.AppendMessage(ctx, session.ID, participant(t), "hello"); err == nil {
		t.Fatal("append by non-participant accepted")
	}

	if _, _, err := s.EndSession(ctx, session.ID, 15*time.Minute); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	_, err := s.AppendMessage(ctx, session.ID, session.ParticipantA, "too late")
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("append after end: %v, want ErrSessionClosed", err)
	}
}

func TestSetActiveTopicSwapsAtomically(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.ActiveTopic(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ActiveTopic before any set: %v, want ErrNotFound", err)
	}

	first, err := s.SetActiveTopic(ctx, "first prompt", "admin")
	if err != nil {
		t.Fatalf("SetActiveTopic: %v", err)
	}
	second, err := s.SetActiveTopic(ctx, "second prompt", "admin")
	if err != nil {
		t.Fatalf("SetActiveTopic again: %v", err)
	}

	active, err := s.ActiveTopic(ctx)
	if err != nil {
		t.Fatalf("ActiveTopic: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active topic = %s, want %s", active.ID, second.ID)
	}

	old, err := s.Topic(ctx, first.ID)
	if err != nil {
		t.Fatalf("Topic: %v", err)
	}
	if old.Active {
		t.Error("previous topic still marked active")
	}
}

func TestArchiveRoundTripAndMessageCleanup(t *testing.T) {
	s, fake, _ := newTestStore(t)
	ctx := context.Background()
	session := matchedSession(t, s, fake, activeTopic(t, s))

	bodies := []string{"opening statement", "rebuttal", "closing"}
	senders := []ident.ParticipantID{session.ParticipantA, session.ParticipantB, session.ParticipantA}
	for i, body := range bodies {
		if _, err := s.AppendMessage(ctx, session.ID, senders[i], body); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	if err := s.ArchiveSession(ctx, session.ID); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("archive of active session: %v, want ErrNotTerminal", err)
	}

	fake.Advance(time.Minute)
	if _, _, err := s.EndSession(ctx, session.ID, 15*time.Minute); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := s.ArchiveSession(ctx, session.ID); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}
	// Archiving twice is a no-op.
	if err := s.ArchiveSession(ctx, session.ID); err != nil {
		t.Fatalf("ArchiveSession repeat: %v", err)
	}

	count, err := s.MessageCount(ctx, session.ID)
	if err != nil {
		t.Fatalf("MessageCount: %v", err)
	}
	if count != 0 {
		t.Errorf("%d live messages remain after archive", count)
	}

	archive, err := s.ReadArchive(ctx, session.ID)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if archive.Session.ID != session.ID || archive.Session.Status != SessionEnded {
		t.Errorf("archived session = %+v", archive.Session)
	}
	if len(archive.Messages) != len(bodies) {
		t.Fatalf("archived %d messages, want %d", len(archive.Messages), len(bodies))
	}
	for i, message := range archive.Messages {
		if message.Body != bodies[i] {
			t.Errorf("message %d body = %q, want %q", i, message.Body, bodies[i])
		}
		if i > 0 && message.Seq <= archive.Messages[i-1].Seq {
			t.Errorf("archive order broken at %d", i)
		}
	}
}
