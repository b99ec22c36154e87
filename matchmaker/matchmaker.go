// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crossfire-live/crossfire/bus"
	"github.com/crossfire-live/crossfire/lib/clock"
	"github.com/crossfire-live/crossfire/lib/ident"
	"github.com/crossfire-live/crossfire/store"
)

// ErrNoActiveTopic reports a queue join while no debate topic is
// active.
var ErrNoActiveTopic = errors.New("matchmaker: no active topic")

// ErrEntryGone reports that a waiting entry disappeared without a
// session: it was withdrawn elsewhere or swept as stale.
var ErrEntryGone = errors.New("matchmaker: entry gone")

// Config holds the parameters for a Matchmaker.
type Config struct {
	// Store is the durable queue and session layer. Required.
	Store *store.Store

	// Bus wakes waiters when entries and matches appear. Required.
	Bus bus.Bus

	// Clock drives heartbeats and the fallback poll. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger

	// HeartbeatInterval is how often a waiter refreshes its entry.
	// Zero means 10 seconds. Must stay well under the server's stale
	// sweep age.
	HeartbeatInterval time.Duration

	// PollInterval is the fallback re-check period for waiters that
	// miss a bus event. Zero means 2 seconds.
	PollInterval time.Duration
}

// Matchmaker pairs participants. Safe for concurrent use.
type Matchmaker struct {
	store     *store.Store
	bus       bus.Bus
	clock     clock.Clock
	logger    *slog.Logger
	heartbeat time.Duration
	poll      time.Duration
}

// New validates the configuration and builds a Matchmaker.
func New(cfg Config) (*Matchmaker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("matchmaker: Store is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("matchmaker: Bus is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("matchmaker: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("matchmaker: Logger is required")
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Matchmaker{
		store:     cfg.Store,
		bus:       cfg.Bus,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		heartbeat: cfg.HeartbeatInterval,
		poll:      cfg.PollInterval,
	}, nil
}

// Outcome is the result of entering the queue: either an immediate
// match or a waiting entry with its queue position.
type Outcome struct {
	Matched  bool
	Session  store.DebateSession
	Entry    store.QueueEntry
	Position int
}

// Enter puts the participant in the queue under the active topic and
// makes one immediate claim attempt. Most pairs form here: the second
// participant of a quiet queue matches synchronously, without waiting
// for an event round trip.
func (m *Matchmaker) Enter(ctx context.Context, participant ident.ParticipantID) (Outcome, error) {
	topic, err := m.store.ActiveTopic(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{}, ErrNoActiveTopic
	}
	if err != nil {
		return Outcome{}, err
	}

	entry, err := m.store.Enqueue(ctx, participant, topic.ID)
	if err != nil {
		return Outcome{}, err
	}

	session, matched, err := m.tryClaim(ctx, entry)
	if err != nil {
		return Outcome{}, err
	}
	if matched {
		return Outcome{Matched: true, Session: session, Entry: entry}, nil
	}

	position, err := m.store.WaitingAhead(ctx, entry.ID)
	if errors.Is(err, store.ErrNotFound) {
		// Claimed between our attempt and the position query. The
		// session lookup resolves it.
		return m.resolveVanished(ctx, entry)
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Entry: entry, Position: position}, nil
}

// Await blocks until the entry is matched into a session, the entry
// disappears without one (ErrEntryGone), or the context is canceled.
// Cancellation withdraws the entry; if a match committed first, the
// match wins and the session is returned.
func (m *Matchmaker) Await(ctx context.Context, entry store.QueueEntry) (store.DebateSession, error) {
	queueSub, err := m.bus.Subscribe(bus.QueueScope())
	if err != nil {
		return store.DebateSession{}, fmt.Errorf("matchmaker: subscribe queue: %w", err)
	}
	defer queueSub.Cancel()
	matchSub, err := m.bus.Subscribe(bus.MatchScope())
	if err != nil {
		return store.DebateSession{}, fmt.Errorf("matchmaker: subscribe matches: %w", err)
	}
	defer matchSub.Cancel()

	heartbeat := m.clock.NewTicker(m.heartbeat)
	defer heartbeat.Stop()
	poll := m.clock.NewTicker(m.poll)
	defer poll.Stop()

	for {
		session, done, err := m.step(ctx, entry)
		if err != nil || done {
			return session, err
		}

		select {
		case <-ctx.Done():
			// The withdraw races a concurrent claim. If the claim
			// won, the entry is already gone, the withdraw is a
			// no-op, and the session exists; report it rather than
			// abandoning a matched counterpart.
			withdrawCtx := context.WithoutCancel(ctx)
			if err := m.store.Withdraw(withdrawCtx, entry.ID); err != nil {
				m.logger.Warn("withdraw on cancel failed",
					"entry", entry.ID, "error", err)
			}
			if session, err := m.store.ActiveSessionFor(withdrawCtx, entry.Participant); err == nil {
				return session, nil
			}
			return store.DebateSession{}, ctx.Err()
		case <-queueSub.C():
		case <-matchSub.C():
		case <-poll.C:
		case <-heartbeat.C:
			err := m.store.Heartbeat(ctx, entry.ID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				m.logger.Warn("heartbeat failed", "entry", entry.ID, "error", err)
			}
		}
	}
}

// step makes one matching attempt: resolve a vanished entry to its
// session, or try to claim a counterpart. done is true when Await
// should return.
func (m *Matchmaker) step(ctx context.Context, entry store.QueueEntry) (store.DebateSession, bool, error) {
	_, err := m.store.Entry(ctx, entry.ID)
	if errors.Is(err, store.ErrNotFound) {
		session, err := m.store.ActiveSessionFor(ctx, entry.Participant)
		if errors.Is(err, store.ErrNotFound) {
			return store.DebateSession{}, true, ErrEntryGone
		}
		if err != nil {
			return store.DebateSession{}, true, err
		}
		return session, true, nil
	}
	if err != nil {
		return store.DebateSession{}, true, err
	}

	session, matched, err := m.tryClaim(ctx, entry)
	if err != nil {
		return store.DebateSession{}, true, err
	}
	return session, matched, nil
}

// tryClaim finds the oldest other waiting entry for the same topic
// and attempts the pair claim. The entry that joined earlier becomes
// the session's ParticipantA, which fixes the signaling initiator
// role identically on both sides of any race.
func (m *Matchmaker) tryClaim(ctx context.Context, entry store.QueueEntry) (store.DebateSession, bool, error) {
	candidate, found, err := m.store.OldestWaiting(ctx, entry.Topic, entry.Participant)
	if err != nil {
		return store.DebateSession{}, false, err
	}
	if !found {
		return store.DebateSession{}, false, nil
	}

	older, newer := candidate, entry
	if entryBefore(entry, candidate) {
		older, newer = entry, candidate
	}
	session, matched, err := m.store.MatchPair(ctx, older, newer)
	if err != nil {
		return store.DebateSession{}, false, err
	}
	if !matched {
		// Lost the claim race. The winner's commit shows up through
		// the entry-vanished path or the next candidate scan.
		return store.DebateSession{}, false, nil
	}
	return session, true, nil
}

// State classifies a polled queue entry.
type State string

const (
	StateWaiting State = "waiting"
	StateMatched State = "matched"
	StateGone    State = "gone"
)

// Status is the poll answer for a queue entry.
type Status struct {
	State    State
	Position int
	Session  store.DebateSession
}

// Resolve answers a poll about an entry: waiting with its position,
// matched with its session, or gone. A claim is attempted first, so
// clients that never hold a connection open are matched by their own
// polls. Each poll also counts as a heartbeat.
func (m *Matchmaker) Resolve(ctx context.Context, entryID ident.EntryID, participant ident.ParticipantID) (Status, error) {
	entry, err := m.store.Entry(ctx, entryID)
	if errors.Is(err, store.ErrNotFound) {
		session, err := m.store.ActiveSessionFor(ctx, participant)
		if errors.Is(err, store.ErrNotFound) {
			return Status{State: StateGone}, nil
		}
		if err != nil {
			return Status{}, err
		}
		return Status{State: StateMatched, Session: session}, nil
	}
	if err != nil {
		return Status{}, err
	}
	if entry.Participant != participant {
		return Status{}, fmt.Errorf("matchmaker: entry %s does not belong to %s", entryID, participant)
	}

	if err := m.store.Heartbeat(ctx, entry.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Status{}, err
	}

	session, matched, err := m.tryClaim(ctx, entry)
	if err != nil {
		return Status{}, err
	}
	if matched {
		return Status{State: StateMatched, Session: session}, nil
	}

	position, err := m.store.WaitingAhead(ctx, entry.ID)
	if errors.Is(err, store.ErrNotFound) {
		outcome, err := m.resolveVanished(ctx, entry)
		if err != nil {
			return Status{}, err
		}
		if outcome.Matched {
			return Status{State: StateMatched, Session: outcome.Session}, nil
		}
		return Status{State: StateGone}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{State: StateWaiting, Position: position}, nil
}

// Withdraw removes the participant's entry from the queue.
func (m *Matchmaker) Withdraw(ctx context.Context, entryID ident.EntryID) error {
	return m.store.Withdraw(ctx, entryID)
}

// resolveVanished handles an entry that disappeared mid-operation:
// matched if the participant now has an active session, gone
// otherwise.
func (m *Matchmaker) resolveVanished(ctx context.Context, entry store.QueueEntry) (Outcome, error) {
	session, err := m.store.ActiveSessionFor(ctx, entry.Participant)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{}, ErrEntryGone
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Matched: true, Session: session, Entry: entry}, nil
}

// entryBefore orders entries the way the queue does: joined_at, then
// id as the tiebreak.
func entryBefore(a, b store.QueueEntry) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.ID.String() < b.ID.String()
}
