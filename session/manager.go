// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crossfire-live/crossfire/bus"
	"github.com/crossfire-live/crossfire/lib/clock"
	"github.com/crossfire-live/crossfire/lib/ident"
	"github.com/crossfire-live/crossfire/store"
)

// Config holds the parameters for a Manager.
type Config struct {
	// Store is the durable session layer. Required.
	Store *store.Store

	// Bus announces terminations to watchers. Required.
	Bus bus.Bus

	// Clock drives expiry. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger

	// MaxDuration is the debate time box. A session that reaches it
	// is ended by the watchdog. Zero means 15 minutes.
	MaxDuration time.Duration
}

// Manager owns session lifecycle transitions. Safe for concurrent
// use.
type Manager struct {
	store       *store.Store
	bus         bus.Bus
	clock       clock.Clock
	logger      *slog.Logger
	maxDuration time.Duration
}

// New validates the configuration and builds a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session: Store is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("session: Bus is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("session: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("session: Logger is required")
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = 15 * time.Minute
	}
	return &Manager{
		store:       cfg.Store,
		bus:         cfg.Bus,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		maxDuration: cfg.MaxDuration,
	}, nil
}

// MaxDuration returns the configured debate time box.
func (m *Manager) MaxDuration() time.Duration { return m.maxDuration }

// End terminates the session and archives its channel. Ending an
// already terminal session returns the current record without error,
// so both participants can hang up without coordinating.
func (m *Manager) End(ctx context.Context, id ident.SessionID) (store.DebateSession, error) {
	session, _, err := m.store.EndSession(ctx, id, m.maxDuration)
	if err != nil {
		return store.DebateSession{}, err
	}
	if err := m.store.ArchiveSession(ctx, id); err != nil {
		// The termination committed; a failed archive is retried by
		// the next end call or left for operations, not surfaced to
		// the participant hanging up.
		m.logger.Warn("archive failed", "session", id, "error", err)
	}
	return session, nil
}

// Report files a moderation report from reporter against their
// counterpart and forces the session terminal.
func (m *Manager) Report(ctx context.Context, id ident.SessionID, reporter ident.ParticipantID, reason string) (store.Report, error) {
	report, err := m.store.ReportSession(ctx, id, reporter, reason, m.maxDuration)
	if err != nil {
		return store.Report{}, err
	}
	if err := m.store.ArchiveSession(ctx, id); err != nil {
		m.logger.Warn("archive failed", "session", id, "error", err)
	}
	return report, nil
}

// Watch ends the session when its time box expires. It returns when
// the session terminates for any reason or ctx is canceled. A manual
// end racing the timer is fine: the expiry end is then a no-op.
func (m *Manager) Watch(ctx context.Context, session store.DebateSession) error {
	subscription, err := m.bus.Subscribe(bus.SessionScope(session.ID))
	if err != nil {
		return fmt.Errorf("session: subscribe %s: %w", session.ID, err)
	}
	defer subscription.Cancel()

	deadline := session.StartedAt.Add(m.maxDuration)
	remaining := deadline.Sub(m.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	expiry := m.clock.After(remaining)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expiry:
			if _, err := m.End(ctx, session.ID); err != nil {
				return fmt.Errorf("session: expire %s: %w", session.ID, err)
			}
			m.logger.Info("session expired", "session", session.ID)
			return nil
		case event, ok := <-subscription.C():
			if !ok {
				return nil
			}
			if event.Kind == bus.KindSessionTerminated {
				return nil
			}
			// Bus delivery is best-effort; reconcile with the store
			// instead of trusting the event stream alone.
			current, err := m.store.Session(ctx, session.ID)
			if err != nil {
				return err
			}
			if current.Status.Terminal() {
				return nil
			}
		}
	}
}

// ExpireOverdue ends every active session past its time box. The
// server runs this on a ticker as a backstop for sessions whose Watch
// goroutine died with the process.
func (m *Manager) ExpireOverdue(ctx context.Context) (int, error) {
	sessions, err := m.store.ActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	now := m.clock.Now()
	expired := 0
	for _, session := range sessions {
		if now.Sub(session.StartedAt) < m.maxDuration {
			continue
		}
		if _, err := m.End(ctx, session.ID); err != nil {
			return expired, fmt.Errorf("session: expire %s: %w", session.ID, err)
		}
		expired++
	}
	if expired > 0 {
		m.logger.Info("overdue sessions expired", "count", expired)
	}
	return expired, nil
}
