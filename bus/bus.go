// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"sync"
	"time"

	"github.com/crossfire-live/crossfire/lib/ident"
)

// Kind discriminates event payloads.
type Kind string

const (
	// KindQueueEntryInserted announces a new waiting queue entry.
	// Published on [QueueScope].
	KindQueueEntryInserted Kind = "queue-entry-inserted"

	// KindSessionCreated announces a freshly matched session.
	// Published on [MatchScope].
	KindSessionCreated Kind = "session-created"

	// KindMessageAppended announces a new message on a session
	// channel. Published on the session's scope.
	KindMessageAppended Kind = "message-appended"

	// KindSessionTerminated announces that a session left the active
	// state. Published on the session's scope.
	KindSessionTerminated Kind = "session-terminated"
)

// Event is a notification about a single inserted or transitioned row.
// It carries identifiers and enough payload that message consumers do
// not need a round-trip per event; anything else is re-queried from
// the store, which remains the source of truth.
type Event struct {
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`

	// Queue entry fields (KindQueueEntryInserted).
	Entry       ident.EntryID       `json:"entry,omitempty"`
	Participant ident.ParticipantID `json:"participant,omitempty"`
	Topic       ident.TopicID       `json:"topic,omitempty"`

	// Session fields (KindSessionCreated, KindSessionTerminated).
	Session      ident.SessionID     `json:"session,omitempty"`
	ParticipantA ident.ParticipantID `json:"participant_a,omitempty"`
	ParticipantB ident.ParticipantID `json:"participant_b,omitempty"`

	// Message fields (KindMessageAppended). Sender is Participant.
	Message ident.MessageID `json:"message,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	Body    string          `json:"body,omitempty"`
}

// Scope names a notification channel. Subscribers receive only events
// published on the scope they subscribed to.
type Scope struct {
	key string
}

// QueueScope covers queue entry inserts across all topics. The
// matchmaker filters by topic itself; queue volume is low enough
// that per-topic scopes would buy nothing.
func QueueScope() Scope { return Scope{key: "queue"} }

// MatchScope covers session creations and terminations. Waiting
// participants subscribe here to learn they were claimed.
func MatchScope() Scope { return Scope{key: "matches"} }

// SessionScope covers one session's channel: message appends and the
// terminal transition.
func SessionScope(id ident.SessionID) Scope {
	return Scope{key: "session:" + id.String()}
}

// Key returns the scope's wire name (the Redis channel name).
func (s Scope) Key() string { return s.key }

// Bus publishes and subscribes insert notifications.
type Bus interface {
	// Publish delivers event to current subscribers of scope. It never
	// blocks on slow subscribers.
	Publish(ctx context.Context, scope Scope, event Event) error

	// Subscribe registers for events on scope. The caller must Cancel
	// the subscription when done.
	Subscribe(scope Scope) (*Subscription, error)

	// Close tears down the bus and cancels all subscriptions.
	Close() error
}

// Subscription is a cancellable event stream.
type Subscription struct {
	events    chan Event
	cancel    func()
	closeOnce sync.Once
}

// newSubscription is used by Bus implementations.
func newSubscription(buffer int, cancel func()) *Subscription {
	return &Subscription{
		events: make(chan Event, buffer),
		cancel: cancel,
	}
}

// closeEvents closes the event channel exactly once, regardless of
// whether Cancel or a bus shutdown gets there first.
func (s *Subscription) closeEvents() {
	s.closeOnce.Do(func() { close(s.events) })
}

// C returns the event channel. It is closed when the subscription is
// cancelled or the bus shuts down.
func (s *Subscription) C() <-chan Event { return s.events }

// Cancel unregisters the subscription and closes its channel.
// Idempotent.
func (s *Subscription) Cancel() { s.cancel() }
