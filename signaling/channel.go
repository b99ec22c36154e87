// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/crossfire-live/crossfire/bus"
	"github.com/crossfire-live/crossfire/lib/ident"
	"github.com/crossfire-live/crossfire/store"
)

// ErrChannelClosed reports that the session channel terminated and no
// further inbound entries will arrive.
var ErrChannelClosed = errors.New("signaling: channel closed")

// Inbound is one received channel entry, frame or chat.
type Inbound struct {
	Sender ident.ParticipantID
	Seq    int64
	Body   string
}

// Channel carries channel entries between the two participants. Send
// appends; Receive blocks for the next entry in sequence order,
// including the caller's own appends. A single goroutine consumes
// Receive.
type Channel interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context) (Inbound, error)
}

// StoreChannel is the production Channel: appends go to the store,
// receives come from a per-session bus subscription reconciled
// against store catch-up queries. Bus drops cost a catch-up query,
// never a lost entry, because Receive re-reads everything past its
// cursor.
type StoreChannel struct {
	store        *store.Store
	session      ident.SessionID
	self         ident.ParticipantID
	subscription *bus.Subscription

	afterSeq int64
	pending  []store.Message
	closed   bool
}

var _ Channel = (*StoreChannel)(nil)

// NewStoreChannel subscribes to the session scope. Subscribing before
// the first catch-up query closes the gap where an append lands
// between query and subscribe.
func NewStoreChannel(s *store.Store, b bus.Bus, session ident.SessionID, self ident.ParticipantID) (*StoreChannel, error) {
	subscription, err := b.Subscribe(bus.SessionScope(session))
	if err != nil {
		return nil, fmt.Errorf("signaling: subscribe session %s: %w", session, err)
	}
	return &StoreChannel{
		store:        s,
		session:      session,
		self:         self,
		subscription: subscription,
	}, nil
}

// Send appends one body to the session channel as self.
func (c *StoreChannel) Send(ctx context.Context, body string) error {
	_, err := c.store.AppendMessage(ctx, c.session, c.self, body)
	return err
}

// Receive returns the next channel entry past the cursor, blocking
// until one arrives, the session terminates (ErrChannelClosed), or
// ctx is canceled.
func (c *StoreChannel) Receive(ctx context.Context) (Inbound, error) {
	for {
		if len(c.pending) > 0 {
			next := c.pending[0]
			c.pending = c.pending[1:]
			c.afterSeq = next.Seq
			return Inbound{Sender: next.Sender, Seq: next.Seq, Body: next.Body}, nil
		}
		messages, err := c.store.Messages(ctx, c.session, c.afterSeq)
		if err != nil {
			return Inbound{}, err
		}
		if len(messages) > 0 {
			c.pending = messages
			continue
		}
		// Everything committed so far has been drained; a closed
		// channel has nothing more coming.
		if c.closed {
			return Inbound{}, ErrChannelClosed
		}

		select {
		case <-ctx.Done():
			return Inbound{}, ctx.Err()
		case event, ok := <-c.subscription.C():
			if !ok {
				c.closed = true
				continue
			}
			if event.Kind == bus.KindSessionTerminated {
				// Drain whatever committed before termination, then
				// report closed.
				c.closed = true
			}
		}
	}
}

// Close cancels the subscription. Receive afterwards drains committed
// entries and then reports ErrChannelClosed.
func (c *StoreChannel) Close() {
	c.subscription.Cancel()
}
