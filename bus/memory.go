// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// subscriptionBuffer is the per-subscriber channel capacity. A
// subscriber more than this many events behind starts losing them;
// consumers recover by re-querying the store.
const subscriptionBuffer = 64

// Compile-time interface check.
var _ Bus = (*MemoryBus)(nil)

// MemoryBus is an in-process Bus. It is the production path for
// single-node deployments and the test path everywhere.
type MemoryBus struct {
	logger *slog.Logger

	mu          sync.Mutex
	closed      bool
	subscribers map[string]map[*Subscription]struct{}
}

// NewMemoryBus creates an in-process bus. A nil logger discards.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MemoryBus{
		logger:      logger,
		subscribers: make(map[string]map[*Subscription]struct{}),
	}
}

func (b *MemoryBus) Publish(_ context.Context, scope Scope, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	for subscription := range b.subscribers[scope.key] {
		select {
		case subscription.events <- event:
		default:
			// Slow subscriber: drop rather than block the publisher.
			b.logger.Warn("bus event dropped",
				"scope", scope.key,
				"kind", event.Kind,
			)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(scope Scope) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		subscription := newSubscription(0, func() {})
		subscription.closeEvents()
		return subscription, nil
	}

	var subscription *Subscription
	subscription = newSubscription(subscriptionBuffer, func() {
		b.mu.Lock()
		if set, ok := b.subscribers[scope.key]; ok {
			delete(set, subscription)
			if len(set) == 0 {
				delete(b.subscribers, scope.key)
			}
		}
		b.mu.Unlock()
		subscription.closeEvents()
	})

	set, ok := b.subscribers[scope.key]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subscribers[scope.key] = set
	}
	set[subscription] = struct{}{}

	return subscription, nil
}

// Close cancels every subscription. Subsequent Publish calls are
// no-ops.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := b.subscribers
	b.subscribers = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()

	for _, set := range all {
		for subscription := range set {
			subscription.closeEvents()
		}
	}
	return nil
}
