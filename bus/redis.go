// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ Bus = (*RedisBus)(nil)

// RedisBus is a Bus backed by Redis PUBLISH/SUBSCRIBE, for multi-node
// deployments: a queue insert handled on one server node must reach a
// matchmaker waiting on another. Events travel as JSON on a channel
// named by the scope key.
//
// Redis pub/sub is fire-and-forget, which matches the Bus contract:
// at-least-once within a connected subscriber's lifetime, losses
// reconciled against the store.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger

	mu            sync.Mutex
	closed        bool
	subscriptions map[*Subscription]*redis.PubSub

	// background holds the pump goroutines so Close can wait for them.
	background sync.WaitGroup
}

// NewRedisBus creates a bus on an existing Redis client. The caller
// retains ownership of the client; Close does not close it.
func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RedisBus{
		client:        client,
		logger:        logger,
		subscriptions: make(map[*Subscription]*redis.PubSub),
	}
}

func (b *RedisBus) Publish(ctx context.Context, scope Scope, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, scope.key, payload).Err(); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", scope.key, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(scope Scope) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		subscription := newSubscription(0, func() {})
		subscription.closeEvents()
		return subscription, nil
	}

	pubsub := b.client.Subscribe(context.Background(), scope.key)

	var subscription *Subscription
	subscription = newSubscription(subscriptionBuffer, func() {
		b.mu.Lock()
		delete(b.subscriptions, subscription)
		b.mu.Unlock()
		// Closing the PubSub ends the pump goroutine, which closes
		// the event channel.
		pubsub.Close()
	})
	b.subscriptions[subscription] = pubsub

	b.background.Add(1)
	go b.pump(scope, pubsub, subscription)

	return subscription, nil
}

// pump forwards Redis messages into the subscription channel until
// the PubSub is closed.
func (b *RedisBus) pump(scope Scope, pubsub *redis.PubSub, subscription *Subscription) {
	defer b.background.Done()
	defer subscription.closeEvents()

	for message := range pubsub.Channel() {
		var event Event
		if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
			b.logger.Warn("bus: undecodable event",
				"scope", scope.key,
				"error", err,
			)
			continue
		}
		select {
		case subscription.events <- event:
		default:
			b.logger.Warn("bus event dropped",
				"scope", scope.key,
				"kind", event.Kind,
			)
		}
	}
}

// Close cancels all subscriptions and waits for their pumps to drain.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pubsubs := make([]*redis.PubSub, 0, len(b.subscriptions))
	for _, pubsub := range b.subscriptions {
		pubsubs = append(pubsubs, pubsub)
	}
	b.subscriptions = make(map[*Subscription]*redis.PubSub)
	b.mu.Unlock()

	for _, pubsub := range pubsubs {
		pubsub.Close()
	}
	b.background.Wait()
	return nil
}
