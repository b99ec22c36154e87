// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

// crossfire-server is the matchmaking and signaling relay for
// one-on-one video debates: an anonymous queue, a claim-based
// matcher, a per-session message channel that carries both chat and
// WebRTC signaling frames, and moderation endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crossfire-live/crossfire/bus"
	"github.com/crossfire-live/crossfire/lib/clock"
	"github.com/crossfire-live/crossfire/matchmaker"
	"github.com/crossfire-live/crossfire/session"
	"github.com/crossfire-live/crossfire/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "crossfire-server: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.logLevel(),
	}))
	systemClock := clock.Real()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus, closeBus, err := buildBus(cfg, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	dataStore, err := store.Open(store.Config{
		Path:   cfg.DatabasePath,
		Bus:    eventBus,
		Clock:  systemClock,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer dataStore.Close()

	queueMatcher, err := matchmaker.New(matchmaker.Config{
		Store:  dataStore,
		Bus:    eventBus,
		Clock:  systemClock,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	sessionManager, err := session.New(session.Config{
		Store:       dataStore,
		Bus:         eventBus,
		Clock:       systemClock,
		Logger:      logger,
		MaxDuration: cfg.MaxDebateDuration,
	})
	if err != nil {
		return err
	}

	srv, err := newServer(serverConfig{
		store:    dataStore,
		matcher:  queueMatcher,
		sessions: sessionManager,
		bus:      eventBus,
		clock:    systemClock,
		logger:   logger,
		adminKey: cfg.AdminKey,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrs := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Listen)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- err
			return
		}
		serveErrs <- nil
	}()

	go sweepLoop(ctx, dataStore, systemClock, cfg.StaleSweepInterval, cfg.StaleEntryAge, logger)
	go expiryLoop(ctx, sessionManager, systemClock, logger)

	select {
	case err := <-serveErrs:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-serveErrs
}

// buildBus picks the event bus: Redis when a URL is configured (so
// several server instances share one queue), in-process otherwise.
func buildBus(cfg Config, logger *slog.Logger) (bus.Bus, func(), error) {
	if cfg.RedisURL == "" {
		memoryBus := bus.NewMemoryBus(logger)
		return memoryBus, func() { memoryBus.Close() }, nil
	}

	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(options)
	redisBus := bus.NewRedisBus(client, logger)
	return redisBus, func() {
		redisBus.Close()
		client.Close()
	}, nil
}

// sweepLoop removes queue entries whose heartbeat went stale.
func sweepLoop(ctx context.Context, dataStore *store.Store, systemClock clock.Clock, interval, maxAge time.Duration, logger *slog.Logger) {
	ticker := systemClock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := dataStore.SweepStale(ctx, maxAge); err != nil && ctx.Err() == nil {
				logger.Warn("stale sweep failed", "error", err)
			}
		}
	}
}

// expiryLoop ends sessions past the debate time box.
func expiryLoop(ctx context.Context, manager *session.Manager, systemClock clock.Clock, logger *slog.Logger) {
	ticker := systemClock.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := manager.ExpireOverdue(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("expiry sweep failed", "error", err)
			}
		}
	}
}
