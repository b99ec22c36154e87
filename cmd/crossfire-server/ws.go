// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/crossfire-live/crossfire/bus"
	"github.com/crossfire-live/crossfire/lib/ident"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Identity is the opaque participant header; origin policy is the
	// deployment's reverse proxy concern.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// streamEvent is one websocket payload: a channel message (frames and
// chat alike, the client's signaling machine needs both) or the
// session's termination.
type streamEvent struct {
	Type    string       `json:"type"` // "message" or "terminated"
	Message *messageView `json:"message,omitempty"`
	Status  string       `json:"status,omitempty"`
}

// handleSessionStream streams the session channel over a websocket:
// catch-up from after_seq, then live events. The subscription is
// taken before the catch-up query so nothing can fall between them.
func (s *server) handleSessionStream(c *gin.Context) {
	debate, ok := s.memberSession(c)
	if !ok {
		return
	}
	afterSeq := int64(0)
	if raw := c.Query("after_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad after_seq"})
			return
		}
		afterSeq = parsed
	}

	subscription, err := s.bus.Subscribe(bus.SessionScope(debate.ID))
	if err != nil {
		s.fail(c, err)
		return
	}
	defer subscription.Cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()
	s.metrics.websocketOpen.Inc()
	defer s.metrics.websocketOpen.Dec()

	// Reader goroutine: the client sends nothing meaningful, but the
	// read loop surfaces disconnects and answers pings.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	cursor, closed := afterSeq, false
	cursor, err = s.streamCatchUp(ctx, conn, debate.ID, cursor)
	if err != nil {
		return
	}
	if debate.Status.Terminal() {
		s.writeEvent(conn, streamEvent{Type: "terminated", Status: string(debate.Status)})
		return
	}

	pinger := s.clock.NewTicker(pingInterval)
	defer pinger.Stop()
	for !closed {
		select {
		case <-ctx.Done():
			return
		case <-pinger.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, open := <-subscription.C():
			if !open {
				return
			}
			switch event.Kind {
			case bus.KindMessageAppended:
				// The event is a hint; the store query fills in
				// anything a dropped event would have skipped.
				cursor, err = s.streamCatchUp(ctx, conn, debate.ID, cursor)
				if err != nil {
					return
				}
			case bus.KindSessionTerminated:
				// Drain messages that committed before termination.
				if cursor, err = s.streamCatchUp(ctx, conn, debate.ID, cursor); err != nil {
					return
				}
				s.writeEvent(conn, streamEvent{Type: "terminated", Status: event.Body})
				closed = true
			}
		}
	}
}

// streamCatchUp sends every channel entry past the cursor and returns
// the new cursor.
func (s *server) streamCatchUp(ctx context.Context, conn *websocket.Conn, sessionID ident.SessionID, cursor int64) (int64, error) {
	messages, err := s.store.Messages(ctx, sessionID, cursor)
	if err != nil {
		return cursor, err
	}
	for _, message := range messages {
		view := viewMessage(message)
		if err := s.writeEvent(conn, streamEvent{Type: "message", Message: &view}); err != nil {
			return cursor, err
		}
		cursor = message.Seq
	}
	return cursor, nil
}

func (s *server) writeEvent(conn *websocket.Conn, event streamEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(event)
}
