// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crossfire-live/crossfire/bus"
	"github.com/crossfire-live/crossfire/lib/clock"
	"github.com/crossfire-live/crossfire/lib/ident"
	"github.com/crossfire-live/crossfire/matchmaker"
	"github.com/crossfire-live/crossfire/session"
	"github.com/crossfire-live/crossfire/signaling"
	"github.com/crossfire-live/crossfire/store"
)

// participantHeader carries the caller's opaque identity. Issuing and
// verifying these is the identity provider's job, not ours.
const participantHeader = "X-Participant-ID"

const adminHeader = "X-Admin-Key"

type serverConfig struct {
	store    *store.Store
	matcher  *matchmaker.Matchmaker
	sessions *session.Manager
	bus      bus.Bus
	clock    clock.Clock
	logger   *slog.Logger
	adminKey string
}

type server struct {
	store    *store.Store
	matcher  *matchmaker.Matchmaker
	sessions *session.Manager
	bus      bus.Bus
	clock    clock.Clock
	logger   *slog.Logger
	adminKey string
	metrics  *metrics
}

func newServer(cfg serverConfig) (*server, error) {
	if cfg.store == nil || cfg.matcher == nil || cfg.sessions == nil || cfg.bus == nil {
		return nil, fmt.Errorf("server: store, matcher, sessions, and bus are required")
	}
	if cfg.clock == nil {
		return nil, fmt.Errorf("server: clock is required")
	}
	if cfg.logger == nil {
		return nil, fmt.Errorf("server: logger is required")
	}
	return &server{
		store:    cfg.store,
		matcher:  cfg.matcher,
		sessions: cfg.sessions,
		bus:      cfg.bus,
		clock:    cfg.clock,
		logger:   cfg.logger,
		adminKey: cfg.adminKey,
		metrics:  newMetrics(cfg.store),
	}, nil
}

func (s *server) handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(s.metrics.httpHandler()))

	api := engine.Group("/api")
	api.GET("/topic", s.handleActiveTopic)

	authed := api.Group("", s.requireParticipant)
	authed.POST("/queue", s.handleQueueJoin)
	authed.GET("/queue/:entryID", s.handleQueuePoll)
	authed.POST("/queue/:entryID/heartbeat", s.handleQueueHeartbeat)
	authed.DELETE("/queue/:entryID", s.handleQueueWithdraw)
	authed.GET("/sessions/:id", s.handleSessionGet)
	authed.POST("/sessions/:id/end", s.handleSessionEnd)
	authed.POST("/sessions/:id/report", s.handleSessionReport)
	authed.GET("/sessions/:id/messages", s.handleMessageList)
	authed.POST("/sessions/:id/messages", s.handleMessageAppend)

	admin := api.Group("/admin", s.requireAdmin)
	admin.PUT("/topic", s.handleTopicPut)
	admin.GET("/reports", s.handleReportList)
	admin.POST("/reports/:id/resolve", s.handleReportResolve)

	engine.GET("/ws/sessions/:id", s.requireParticipant, s.handleSessionStream)
	return engine
}

const participantKey = "participant"

func (s *server) requireParticipant(c *gin.Context) {
	participant, err := ident.ParseParticipantID(c.GetHeader(participantHeader))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + participantHeader + " header"})
		return
	}
	c.Set(participantKey, participant)
	c.Next()
}

func participantFrom(c *gin.Context) ident.ParticipantID {
	return c.MustGet(participantKey).(ident.ParticipantID)
}

func (s *server) requireAdmin(c *gin.Context) {
	if s.adminKey == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin endpoints disabled"})
		return
	}
	if c.GetHeader(adminHeader) != s.adminKey {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "bad admin key"})
		return
	}
	c.Next()
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type sessionView struct {
	ID              string     `json:"id"`
	Room            string     `json:"room"`
	Topic           string     `json:"topic"`
	ParticipantA    string     `json:"participant_a"`
	ParticipantB    string     `json:"participant_b"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds,omitempty"`
}

func viewSession(session store.DebateSession) sessionView {
	view := sessionView{
		ID:              session.ID.String(),
		Room:            session.Room.String(),
		Topic:           session.Topic.String(),
		ParticipantA:    session.ParticipantA.String(),
		ParticipantB:    session.ParticipantB.String(),
		Status:          string(session.Status),
		StartedAt:       session.StartedAt,
		DurationSeconds: int64(session.Duration.Seconds()),
	}
	if !session.EndedAt.IsZero() {
		endedAt := session.EndedAt
		view.EndedAt = &endedAt
	}
	return view
}

type messageView struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

func viewMessage(message store.Message) messageView {
	return messageView{
		ID:        message.ID.String(),
		Sender:    message.Sender.String(),
		Body:      message.Body,
		Seq:       message.Seq,
		CreatedAt: message.CreatedAt,
	}
}

func (s *server) handleQueueJoin(c *gin.Context) {
	participant := participantFrom(c)
	outcome, err := s.matcher.Enter(c.Request.Context(), participant)
	if errors.Is(err, matchmaker.ErrNoActiveTopic) {
		c.JSON(http.StatusConflict, gin.H{"error": "no active topic"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	s.metrics.queueJoins.Inc()
	if outcome.Matched {
		s.metrics.sessionsStarted.Inc()
		s.metrics.observeMatch(outcome.Entry.JoinedAt, outcome.Session.StartedAt)
		c.JSON(http.StatusOK, gin.H{"status": "matched", "session": viewSession(outcome.Session)})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":   "waiting",
		"entry_id": outcome.Entry.ID.String(),
		"position": outcome.Position,
	})
}

func (s *server) handleQueuePoll(c *gin.Context) {
	participant := participantFrom(c)
	entryID, err := ident.ParseEntryID(c.Param("entryID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad entry id"})
		return
	}

	if entry, err := s.store.Entry(c.Request.Context(), entryID); err == nil && entry.Participant != participant {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your entry"})
		return
	}

	status, err := s.matcher.Resolve(c.Request.Context(), entryID, participant)
	if err != nil {
		s.fail(c, err)
		return
	}
	switch status.State {
	case matchmaker.StateMatched:
		c.JSON(http.StatusOK, gin.H{"status": "matched", "session": viewSession(status.Session)})
	case matchmaker.StateWaiting:
		c.JSON(http.StatusOK, gin.H{"status": "waiting", "position": status.Position})
	default:
		c.JSON(http.StatusGone, gin.H{"status": "gone"})
	}
}

func (s *server) handleQueueHeartbeat(c *gin.Context) {
	participant := participantFrom(c)
	entryID, err := ident.ParseEntryID(c.Param("entryID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad entry id"})
		return
	}
	entry, err := s.store.Entry(c.Request.Context(), entryID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusGone, gin.H{"status": "gone"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	if entry.Participant != participant {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your entry"})
		return
	}
	if err := s.store.Heartbeat(c.Request.Context(), entryID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleQueueWithdraw(c *gin.Context) {
	participant := participantFrom(c)
	entryID, err := ident.ParseEntryID(c.Param("entryID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad entry id"})
		return
	}

	entry, err := s.store.Entry(c.Request.Context(), entryID)
	if errors.Is(err, store.ErrNotFound) {
		// Already matched, withdrawn, or swept. Withdraw is
		// idempotent either way.
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	if entry.Participant != participant {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your entry"})
		return
	}
	if err := s.matcher.Withdraw(c.Request.Context(), entryID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// memberSession loads the session and enforces that the caller is one
// of its two participants. Writes the response on failure.
func (s *server) memberSession(c *gin.Context) (store.DebateSession, bool) {
	sessionID, err := ident.ParseSessionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad session id"})
		return store.DebateSession{}, false
	}
	debate, err := s.store.Session(c.Request.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return store.DebateSession{}, false
	}
	if err != nil {
		s.fail(c, err)
		return store.DebateSession{}, false
	}
	if !debate.Has(participantFrom(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a session participant"})
		return store.DebateSession{}, false
	}
	return debate, true
}

func (s *server) handleSessionGet(c *gin.Context) {
	debate, ok := s.memberSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewSession(debate))
}

func (s *server) handleSessionEnd(c *gin.Context) {
	debate, ok := s.memberSession(c)
	if !ok {
		return
	}
	wasActive := debate.Status == store.SessionActive
	ended, err := s.sessions.End(c.Request.Context(), debate.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if wasActive {
		s.metrics.sessionsEnded.Inc()
	}
	c.JSON(http.StatusOK, viewSession(ended))
}

func (s *server) handleSessionReport(c *gin.Context) {
	debate, ok := s.memberSession(c)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}

	report, err := s.sessions.Report(c.Request.Context(), debate.ID, participantFrom(c), body.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.reportsFiled.Inc()
	c.JSON(http.StatusCreated, gin.H{
		"report_id": report.ID.String(),
		"reported":  report.Reported.String(),
		"status":    string(report.Status),
	})
}

func (s *server) handleMessageList(c *gin.Context) {
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

	messages, err := s.store.Messages(c.Request.Context(), debate.ID, afterSeq)
	if err != nil {
		s.fail(c, err)
		return
	}
	// The REST transcript is for chat display; signaling frames stay
	// on the channel but never reach a renderer.
	views := make([]messageView, 0, len(messages))
	for _, message := range messages {
		if signaling.IsSignaling(message.Body) {
			continue
		}
		views = append(views, viewMessage(message))
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

func (s *server) handleMessageAppend(c *gin.Context) {
	debate, ok := s.memberSession(c)
	if !ok {
		return
	}
	var body struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body is required"})
		return
	}

	message, err := s.store.AppendMessage(c.Request.Context(), debate.ID, participantFrom(c), body.Body)
	if errors.Is(err, store.ErrSessionClosed) {
		c.JSON(http.StatusConflict, gin.H{"error": "session closed"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	kind := "chat"
	if signaling.IsSignaling(message.Body) {
		kind = "frame"
	}
	s.metrics.messagesByKind.WithLabelValues(kind).Inc()
	c.JSON(http.StatusCreated, viewMessage(message))
}

func (s *server) handleActiveTopic(c *gin.Context) {
	topic, err := s.store.ActiveTopic(c.Request.Context())
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active topic"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": topic.ID.String(), "text": topic.Text})
}

func (s *server) handleTopicPut(c *gin.Context) {
	var body struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	topic, err := s.store.SetActiveTopic(c.Request.Context(), body.Text, "admin")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": topic.ID.String(), "text": topic.Text})
}

func (s *server) handleReportList(c *gin.Context) {
	reports, err := s.store.PendingReports(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]gin.H, 0, len(reports))
	for _, report := range reports {
		views = append(views, gin.H{
			"id":         report.ID.String(),
			"session":    report.Session.String(),
			"reporter":   report.Reporter.String(),
			"reported":   report.Reported.String(),
			"reason":     report.Reason,
			"created_at": report.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"reports": views})
}

func (s *server) handleReportResolve(c *gin.Context) {
	reportID, err := ident.ParseReportID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad report id"})
		return
	}
	if err := s.store.ResolveReport(c.Request.Context(), reportID); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	} else if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail reports an internal error without leaking its details.
func (s *server) fail(c *gin.Context, err error) {
	s.logger.Error("request failed",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"error", err,
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
