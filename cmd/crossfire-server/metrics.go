// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crossfire-live/crossfire/store"
)

// metrics holds the server's Prometheus instrumentation on its own
// registry, so tests can build servers without collector collisions.
type metrics struct {
	registry *prometheus.Registry

	queueJoins      prometheus.Counter
	sessionsStarted prometheus.Counter
	sessionsEnded   prometheus.Counter
	reportsFiled    prometheus.Counter
	matchLatency    prometheus.Histogram
	messagesByKind  *prometheus.CounterVec
	websocketOpen   prometheus.Gauge
}

func newMetrics(dataStore *store.Store) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		queueJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossfire_queue_joins_total",
			Help: "Queue join requests accepted.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossfire_sessions_started_total",
			Help: "Debate sessions created by matching.",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossfire_sessions_ended_total",
			Help: "Debate sessions terminated through this instance.",
		}),
		reportsFiled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossfire_reports_filed_total",
			Help: "Moderation reports recorded.",
		}),
		matchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crossfire_match_latency_seconds",
			Help:    "Time from joining the queue to being matched.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		messagesByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossfire_messages_total",
			Help: "Channel messages appended, by kind.",
		}, []string{"kind"}),
		websocketOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crossfire_websocket_connections",
			Help: "Open websocket session streams.",
		}),
	}

	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "crossfire_queue_depth",
		Help: "Waiting queue entries across all topics.",
	}, func() float64 {
		depth, err := dataStore.QueueDepth(context.Background())
		if err != nil {
			return 0
		}
		return float64(depth)
	})

	m.registry.MustRegister(
		m.queueJoins, m.sessionsStarted, m.sessionsEnded,
		m.reportsFiled, m.matchLatency, m.messagesByKind,
		m.websocketOpen, queueDepth,
	)
	return m
}

func (m *metrics) observeMatch(waitedFrom, matchedAt time.Time) {
	latency := matchedAt.Sub(waitedFrom)
	if latency < 0 {
		latency = 0
	}
	m.matchLatency.Observe(latency.Seconds())
}

func (m *metrics) httpHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
