// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the backend.
//
// # Description
//
// Metrics cover the three places a turn can go wrong: authentication,
// session creation and the converse call. They are exposed on /metrics
// alongside the OpenTelemetry HTTP instruments.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "vertexchat"

const conversationSubsystem = "conversation"

// Metrics holds the backend's Prometheus collectors.
//
// # Fields
//
//   - TurnsTotal: turns by route and outcome (success, create_error, converse_error)
//   - SessionCreatesTotal: session creation attempts by outcome
//   - CallDurationSeconds: external call latency by operation and outcome
//   - AuthFailuresTotal: rejected requests by route
//   - RateLimitedTotal: requests rejected by the rate limiter, by route
//   - ActiveSockets: open websocket chat connections
type Metrics struct {
	TurnsTotal          *prometheus.CounterVec
	SessionCreatesTotal *prometheus.CounterVec
	CallDurationSeconds *prometheus.HistogramVec
	AuthFailuresTotal   *prometheus.CounterVec
	RateLimitedTotal    *prometheus.CounterVec
	ActiveSockets       prometheus.Gauge
}

// DefaultMetrics is the process-wide instance. Initialized by InitMetrics().
var DefaultMetrics *Metrics

// InitMetrics registers the metrics with the default Prometheus registry
// and stores them in DefaultMetrics.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *Metrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates and registers the metrics with reg.
//
// Tests pass a fresh prometheus.NewRegistry() to stay isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "turns_total",
				Help:      "Conversation turns by route and outcome",
			},
			[]string{"route", "outcome"},
		),
		SessionCreatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "session_creates_total",
				Help:      "Session creation attempts by outcome",
			},
			[]string{"outcome"},
		),
		CallDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "call_duration_seconds",
				Help:      "Latency of calls to the conversational search service",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "outcome"},
		),
		AuthFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "auth",
				Name:      "failures_total",
				Help:      "Requests rejected by authentication, by route",
			},
			[]string{"route"},
		),
		RateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter, by route",
			},
			[]string{"route"},
		),
		ActiveSockets: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "websocket",
				Name:      "active_connections",
				Help:      "Open websocket chat connections",
			},
		),
	}
}

// ObserveSessionCreate implements conversation.Observer.
func (m *Metrics) ObserveSessionCreate(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SessionCreatesTotal.WithLabelValues(outcome).Inc()
	m.CallDurationSeconds.WithLabelValues("create", outcome).Observe(elapsed.Seconds())
}

// ObserveConverse implements conversation.Observer.
func (m *Metrics) ObserveConverse(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CallDurationSeconds.WithLabelValues("converse", outcome).Observe(elapsed.Seconds())
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(route, outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(route, outcome).Inc()
}

// RecordAuthFailure counts a rejected request.
func (m *Metrics) RecordAuthFailure(route string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.WithLabelValues(route).Inc()
}

// RecordRateLimited counts a request rejected by the limiter.
func (m *Metrics) RecordRateLimited(route string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(route).Inc()
}

// SocketOpened increments the open connection gauge.
func (m *Metrics) SocketOpened() {
	if m == nil {
		return
	}
	m.ActiveSockets.Inc()
}

// SocketClosed decrements the open connection gauge.
func (m *Metrics) SocketClosed() {
	if m == nil {
		return
	}
	m.ActiveSockets.Dec()
}
