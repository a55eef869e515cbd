// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	m.RecordTurn("query", "success")
	m.RecordAuthFailure("query")
	m.RecordRateLimited("noauth")
	m.ObserveSessionCreate("success", 10*time.Millisecond)
	m.ObserveConverse("success", 20*time.Millisecond)
	m.SocketOpened()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["vertexchat_conversation_turns_total"])
	assert.True(t, names["vertexchat_conversation_session_creates_total"])
	assert.True(t, names["vertexchat_conversation_call_duration_seconds"])
	assert.True(t, names["vertexchat_auth_failures_total"])
	assert.True(t, names["vertexchat_http_rate_limited_total"])
	assert.True(t, names["vertexchat_websocket_active_connections"])
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTurn("query", "success")
	m.RecordTurn("query", "success")
	m.RecordTurn("noauth", "create_error")
	m.ObserveSessionCreate("error", time.Millisecond)
	m.RecordAuthFailure("echo")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("query", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("noauth", "create_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionCreatesTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailuresTotal.WithLabelValues("echo")))
}

func TestMetrics_SocketGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SocketOpened()
	m.SocketOpened()
	m.SocketClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSockets))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTurn("query", "success")
		m.RecordAuthFailure("query")
		m.RecordRateLimited("noauth")
		m.ObserveSessionCreate("success", 0)
		m.ObserveConverse("success", 0)
		m.SocketOpened()
		m.SocketClosed()
	})
}
