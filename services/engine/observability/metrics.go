// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the debate engine.
//
// # Description
//
// Metrics cover the operations that matter for running debates:
//   - Turn counters (by transport, status)
//   - Turn latency histograms
//   - Model fallback counters (by primary and fallback model)
//   - Rate limit denials (by limiter tier)
//   - Judge verdict outcomes (by result)
//   - Active stream gauges
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "arena"

const engineSubsystem = "engine"

// EngineMetrics holds all Prometheus metrics for the debate engine.
// Initialize once at startup via InitMetrics().
type EngineMetrics struct {
	// TurnsTotal counts debate turns by transport and status.
	// Labels: transport (json, sse), status (success, error)
	TurnsTotal *prometheus.CounterVec

	// TurnDurationSeconds measures full turn latency including the
	// model call. Labels: transport (json, sse)
	TurnDurationSeconds *prometheus.HistogramVec

	// SessionsCreatedTotal counts new sessions by owner kind.
	// Labels: owner_kind (registered, anonymous)
	SessionsCreatedTotal *prometheus.CounterVec

	// FallbacksTotal counts model fallback hops.
	// Labels: from_model, to_model
	FallbacksTotal *prometheus.CounterVec

	// RateLimitDenialsTotal counts denied requests by limiter tier.
	// Labels: limiter (ip, identity, anon_daily)
	RateLimitDenialsTotal *prometheus.CounterVec

	// JudgeVerdictsTotal counts judge outcomes.
	// Labels: result (user, ai, draw, invalid, error)
	JudgeVerdictsTotal *prometheus.CounterVec

	// ActiveStreams tracks currently open SSE connections.
	ActiveStreams prometheus.Gauge

	// ClientDisconnectsTotal counts clients dropping mid-stream.
	ClientDisconnectsTotal prometheus.Counter

	// ErrorsTotal counts request failures by wire error code.
	// Labels: error_code
	ErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance. Initialized by InitMetrics().
var DefaultMetrics *EngineMetrics

// InitMetrics creates and registers all engine metrics.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *EngineMetrics {
	DefaultMetrics = &EngineMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "turns_total",
				Help:      "Total debate turns by transport and status",
			},
			[]string{"transport", "status"},
		),

		TurnDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Full turn latency in seconds including the model call",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"transport"},
		),

		SessionsCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "sessions_created_total",
				Help:      "Total sessions created by owner kind",
			},
			[]string{"owner_kind"},
		),

		FallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "model_fallbacks_total",
				Help:      "Total model fallback hops by source and target model",
			},
			[]string{"from_model", "to_model"},
		),

		RateLimitDenialsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "rate_limit_denials_total",
				Help:      "Total requests denied by rate limiting, by limiter tier",
			},
			[]string{"limiter"},
		),

		JudgeVerdictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "judge_verdicts_total",
				Help:      "Total judge outcomes by result",
			},
			[]string{"result"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open SSE connections",
			},
		),

		ClientDisconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "errors_total",
				Help:      "Total request failures by wire error code",
			},
			[]string{"error_code"},
		),
	}

	return DefaultMetrics
}

// Transport labels for turn metrics.
type Transport string

const (
	TransportJSON Transport = "json"
	TransportSSE  Transport = "sse"
)

// RecordTurn records a completed turn.
func (m *EngineMetrics) RecordTurn(transport Transport, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.TurnsTotal.WithLabelValues(string(transport), status).Inc()
	m.TurnDurationSeconds.WithLabelValues(string(transport)).Observe(seconds)
}

// RecordSessionCreated records a new session.
func (m *EngineMetrics) RecordSessionCreated(ownerKind string) {
	m.SessionsCreatedTotal.WithLabelValues(ownerKind).Inc()
}

// RecordFallback records one fallback hop between models.
func (m *EngineMetrics) RecordFallback(fromModel, toModel string) {
	m.FallbacksTotal.WithLabelValues(fromModel, toModel).Inc()
}

// RecordRateLimitDenial records a request refused by a limiter tier.
func (m *EngineMetrics) RecordRateLimitDenial(limiter string) {
	m.RateLimitDenialsTotal.WithLabelValues(limiter).Inc()
}

// RecordJudgeVerdict records a judge outcome. result is the winner
// value for valid verdicts, or "invalid"/"error" for failures.
func (m *EngineMetrics) RecordJudgeVerdict(result string) {
	m.JudgeVerdictsTotal.WithLabelValues(result).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *EngineMetrics) StreamStarted() {
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *EngineMetrics) StreamEnded() {
	m.ActiveStreams.Dec()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *EngineMetrics) RecordClientDisconnect() {
	m.ClientDisconnectsTotal.Inc()
}

// RecordError records a request failure by wire error code.
func (m *EngineMetrics) RecordError(code string) {
	m.ErrorsTotal.WithLabelValues(code).Inc()
}
