// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the agent.
//
// # Description
//
// This package implements Prometheus metrics for monitoring streaming chat
// operations. Metrics include:
//   - Request counters (by endpoint, status, error type)
//   - Intent classification counters (by resolved intent)
//   - SQL generation attempt counters (by outcome)
//   - Latency histograms (time to first token, query execution, stream duration)
//   - Active stream gauges
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "procast"

// Subsystem for chat pipeline metrics
const chatSubsystem = "chat"

// ChatMetrics holds all Prometheus metrics for streaming chat operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring pipeline
// performance and resource usage. Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - RequestsTotal: Counter of chat requests by endpoint and status
//   - IntentsTotal: Counter of classified intents by resolved intent
//   - SQLAttemptsTotal: Counter of SQL generation attempts by outcome
//   - QueryRowsReturned: Histogram of rows returned per executed query
//   - TimeToFirstTokenSeconds: Histogram of time to first streamed token
//   - QueryDurationSeconds: Histogram of database query execution time
//   - StreamDurationSeconds: Histogram of total stream duration
//   - ActiveStreams: Gauge of currently active streams
//   - ErrorsTotal: Counter of errors by type and endpoint
//   - ClientDisconnectsTotal: Counter of client disconnections mid-stream
//
// # Thread Safety
//
// All operations are thread-safe.
type ChatMetrics struct {
	// RequestsTotal counts chat requests by endpoint and status.
	// Labels: endpoint (chat_ndjson, chat_sse, chat_ws), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// IntentsTotal counts classified intents.
	// Labels: intent (db_query, general_info, clarify, friendly_chat)
	IntentsTotal *prometheus.CounterVec

	// SQLAttemptsTotal counts SQL generation attempts by outcome.
	// Labels: outcome (accepted, rejected, exhausted)
	SQLAttemptsTotal *prometheus.CounterVec

	// QueryRowsReturned measures rows returned per executed query.
	QueryRowsReturned prometheus.Histogram

	// TimeToFirstTokenSeconds measures latency to first streamed token.
	// Labels: endpoint
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// QueryDurationSeconds measures database query execution time.
	// Labels: status (success, error)
	QueryDurationSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by type and endpoint.
	// Labels: endpoint, error_code (classification_failed, validation_rejected, etc.)
	ErrorsTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections during streaming.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of ChatMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *ChatMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Outputs
//
//   - *ChatMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *ChatMetrics {
	DefaultMetrics = &ChatMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "requests_total",
				Help:      "Total number of chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		IntentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "intents_total",
				Help:      "Total classified intents by resolved intent",
			},
			[]string{"intent"},
		),

		SQLAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "sql_attempts_total",
				Help:      "Total SQL generation attempts by outcome",
			},
			[]string{"outcome"},
		),

		QueryRowsReturned: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "query_rows_returned",
				Help:      "Rows returned per executed query",
				Buckets:   []float64{0, 1, 10, 50, 100, 250, 500, 1000},
			},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		QueryDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "query_duration_seconds",
				Help:      "Database query execution time in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"status"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "errors_total",
				Help:      "Total chat pipeline errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeClassification indicates intent classification failure.
	ErrorCodeClassification ErrorCode = "classification_failed"

	// ErrorCodeSQLExhausted indicates all SQL generation attempts failed.
	ErrorCodeSQLExhausted ErrorCode = "sql_generation_exhausted"

	// ErrorCodeValidation indicates a generated query was rejected.
	ErrorCodeValidation ErrorCode = "validation_rejected"

	// ErrorCodeExecution indicates database query execution failure.
	ErrorCodeExecution ErrorCode = "execution_failed"

	// ErrorCodeTimeout indicates query execution timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeProtocol indicates a stream protocol violation.
	ErrorCodeProtocol ErrorCode = "stream_protocol_violation"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"

	// ErrorCodeBadRequest indicates a malformed or invalid request body.
	ErrorCodeBadRequest ErrorCode = "bad_request"
)

// =============================================================================
// SQL Attempt Outcomes
// =============================================================================

// SQL generation attempt outcomes for SQLAttemptsTotal.
const (
	SQLOutcomeAccepted  = "accepted"
	SQLOutcomeRejected  = "rejected"
	SQLOutcomeExhausted = "exhausted"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a chat endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointChatNDJSON is the primary NDJSON streaming endpoint.
	EndpointChatNDJSON Endpoint = "chat_ndjson"

	// EndpointChatSSE is the legacy SSE streaming endpoint.
	EndpointChatSSE Endpoint = "chat_sse"

	// EndpointChatWS is the WebSocket streaming endpoint.
	EndpointChatWS Endpoint = "chat_ws"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed chat request.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the request.
//   - success: Whether the request completed successfully.
func (m *ChatMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordIntent records a resolved intent classification.
//
// # Inputs
//
//   - intent: The classified intent label.
func (m *ChatMetrics) RecordIntent(intent string) {
	m.IntentsTotal.WithLabelValues(intent).Inc()
}

// RecordSQLAttempt records a SQL generation attempt outcome.
//
// # Inputs
//
//   - outcome: One of "accepted", "rejected", "exhausted".
func (m *ChatMetrics) RecordSQLAttempt(outcome string) {
	m.SQLAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordError records a pipeline error.
//
// # Inputs
//
//   - endpoint: The endpoint where the error occurred.
//   - code: The error type code.
func (m *ChatMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordQuery records an executed query's duration and row count.
//
// # Inputs
//
//   - seconds: Query execution time in seconds.
//   - rows: Number of rows returned.
//   - success: Whether the query completed successfully.
func (m *ChatMetrics) RecordQuery(seconds float64, rows int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.QueryDurationSeconds.WithLabelValues(status).Observe(seconds)
	if success {
		m.QueryRowsReturned.Observe(float64(rows))
	}
}

// StreamStarted increments the active streams gauge.
//
// # Inputs
//
//   - endpoint: The endpoint handling the stream.
func (m *ChatMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the stream.
func (m *ChatMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records the time to first token latency.
//
// # Inputs
//
//   - endpoint: The endpoint handling the stream.
//   - seconds: Time to first token in seconds.
func (m *ChatMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the stream.
//   - seconds: Total duration in seconds.
//   - success: Whether the stream completed successfully.
func (m *ChatMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

// RecordClientDisconnect increments the client disconnect counter.
//
// # Inputs
//
//   - endpoint: The endpoint where disconnect occurred.
func (m *ChatMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
