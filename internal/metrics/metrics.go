// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

// Package metrics registers Gatewatch's Prometheus collectors on the
// default registry. Record* helpers keep label sets consistent between
// callers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Per-event scoring
	AssessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewatch_assessments_total",
			Help: "Risk assessments produced, by level",
		},
		[]string{"level"},
	)

	AssessmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatewatch_assessment_duration_seconds",
			Help:    "Time to gather evidence and score one event",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	AssessmentErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewatch_assessment_errors_total",
			Help: "Assessments that produced no verdict, by error kind",
		},
		[]string{"kind"}, // invalid_event, store_unavailable
	)

	RuleTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewatch_rule_triggers_total",
			Help: "Scoring rules that fired",
		},
		[]string{"rule"},
	)

	PredicateErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewatch_predicate_errors_total",
			Help: "Extension predicate failures; the rule contributes nothing",
		},
		[]string{"rule"},
	)

	// Aggregate sweeps
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewatch_sweeps_total",
			Help: "Sweep runs by outcome",
		},
		[]string{"outcome"}, // ok, partial, failed, skipped
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatewatch_sweep_duration_seconds",
			Help:    "Wall time of a sweep run",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewatch_sweep_events",
			Help: "Events read by the most recent sweep",
		},
	)

	SweepAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewatch_sweep_alerts_total",
			Help: "Alerts raised by sweeps, by kind",
		},
		[]string{"kind"},
	)

	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewatch_detector_errors_total",
			Help: "Sweep detectors that failed during a run",
		},
		[]string{"detector"},
	)

	SweepLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewatch_sweep_last_success_timestamp_seconds",
			Help: "Unix time of the last sweep without detector errors",
		},
	)

	// Delivery
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewatch_notifications_total",
			Help: "Alert deliveries by sink and outcome",
		},
		[]string{"sink", "outcome"}, // delivered, failed, filtered
	)

	// Storage
	StoreQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewatch_store_queries_total",
			Help: "History store operations by store, operation and outcome",
		},
		[]string{"store", "operation", "outcome"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatewatch_store_query_duration_seconds",
			Help:    "History store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatewatch_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewatch_circuit_breaker_transitions_total",
			Help: "Circuit breaker state changes",
		},
		[]string{"name", "from", "to"},
	)

	// Ingest
	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewatch_ingest_messages_total",
			Help: "Login events consumed from the bus, by outcome",
		},
		[]string{"outcome"}, // processed, poison, duplicate, failed
	)

	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewatch_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatewatch_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordAssessment records a produced verdict.
func RecordAssessment(level string, factors []string, d time.Duration) {
	AssessmentsTotal.WithLabelValues(level).Inc()
	AssessmentDuration.Observe(d.Seconds())
	for _, f := range factors {
		RuleTriggers.WithLabelValues(f).Inc()
	}
}

// RecordAssessmentError records an assessment that produced no verdict.
func RecordAssessmentError(kind string) {
	AssessmentErrors.WithLabelValues(kind).Inc()
}

// RecordSweep records a finished run. failed lists detectors that errored.
func RecordSweep(outcome string, d time.Duration, events int, alertKinds []string, failed []string) {
	SweepsTotal.WithLabelValues(outcome).Inc()
	SweepDuration.Observe(d.Seconds())
	SweepEvents.Set(float64(events))
	for _, k := range alertKinds {
		SweepAlerts.WithLabelValues(k).Inc()
	}
	for _, name := range failed {
		DetectorErrors.WithLabelValues(name).Inc()
	}
	if outcome == "success" {
		SweepLastSuccess.SetToCurrentTime()
	}
}

// RecordSweepSkipped records a run that did not start.
func RecordSweepSkipped() {
	SweepsTotal.WithLabelValues("skipped").Inc()
}

// RecordNotification records one delivery attempt.
func RecordNotification(sink string, err error) {
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	NotificationsTotal.WithLabelValues(sink, outcome).Inc()
}

// RecordNotificationFiltered records an alert a sink declined by severity.
func RecordNotificationFiltered(sink string) {
	NotificationsTotal.WithLabelValues(sink, "filtered").Inc()
}

// RecordStoreQuery records one store operation.
func RecordStoreQuery(store, operation string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StoreQueries.WithLabelValues(store, operation, outcome).Inc()
	StoreQueryDuration.WithLabelValues(store, operation).Observe(d.Seconds())
}

// RecordCircuitBreakerTransition updates the state gauge and counts the change.
func RecordCircuitBreakerTransition(name, from, to string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordIngest records one consumed message.
func RecordIngest(outcome string) {
	IngestMessages.WithLabelValues(outcome).Inc()
}

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, route, status string, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
