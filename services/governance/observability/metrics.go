// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the governance
// kernel.
//
// # Description
//
// Metrics cover the kernel's decision path:
//   - Phase transition counters (by gate result and movement)
//   - Ledger append and verification counters
//   - Sandbox evaluation counters and latency histogram
//   - Feedback example, adaptation, and skipped-proposal counters
//   - Active session gauge
//
// # Integration
//
// Metrics are exposed via the daemon's /metrics endpoint. Components
// receive a *Metrics instance at construction; a nil instance disables
// recording, which keeps tests and the CLI free of registry setup.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for governance kernel metrics
const governanceSubsystem = "governance"

// Metrics holds all Prometheus metrics for the governance kernel.
//
// # Fields
//
//   - TransitionsTotal: Counter of phase transitions by gate result and movement
//   - LedgerAppendsTotal: Counter of successful ledger appends
//   - LedgerAppendErrorsTotal: Counter of failed ledger appends
//   - ChainVerificationsTotal: Counter of chain verifications by validity
//   - SandboxEvaluationsTotal: Counter of sandbox evaluations by outcome
//   - SandboxEvalDurationSeconds: Histogram of sandbox evaluation latency
//   - ExamplesRecordedTotal: Counter of feedback examples by event type
//   - AdaptationsAppliedTotal: Counter of applied adaptations by component
//   - ProposalsSkippedTotal: Counter of generated-but-skipped proposals
//   - ActiveSessions: Gauge of sessions with live phase state
type Metrics struct {
	// TransitionsTotal counts phase transitions.
	// Labels: result (PASS, WARN, PARTIAL, FAIL), movement (advanced,
	// rolled_back, retried, blocked, completed)
	TransitionsTotal *prometheus.CounterVec

	// LedgerAppendsTotal counts successful decision ledger appends.
	LedgerAppendsTotal prometheus.Counter

	// LedgerAppendErrorsTotal counts ledger appends that failed at the disk.
	LedgerAppendErrorsTotal prometheus.Counter

	// ChainVerificationsTotal counts hash chain verifications.
	// Labels: valid (true, false)
	ChainVerificationsTotal *prometheus.CounterVec

	// SandboxEvaluationsTotal counts sandbox evaluations.
	// Labels: outcome (ok, error, timeout, memory)
	SandboxEvaluationsTotal *prometheus.CounterVec

	// SandboxEvalDurationSeconds measures sandbox evaluation latency.
	SandboxEvalDurationSeconds prometheus.Histogram

	// ExamplesRecordedTotal counts recorded feedback examples.
	// Labels: event_type (threshold_change, quality_score_change, metric_change)
	ExamplesRecordedTotal *prometheus.CounterVec

	// AdaptationsAppliedTotal counts applied adaptations.
	// Labels: component (objective, symmetry)
	AdaptationsAppliedTotal *prometheus.CounterVec

	// ProposalsSkippedTotal counts proposals generated but not applied.
	// Labels: component (objective, symmetry), reason (low_confidence,
	// insufficient_data)
	ProposalsSkippedTotal *prometheus.CounterVec

	// ActiveSessions tracks sessions with live phase state.
	ActiveSessions prometheus.Gauge
}

// DefaultMetrics is the singleton instance created by InitMetrics. Kernel
// components never read it directly; the daemon passes it to them at
// construction.
var DefaultMetrics *Metrics

var initOnce sync.Once

// InitMetrics initializes and registers the kernel metrics.
//
// # Description
//
// Creates and registers all Prometheus metrics in the default registry.
// Safe to call more than once; registration happens exactly once.
//
// # Outputs
//
//   - *Metrics: The initialized metrics instance.
func InitMetrics() *Metrics {
	initOnce.Do(func() {
		DefaultMetrics = &Metrics{
			TransitionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: governanceSubsystem,
					Name:      "transitions_total",
					Help:      "Total phase transitions by gate result and movement",
				},
				[]string{"result", "movement"},
			),

			LedgerAppendsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: governanceSubsystem,
					Name:      "ledger_appends_total",
					Help:      "Total successful decision ledger appends",
				},
			),

			LedgerAppendErrorsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: governanceSubsystem,
					Name:      "ledger_append_errors_total",
					Help:      "Total decision ledger appends that failed",
				},
			),

			ChainVerificationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: governanceSubsystem,
					Name:      "chain_verifications_total",
					Help:      "Total hash chain verifications by validity",
				},
				[]string{"valid"},
			),

			SandboxEvaluationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: governanceSubsystem,
					Name:      "sandbox_evaluations_total",
					Help:      "Total sandbox evaluations by outcome",
				},
				[]string{"outcome"},
			),

			SandboxEvalDurationSeconds: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: governanceSubsystem,
					Name:      "sandbox_eval_duration_seconds",
					Help:      "Sandbox evaluation latency in seconds",
					Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
				},
			),

			ExamplesRecordedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: governanceSubsystem,
					Name:      "examples_recorded_total",
					Help:      "Total feedback examples recorded by event type",
				},
				[]string{"event_type"},
			),

			AdaptationsAppliedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: governanceSubsystem,
					Name:      "adaptations_applied_total",
					Help:      "Total adaptations applied by component",
				},
				[]string{"component"},
			),

			ProposalsSkippedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: governanceSubsystem,
					Name:      "proposals_skipped_total",
					Help:      "Total proposals generated but not applied, by component and reason",
				},
				[]string{"component", "reason"},
			),

			ActiveSessions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: governanceSubsystem,
					Name:      "active_sessions",
					Help:      "Sessions with live phase state",
				},
			),
		}
	})

	return DefaultMetrics
}

// =============================================================================
// Label Values
// =============================================================================

// SandboxOutcome labels the result class of a sandbox evaluation.
type SandboxOutcome string

const (
	// SandboxOutcomeOK indicates the expression evaluated within limits.
	SandboxOutcomeOK SandboxOutcome = "ok"

	// SandboxOutcomeError indicates a parse or runtime failure.
	SandboxOutcomeError SandboxOutcome = "error"

	// SandboxOutcomeTimeout indicates the wall-clock budget was exceeded.
	SandboxOutcomeTimeout SandboxOutcome = "timeout"

	// SandboxOutcomeMemory indicates the memory ceiling was exceeded.
	SandboxOutcomeMemory SandboxOutcome = "memory"
)

// Component labels which feedback component applied or skipped a change.
type Component string

const (
	// ComponentObjective is the adaptive objective manager.
	ComponentObjective Component = "objective"

	// ComponentSymmetry is the feedback symmetry engine.
	ComponentSymmetry Component = "symmetry"
)

// SkipReason labels why a proposal was generated but not applied.
type SkipReason string

const (
	// SkipReasonLowConfidence means the proposal fell below the apply bar.
	SkipReasonLowConfidence SkipReason = "low_confidence"

	// SkipReasonInsufficientData means not enough samples existed to act.
	SkipReasonInsufficientData SkipReason = "insufficient_data"
)

// =============================================================================
// Helper Methods
// =============================================================================

// All helpers tolerate a nil receiver so components constructed without
// metrics (tests, one-shot CLI runs) skip recording.

// RecordTransition records a completed phase transition.
//
// # Inputs
//
//   - result: The gate result that drove the transition.
//   - movement: The movement class (advanced, rolled_back, retried,
//     blocked, completed).
func (m *Metrics) RecordTransition(result, movement string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(result, movement).Inc()
}

// RecordLedgerAppend records a ledger append attempt.
func (m *Metrics) RecordLedgerAppend(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.LedgerAppendErrorsTotal.Inc()
		return
	}
	m.LedgerAppendsTotal.Inc()
}

// RecordChainVerification records a hash chain verification outcome.
func (m *Metrics) RecordChainVerification(valid bool) {
	if m == nil {
		return
	}
	label := "true"
	if !valid {
		label = "false"
	}
	m.ChainVerificationsTotal.WithLabelValues(label).Inc()
}

// RecordSandboxEvaluation records one sandbox evaluation.
func (m *Metrics) RecordSandboxEvaluation(outcome SandboxOutcome, duration time.Duration) {
	if m == nil {
		return
	}
	m.SandboxEvaluationsTotal.WithLabelValues(string(outcome)).Inc()
	m.SandboxEvalDurationSeconds.Observe(duration.Seconds())
}

// RecordExample records a feedback example ingestion.
func (m *Metrics) RecordExample(eventType string) {
	if m == nil {
		return
	}
	m.ExamplesRecordedTotal.WithLabelValues(eventType).Inc()
}

// RecordAdaptationApplied records an applied adaptation.
func (m *Metrics) RecordAdaptationApplied(component Component) {
	if m == nil {
		return
	}
	m.AdaptationsAppliedTotal.WithLabelValues(string(component)).Inc()
}

// RecordProposalSkipped records a proposal that was generated but skipped.
func (m *Metrics) RecordProposalSkipped(component Component, reason SkipReason) {
	if m == nil {
		return
	}
	m.ProposalsSkippedTotal.WithLabelValues(string(component), string(reason)).Inc()
}

// SetActiveSessions sets the live session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
