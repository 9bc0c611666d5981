// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Domain Events
// =============================================================================

// DomainEvent is the closed set of upstream events the feedback recorder
// consumes. Each event family carries its own strongly typed payload; the
// recorder matches exhaustively on the concrete type rather than digging
// fields out of an untyped map.
//
// The set is sealed: only types in this package can implement it, so a type
// switch over the three families plus a default arm covers every case.
type DomainEvent interface {
	// Meta returns the identity fields common to every event family.
	Meta() EventMeta

	isDomainEvent()
}

// EventMeta holds the identity fields present on every domain event.
type EventMeta struct {
	// ID uniquely identifies the event (UUID v4 from the producer).
	ID string `json:"id"`

	// Timestamp is when the producer observed the change (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Actor names the subsystem that emitted the event, e.g.
	// "quality-gate", "cost-optimizer", "threshold-manager".
	Actor string `json:"actor"`
}

// ThresholdChangeEvent reports that a policy threshold was adjusted, either
// by an operator or by an adaptive component. Threshold changes double as
// policy adaptation signals for the feedback symmetry engine.
type ThresholdChangeEvent struct {
	EventMeta

	// PolicyName is the policy whose threshold moved.
	PolicyName string `json:"policy_name"`

	// Metric is the metric the threshold constrains.
	Metric string `json:"metric"`

	// OldValue is the previous threshold, nil on first assignment.
	OldValue *float64 `json:"old_value,omitempty"`

	// NewValue is the threshold after the change.
	NewValue float64 `json:"new_value"`
}

func (e ThresholdChangeEvent) Meta() EventMeta { return e.EventMeta }
func (ThresholdChangeEvent) isDomainEvent()    {}

// QualityScoreChangeEvent reports a movement of the composite quality score
// between consecutive scoring runs.
type QualityScoreChangeEvent struct {
	EventMeta

	// OldScore is the previous composite score, nil on the first run.
	OldScore *float64 `json:"old_score,omitempty"`

	// NewScore is the latest composite score.
	NewScore float64 `json:"new_score"`
}

func (e QualityScoreChangeEvent) Meta() EventMeta { return e.EventMeta }
func (QualityScoreChangeEvent) isDomainEvent()    {}

// MetricChangeEvent reports a movement of any named metric that is not a
// threshold or the composite quality score (cost, latency, duplication).
type MetricChangeEvent struct {
	EventMeta

	// Metric names the metric that moved, e.g. "cost_per_item".
	Metric string `json:"metric"`

	// OldValue is the previous observation, nil if this is the first.
	OldValue *float64 `json:"old_value,omitempty"`

	// NewValue is the latest observation.
	NewValue float64 `json:"new_value"`
}

func (e MetricChangeEvent) Meta() EventMeta { return e.EventMeta }
func (MetricChangeEvent) isDomainEvent()    {}

// =============================================================================
// Outcomes
// =============================================================================

// Outcome describes what the quality gate decided about the pipeline state
// that produced a domain event. Paired with the event when recording
// feedback examples.
type Outcome struct {
	// GatePassed is true when the gate verdict was PASS or WARN.
	GatePassed bool `json:"gate_passed"`

	// Severity classifies the urgency of the outcome.
	Severity Severity `json:"severity"`

	// Actions lists action identifiers the gate surfaced. Identifiers only;
	// execution requires a separately authorized path.
	Actions []string `json:"actions,omitempty"`
}
