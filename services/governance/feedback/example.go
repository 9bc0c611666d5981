// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedback turns governance events into labeled training examples.
//
// Every threshold change, quality score change, and metric change flowing
// through the kernel is converted into a feature-extracted example and
// appended to a local JSONL dataset. Threshold changes are additionally
// recorded in a separate adaptation log, which is the raw material the
// symmetry engine mines for recurring adaptation patterns.
package feedback

import (
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// Event type labels attached to recorded examples.
const (
	EventThresholdChange    = "threshold_change"
	EventQualityScoreChange = "quality_score_change"
	EventMetricChange       = "metric_change"
)

// Adaptation directions, derived from how a threshold moved relative to
// its metric's polarity.
const (
	DirectionStricter = "stricter"
	DirectionRelaxing = "relaxing"
	DirectionNeutral  = "neutral"
)

// deltaWindowSize is how many recent delta percentages feed the windowed
// features (drift rate, average magnitude).
const deltaWindowSize = 10

// driftThresholdPct is the percentage-change magnitude above which a
// single delta counts as drift.
const driftThresholdPct = 20.0

// Features is the extracted feature vector for one example.
//
// # Fields
//
//   - Metric: Which metric the event concerned, e.g. "quality_score".
//   - OldValue: Prior value; nil when the event had no baseline.
//   - NewValue: Value after the event.
//   - Delta: NewValue minus OldValue; 0 when OldValue is nil.
//   - DeltaPct: Percentage change; 0 when OldValue is nil or zero.
//   - HourOfDay: Event hour, 0-23, UTC.
//   - Weekday: Event weekday name, e.g. "Monday".
//   - RecentDeltaPcts: Trailing window of delta percentages, oldest
//     first, including this event. Capped at the window size.
//   - DriftRate: Fraction of RecentDeltaPcts with magnitude above the
//     drift threshold.
//   - AvgDeltaMagnitude: Mean absolute value of RecentDeltaPcts.
type Features struct {
	Metric            string    `json:"metric,omitempty"`
	OldValue          *float64  `json:"old_value,omitempty"`
	NewValue          float64   `json:"new_value"`
	Delta             float64   `json:"delta"`
	DeltaPct          float64   `json:"delta_pct"`
	HourOfDay         int       `json:"hour_of_day"`
	Weekday           string    `json:"weekday"`
	RecentDeltaPcts   []float64 `json:"recent_delta_pcts,omitempty"`
	DriftRate         float64   `json:"drift_rate"`
	AvgDeltaMagnitude float64   `json:"avg_delta_magnitude"`
}

// Labels is the supervision attached to one example.
type Labels struct {
	// IsDrift is true when this event's own delta magnitude exceeds the
	// drift threshold.
	IsDrift bool `json:"is_drift"`

	// IsAnomaly is true when the associated gate did not pass.
	IsAnomaly bool `json:"is_anomaly"`

	// RequiresIntervention is true for P0 and P1 severities.
	RequiresIntervention bool `json:"requires_intervention"`
}

// Example is one labeled training example derived from a domain event.
type Example struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	EventType string   `json:"event_type"`
	SessionID string   `json:"session_id,omitempty"`
	Features  Features `json:"features"`
	Labels    Labels   `json:"labels"`
}

// AdaptationRecord captures one policy threshold adaptation. The symmetry
// engine mines these for recurring patterns.
type AdaptationRecord struct {
	ID         string   `json:"id"`
	Timestamp  string   `json:"timestamp"`
	PolicyName string   `json:"policy_name"`
	Metric     string   `json:"metric"`
	OldValue   *float64 `json:"old_value,omitempty"`
	NewValue   float64  `json:"new_value"`
	Direction  string   `json:"direction"`
	Actor      string   `json:"actor,omitempty"`
}

// higherIsBetter maps known metrics to their polarity. Raising a
// threshold on a higher-is-better metric tightens the gate; on a
// lower-is-better metric it loosens it.
var higherIsBetter = map[string]bool{
	"quality_score":    true,
	"cost_per_item":    false,
	"latency_ms":       false,
	"duplication_rate": false,
}

// thresholdDirection classifies a threshold move as stricter, relaxing,
// or neutral. Metrics with unknown polarity are treated as
// higher-is-better.
func thresholdDirection(metric string, oldValue *float64, newValue float64) string {
	if oldValue == nil || *oldValue == newValue {
		return DirectionNeutral
	}
	raised := newValue > *oldValue
	better, known := higherIsBetter[metric]
	if !known {
		better = true
	}
	if raised == better {
		return DirectionStricter
	}
	return DirectionRelaxing
}

// deltaOf computes the raw and percentage change for an event.
func deltaOf(oldValue *float64, newValue float64) (delta, pct float64) {
	if oldValue == nil {
		return 0, 0
	}
	delta = newValue - *oldValue
	if *oldValue != 0 {
		pct = delta / *oldValue * 100
	}
	return delta, pct
}

// interventionNeeded applies the severity rule to an outcome.
func interventionNeeded(outcome datatypes.Outcome) bool {
	return outcome.Severity.RequiresIntervention()
}
