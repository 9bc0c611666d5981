// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedback

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/observability"
)

// =============================================================================
// Recorder
// =============================================================================

// Recorder converts domain events into labeled examples.
//
// # Description
//
// Each recognized event is feature-extracted (delta, time-of-day, trailing
// delta window statistics), labeled (drift, anomaly, intervention), and
// appended to the example dataset. Threshold changes additionally produce
// an adaptation record. Events outside the sealed union are dropped with
// a debug log and a nil example; a feed of unknown event shapes must
// never take the recorder down.
//
// # Thread Safety
//
// Safe for concurrent use. The trailing delta window and both appends are
// guarded by one mutex so window statistics stay consistent with file
// order.
type Recorder struct {
	examples    *ExampleStore
	adaptations *AdaptationLog
	metrics     *observability.Metrics

	mu     sync.Mutex
	window []float64
}

// NewRecorder wires a recorder over its two datasets.
//
// The trailing delta window is seeded from the tail of the persisted
// dataset so windowed features survive a process restart.
func NewRecorder(examples *ExampleStore, adaptations *AdaptationLog, metrics *observability.Metrics) (*Recorder, error) {
	if examples == nil {
		return nil, fmt.Errorf("recorder requires an example store")
	}
	if adaptations == nil {
		return nil, fmt.Errorf("recorder requires an adaptation log")
	}

	recent, err := examples.ReadRecent(deltaWindowSize)
	if err != nil {
		return nil, fmt.Errorf("failed to seed delta window: %w", err)
	}
	window := make([]float64, 0, deltaWindowSize)
	for _, example := range recent {
		window = append(window, example.Features.DeltaPct)
	}

	return &Recorder{
		examples:    examples,
		adaptations: adaptations,
		metrics:     metrics,
		window:      window,
	}, nil
}

// Record converts one event into a persisted example.
//
// # Inputs
//
//   - event: A domain event. Unrecognized or nil events are dropped.
//   - outcome: The gate outcome paired with the event; drives labels.
//
// # Outputs
//
//   - *Example: The recorded example, or nil when the event was dropped.
//   - error: Non-nil only when persistence failed.
func (r *Recorder) Record(event datatypes.DomainEvent, outcome datatypes.Outcome) (*Example, error) {
	if event == nil {
		return nil, nil
	}

	var (
		eventType string
		metric    string
		oldValue  *float64
		newValue  float64
	)

	switch e := event.(type) {
	case datatypes.ThresholdChangeEvent:
		eventType = EventThresholdChange
		metric = e.Metric
		oldValue = e.OldValue
		newValue = e.NewValue
	case datatypes.QualityScoreChangeEvent:
		eventType = EventQualityScoreChange
		metric = "quality_score"
		oldValue = e.OldScore
		newValue = e.NewScore
	case datatypes.MetricChangeEvent:
		eventType = EventMetricChange
		metric = e.Metric
		oldValue = e.OldValue
		newValue = e.NewValue
	default:
		slog.Debug("feedback.event.dropped", "type", fmt.Sprintf("%T", event))
		return nil, nil
	}

	meta := event.Meta()
	timestamp := meta.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	timestamp = timestamp.UTC()

	delta, deltaPct := deltaOf(oldValue, newValue)

	r.mu.Lock()
	defer r.mu.Unlock()

	// The window includes this event: push first, then derive statistics.
	r.window = append(r.window, deltaPct)
	if len(r.window) > deltaWindowSize {
		r.window = r.window[len(r.window)-deltaWindowSize:]
	}
	driftRate, avgMagnitude := windowStats(r.window)

	example := Example{
		ID:        uuid.New().String(),
		Timestamp: timestamp.Format(time.RFC3339Nano),
		EventType: eventType,
		Features: Features{
			Metric:            metric,
			OldValue:          oldValue,
			NewValue:          newValue,
			Delta:             delta,
			DeltaPct:          deltaPct,
			HourOfDay:         timestamp.Hour(),
			Weekday:           timestamp.Weekday().String(),
			RecentDeltaPcts:   append([]float64(nil), r.window...),
			DriftRate:         driftRate,
			AvgDeltaMagnitude: avgMagnitude,
		},
		Labels: Labels{
			IsDrift:              math.Abs(deltaPct) > driftThresholdPct,
			IsAnomaly:            !outcome.GatePassed,
			RequiresIntervention: interventionNeeded(outcome),
		},
	}

	if err := r.examples.Append(example); err != nil {
		// Drop the delta we pushed; the example never made it to disk.
		r.window = r.window[:len(r.window)-1]
		return nil, err
	}
	r.metrics.RecordExample(eventType)

	if t, ok := event.(datatypes.ThresholdChangeEvent); ok {
		record := AdaptationRecord{
			ID:         example.ID,
			Timestamp:  example.Timestamp,
			PolicyName: t.PolicyName,
			Metric:     t.Metric,
			OldValue:   t.OldValue,
			NewValue:   t.NewValue,
			Direction:  thresholdDirection(t.Metric, t.OldValue, t.NewValue),
			Actor:      meta.Actor,
		}
		if err := r.adaptations.Append(record); err != nil {
			// The example is already durable; surface the partial failure.
			return &example, fmt.Errorf("example recorded but adaptation log append failed: %w", err)
		}
	}

	slog.Debug("feedback.example.recorded",
		"event_type", eventType,
		"metric", metric,
		"delta_pct", deltaPct,
		"is_drift", example.Labels.IsDrift,
		"is_anomaly", example.Labels.IsAnomaly)

	return &example, nil
}

// windowStats derives the drift rate and mean delta magnitude over a
// window of delta percentages.
func windowStats(window []float64) (driftRate, avgMagnitude float64) {
	if len(window) == 0 {
		return 0, 0
	}
	drifting := 0
	sum := 0.0
	for _, pct := range window {
		if math.Abs(pct) > driftThresholdPct {
			drifting++
		}
		sum += math.Abs(pct)
	}
	return float64(drifting) / float64(len(window)), sum / float64(len(window))
}

// =============================================================================
// Insights
// =============================================================================

// Summary aggregates the recorded dataset for reporting.
type Summary struct {
	// Total is the number of recorded examples.
	Total int64 `json:"total"`

	// PerEventType counts examples by event type.
	PerEventType map[string]int64 `json:"per_event_type"`

	// DriftCount is how many examples were labeled as drift.
	DriftCount int64 `json:"drift_count"`

	// AnomalyCount is how many examples were labeled as anomalies.
	AnomalyCount int64 `json:"anomaly_count"`

	// InterventionCount is how many examples require intervention.
	InterventionCount int64 `json:"intervention_count"`

	// AvgDeltaMagnitude is the mean absolute delta percentage across the
	// whole dataset.
	AvgDeltaMagnitude float64 `json:"avg_delta_magnitude"`

	// CurrentDriftRate is the drift rate over the trailing window.
	CurrentDriftRate float64 `json:"current_drift_rate"`
}

// Insights summarizes the recorded dataset.
func (r *Recorder) Insights() (Summary, error) {
	examples, err := r.examples.ReadAll()
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Total:        int64(len(examples)),
		PerEventType: make(map[string]int64),
	}
	sum := 0.0
	for _, example := range examples {
		summary.PerEventType[example.EventType]++
		if example.Labels.IsDrift {
			summary.DriftCount++
		}
		if example.Labels.IsAnomaly {
			summary.AnomalyCount++
		}
		if example.Labels.RequiresIntervention {
			summary.InterventionCount++
		}
		sum += math.Abs(example.Features.DeltaPct)
	}
	if len(examples) > 0 {
		summary.AvgDeltaMagnitude = sum / float64(len(examples))
	}

	r.mu.Lock()
	summary.CurrentDriftRate, _ = windowStats(r.window)
	r.mu.Unlock()

	return summary, nil
}

// ReadRecent exposes the tail of the dataset.
func (r *Recorder) ReadRecent(n int) ([]Example, error) {
	return r.examples.ReadRecent(n)
}

// Count returns the dataset size.
func (r *Recorder) Count() (int64, error) {
	return r.examples.Count()
}
