// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package objective

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianGovernance/services/governance/feedback"
)

// sliceSource serves a fixed dataset, standing in for the example store.
type sliceSource struct {
	examples []feedback.Example
}

func (s sliceSource) ReadRecent(n int) ([]feedback.Example, error) {
	if n <= 0 || len(s.examples) <= n {
		return s.examples, nil
	}
	return s.examples[len(s.examples)-n:], nil
}

func (s sliceSource) Count() (int64, error) {
	return int64(len(s.examples)), nil
}

func costDrop(pct float64) feedback.Example {
	return feedback.Example{
		EventType: feedback.EventMetricChange,
		Features:  feedback.Features{Metric: "cost_per_item", DeltaPct: pct},
		Labels:    feedback.Labels{IsDrift: math.Abs(pct) > 20},
	}
}

func qualityDrop(pct float64, anomaly bool) feedback.Example {
	return feedback.Example{
		EventType: feedback.EventQualityScoreChange,
		Features:  feedback.Features{Metric: "quality_score", DeltaPct: pct},
		Labels:    feedback.Labels{IsAnomaly: anomaly, IsDrift: math.Abs(pct) > 20},
	}
}

func steadyMetric() feedback.Example {
	return feedback.Example{
		EventType: feedback.EventMetricChange,
		Features:  feedback.Features{Metric: "latency_ms", DeltaPct: 1.0},
	}
}

func driftingMetric() feedback.Example {
	return feedback.Example{
		EventType: feedback.EventMetricChange,
		Features:  feedback.Features{Metric: "latency_ms", DeltaPct: 35.0},
		Labels:    feedback.Labels{IsDrift: true},
	}
}

type managerFixture struct {
	manager   *Manager
	store     *Store
	evolution *EvolutionLog
}

func newManagerFixture(t *testing.T, examples []feedback.Example) *managerFixture {
	t.Helper()
	dir := t.TempDir()

	store, err := NewStore(filepath.Join(dir, "objectives.yaml"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	evolution, err := NewEvolutionLog(filepath.Join(dir, "evolution.jsonl"))
	if err != nil {
		t.Fatalf("NewEvolutionLog: %v", err)
	}
	t.Cleanup(func() { evolution.Close() })

	manager, err := NewManager(ManagerConfig{
		Examples:  sliceSource{examples: examples},
		Store:     store,
		Evolution: evolution,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &managerFixture{manager: manager, store: store, evolution: evolution}
}

// tradeoffDataset builds 50 examples with the cost/quality pattern and a
// drift rate inside the healthy band, so only the tradeoff detector fires.
func tradeoffDataset() []feedback.Example {
	var examples []feedback.Example
	for i := 0; i < 5; i++ {
		examples = append(examples, costDrop(-12))
	}
	for i := 0; i < 3; i++ {
		examples = append(examples, qualityDrop(-6, true))
	}
	for i := 0; i < 10; i++ {
		examples = append(examples, driftingMetric())
	}
	for len(examples) < 50 {
		examples = append(examples, steadyMetric())
	}
	return examples
}

func TestAnalyzeInsufficientData(t *testing.T) {
	fx := newManagerFixture(t, tradeoffDataset()[:49])

	report, err := fx.manager.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Sufficient {
		t.Error("49 samples must be insufficient")
	}
	if report.SampleCount != 49 || report.MinSamples != DefaultMinSamples {
		t.Errorf("SampleCount/MinSamples = %d/%d", report.SampleCount, report.MinSamples)
	}
	if len(report.Proposals) != 0 {
		t.Errorf("proposals = %d, want 0", len(report.Proposals))
	}
}

func TestAdaptInsufficientDataIsNoOp(t *testing.T) {
	fx := newManagerFixture(t, []feedback.Example{costDrop(-50)})

	result, err := fx.manager.Adapt(context.Background())
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if len(result.Applied) != 0 {
		t.Errorf("applied = %d, want 0", len(result.Applied))
	}

	set, err := fx.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.Version != "v1.0.0" {
		t.Errorf("Version = %q, want v1.0.0 (untouched)", set.Version)
	}

	count, err := fx.evolution.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("evolution records = %d, want 0", count)
	}
}

func TestAnalyzeDetectsCostQualityTradeoff(t *testing.T) {
	fx := newManagerFixture(t, tradeoffDataset())

	report, err := fx.manager.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !report.Sufficient {
		t.Fatal("50 samples must be sufficient")
	}
	if report.CostDrops != 5 || report.QualityDrops != 3 {
		t.Errorf("CostDrops/QualityDrops = %d/%d, want 5/3", report.CostDrops, report.QualityDrops)
	}
	if len(report.Proposals) != 1 {
		t.Fatalf("proposals = %d, want 1: %+v", len(report.Proposals), report.Proposals)
	}

	proposal := report.Proposals[0]
	if proposal.Kind != ProposalEvolveGoal {
		t.Errorf("Kind = %q", proposal.Kind)
	}
	if proposal.Change != "minimize_cost -> maximize_value" {
		t.Errorf("Change = %q", proposal.Change)
	}
	if proposal.Confidence != 0.80 {
		t.Errorf("Confidence = %v, want 0.80", proposal.Confidence)
	}

	// Analysis alone must not touch the store.
	set, err := fx.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.Version != "v1.0.0" {
		t.Errorf("Version = %q after Analyze, want v1.0.0", set.Version)
	}
}

func TestAnalyzeBelowPatternMinimums(t *testing.T) {
	var examples []feedback.Example
	for i := 0; i < 4; i++ { // one short of the cost minimum
		examples = append(examples, costDrop(-15))
	}
	for i := 0; i < 3; i++ {
		examples = append(examples, qualityDrop(-8, true))
	}
	for i := 0; i < 10; i++ {
		examples = append(examples, driftingMetric())
	}
	for len(examples) < 50 {
		examples = append(examples, steadyMetric())
	}
	fx := newManagerFixture(t, examples)

	report, err := fx.manager.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.Proposals) != 0 {
		t.Errorf("proposals = %d, want 0: %+v", len(report.Proposals), report.Proposals)
	}
}

func TestAnalyzeIgnoresPassedGateQualityDrops(t *testing.T) {
	var examples []feedback.Example
	for i := 0; i < 5; i++ {
		examples = append(examples, costDrop(-15))
	}
	for i := 0; i < 3; i++ { // drops without a failed gate must not count
		examples = append(examples, qualityDrop(-8, false))
	}
	for i := 0; i < 10; i++ {
		examples = append(examples, driftingMetric())
	}
	for len(examples) < 50 {
		examples = append(examples, steadyMetric())
	}
	fx := newManagerFixture(t, examples)

	report, err := fx.manager.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.QualityDrops != 0 {
		t.Errorf("QualityDrops = %d, want 0", report.QualityDrops)
	}
	if len(report.Proposals) != 0 {
		t.Errorf("proposals = %d, want 0", len(report.Proposals))
	}
}

func TestAdaptEvolvesMinimizeCost(t *testing.T) {
	fx := newManagerFixture(t, tradeoffDataset())

	result, err := fx.manager.Adapt(context.Background())
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if len(result.Applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(result.Applied))
	}

	record := result.Applied[0]
	if !record.Applied {
		t.Error("record must be marked applied")
	}
	if record.Confidence != 0.80 {
		t.Errorf("Confidence = %v, want 0.80", record.Confidence)
	}
	if record.StoreVersion != "v1.1.0" {
		t.Errorf("StoreVersion = %q, want v1.1.0", record.StoreVersion)
	}

	set, err := fx.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.Find(ObjectiveMinimizeCost) >= 0 {
		t.Error("minimize_cost must be rewritten away")
	}
	idx := set.Find(ObjectiveMaximizeValue)
	if idx < 0 {
		t.Fatal("maximize_value missing after adaptation")
	}
	obj := set.Objectives[idx]
	if obj.Direction != DirectionMaximize {
		t.Errorf("Direction = %q", obj.Direction)
	}
	if obj.Formula != "metrics.quality_score / metrics.cost_per_item" {
		t.Errorf("Formula = %q", obj.Formula)
	}
	if math.Abs(obj.Weight-0.3) > 1e-9 {
		t.Errorf("Weight = %v, want 0.3 (carried over)", obj.Weight)
	}

	// The pattern cannot re-fire once the target objective is gone.
	result, err = fx.manager.Adapt(context.Background())
	if err != nil {
		t.Fatalf("second Adapt: %v", err)
	}
	for _, rec := range result.Applied {
		if rec.Objective == ObjectiveMinimizeCost {
			t.Errorf("unexpected re-application: %+v", rec)
		}
	}
}

func TestAdaptTightensToleranceOnHighDrift(t *testing.T) {
	var examples []feedback.Example
	for i := 0; i < 25; i++ { // 50% drift rate
		examples = append(examples, driftingMetric())
	}
	for len(examples) < 50 {
		examples = append(examples, steadyMetric())
	}
	fx := newManagerFixture(t, examples)

	result, err := fx.manager.Adapt(context.Background())
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if len(result.Applied) != 1 {
		t.Fatalf("applied = %d, want 1: %+v", len(result.Applied), result.Applied)
	}
	record := result.Applied[0]
	if record.Objective != ObjectiveStability {
		t.Errorf("Objective = %q", record.Objective)
	}
	if record.NewValue != "0.10" {
		t.Errorf("NewValue = %q, want 0.10", record.NewValue)
	}
	if record.Confidence != stabilityConfidence {
		t.Errorf("Confidence = %v", record.Confidence)
	}

	stability, err := fx.store.Get(ObjectiveStability)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if math.Abs(stability.Tolerance-0.10) > 1e-9 {
		t.Errorf("Tolerance = %v, want 0.10", stability.Tolerance)
	}
}

func TestAdaptLoosensToleranceOnLowDrift(t *testing.T) {
	var examples []feedback.Example
	for len(examples) < 50 { // zero drift
		examples = append(examples, steadyMetric())
	}
	fx := newManagerFixture(t, examples)

	result, err := fx.manager.Adapt(context.Background())
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if len(result.Applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(result.Applied))
	}
	if result.Applied[0].NewValue != "0.30" {
		t.Errorf("NewValue = %q, want 0.30", result.Applied[0].NewValue)
	}

	stability, err := fx.store.Get(ObjectiveStability)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if math.Abs(stability.Tolerance-0.30) > 1e-9 {
		t.Errorf("Tolerance = %v, want 0.30", stability.Tolerance)
	}
}

func TestHealthyDriftBandProposesNothing(t *testing.T) {
	var examples []feedback.Example
	for i := 0; i < 10; i++ { // 20% drift rate
		examples = append(examples, driftingMetric())
	}
	for len(examples) < 50 {
		examples = append(examples, steadyMetric())
	}
	fx := newManagerFixture(t, examples)

	report, err := fx.manager.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if math.Abs(report.DriftRate-0.20) > 1e-9 {
		t.Errorf("DriftRate = %v, want 0.20", report.DriftRate)
	}
	if len(report.Proposals) != 0 {
		t.Errorf("proposals = %d, want 0", len(report.Proposals))
	}
}

func TestEvolutionLogRoundTrip(t *testing.T) {
	log, err := NewEvolutionLog(filepath.Join(t.TempDir(), "evolution.jsonl"))
	if err != nil {
		t.Fatalf("NewEvolutionLog: %v", err)
	}
	defer log.Close()

	last, err := log.Last()
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if last != nil {
		t.Fatalf("Last on empty log = %+v, want nil", last)
	}

	records := []Evolution{
		{ID: "1", Objective: "minimize_cost", Change: "a", Applied: true},
		{ID: "2", Objective: "stability", Change: "b", Applied: false},
	}
	for _, record := range records {
		if err := log.Append(record); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("records = %d, want 2", len(all))
	}

	last, err = log.Last()
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if last.ID != "2" || last.Applied {
		t.Errorf("Last = %+v", last)
	}
}
