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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGovernance/services/governance/feedback"
	"github.com/AleutianAI/AleutianGovernance/services/governance/observability"
)

// DefaultMinSamples is the evidence floor: below this many recorded
// examples the manager refuses to act at all.
const DefaultMinSamples = 50

// Pattern constants. Percentages are signed delta percent; rates are
// fractions of the analysis window.
const (
	costDropPct     = -10.0
	qualityDropPct  = -5.0
	minCostDrops    = 5
	minQualityDrops = 3

	driftTightenRate = 0.40
	driftLoosenRate  = 0.05

	costQualityConfidence = 0.80
	stabilityConfidence   = 0.75
)

// ProposalKind tags what an applied proposal mutates.
type ProposalKind string

const (
	// ProposalEvolveGoal replaces an objective's name, formula, and
	// direction with a successor objective.
	ProposalEvolveGoal ProposalKind = "evolve_objective"

	// ProposalAdjustTolerance changes an objective's drift tolerance.
	ProposalAdjustTolerance ProposalKind = "adjust_tolerance"
)

// Proposal is one pattern-derived change the manager wants to make.
type Proposal struct {
	Kind       ProposalKind `json:"kind"`
	Objective  string       `json:"objective"`
	Change     string       `json:"change"`
	OldValue   string       `json:"old_value"`
	NewValue   string       `json:"new_value"`
	Reason     string       `json:"reason"`
	Confidence float64      `json:"confidence"`

	successor    *Objective
	newTolerance float64
}

// Report is the outcome of one analysis pass.
type Report struct {
	// SampleCount is the total number of recorded examples.
	SampleCount int64 `json:"sample_count"`

	// MinSamples is the evidence floor in force.
	MinSamples int `json:"min_samples"`

	// Sufficient is false when SampleCount is below the floor; no
	// proposals are generated in that case.
	Sufficient bool `json:"sufficient"`

	// DriftRate is the fraction of analyzed examples labeled as drift.
	DriftRate float64 `json:"drift_rate"`

	// CostDrops counts analyzed cost decreases beyond 10 percent.
	CostDrops int `json:"cost_drops"`

	// QualityDrops counts analyzed failed-gate quality drops beyond
	// 5 percent.
	QualityDrops int `json:"quality_drops"`

	Proposals []Proposal `json:"proposals,omitempty"`
}

// AdaptResult is the outcome of one adaptation pass.
type AdaptResult struct {
	Report Report `json:"report"`

	// Applied holds the evolution records written this pass.
	Applied []Evolution `json:"applied,omitempty"`
}

// ExampleSource is the read side of the feedback dataset.
type ExampleSource interface {
	ReadRecent(n int) ([]feedback.Example, error)
	Count() (int64, error)
}

// =============================================================================
// Manager
// =============================================================================

// Manager mines recorded feedback for systematic patterns and evolves
// the objective set accordingly.
//
// # Description
//
// The manager runs on demand, not continuously. Each run checks the
// evidence floor, analyzes the most recent window of examples with two
// independent pattern detectors (cost/quality tradeoff, stability vs.
// performance), and applies every resulting proposal: the objective
// document is rewritten with a version bump and an Evolution record is
// appended per change.
//
// Proposals are applied without a confidence floor. The sample-count
// gate is the evidence bar at this layer; the recorded confidence is an
// audit signal for the symmetry engine and operators, not an apply
// filter. The symmetry engine, which runs on far less data, keeps its
// 0.70 floor.
//
// # Thread Safety
//
// Safe for concurrent use; the stores serialize their own writers. Runs
// are expected to be infrequent (periodic job or CLI).
type Manager struct {
	examples   ExampleSource
	store      *Store
	evolution  *EvolutionLog
	metrics    *observability.Metrics
	minSamples int
}

// ManagerConfig carries the manager's dependencies.
type ManagerConfig struct {
	// Examples is the recorded feedback dataset. Required.
	Examples ExampleSource

	// Store is the objective document. Required.
	Store *Store

	// Evolution receives one record per processed proposal. Required.
	Evolution *EvolutionLog

	// Metrics is optional.
	Metrics *observability.Metrics

	// MinSamples overrides the evidence floor; 0 means the default.
	MinSamples int
}

// NewManager validates the configuration and returns a ready manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Examples == nil {
		return nil, errors.New("objective manager requires an example source")
	}
	if cfg.Store == nil {
		return nil, errors.New("objective manager requires an objective store")
	}
	if cfg.Evolution == nil {
		return nil, errors.New("objective manager requires an evolution log")
	}
	minSamples := cfg.MinSamples
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Manager{
		examples:   cfg.Examples,
		store:      cfg.Store,
		evolution:  cfg.Evolution,
		metrics:    cfg.Metrics,
		minSamples: minSamples,
	}, nil
}

// Analyze runs the pattern detectors without changing anything.
func (m *Manager) Analyze(ctx context.Context) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	count, err := m.examples.Count()
	if err != nil {
		return Report{}, err
	}
	report := Report{SampleCount: count, MinSamples: m.minSamples}

	if count < int64(m.minSamples) {
		slog.Info("objective.analysis.insufficient_data",
			"samples", count, "required", m.minSamples)
		m.metrics.RecordProposalSkipped(observability.ComponentObjective, observability.SkipReasonInsufficientData)
		return report, nil
	}
	report.Sufficient = true

	recent, err := m.examples.ReadRecent(m.minSamples)
	if err != nil {
		return Report{}, err
	}
	set, err := m.store.Load()
	if err != nil {
		return Report{}, err
	}

	report.CostDrops, report.QualityDrops = countTradeoffSignals(recent)
	report.DriftRate = driftRate(recent)

	if p := m.costQualityProposal(&set, report.CostDrops, report.QualityDrops); p != nil {
		report.Proposals = append(report.Proposals, *p)
	}
	if p := m.stabilityProposal(&set, report.DriftRate); p != nil {
		report.Proposals = append(report.Proposals, *p)
	}

	slog.Info("objective.analysis.completed",
		"samples", count,
		"cost_drops", report.CostDrops,
		"quality_drops", report.QualityDrops,
		"drift_rate", report.DriftRate,
		"proposals", len(report.Proposals))

	return report, nil
}

// Adapt analyzes and applies every resulting proposal.
func (m *Manager) Adapt(ctx context.Context) (AdaptResult, error) {
	report, err := m.Analyze(ctx)
	if err != nil {
		return AdaptResult{}, err
	}
	result := AdaptResult{Report: report}

	for _, proposal := range report.Proposals {
		record, err := m.apply(proposal)
		if err != nil {
			return result, err
		}
		result.Applied = append(result.Applied, record)
	}
	return result, nil
}

// countTradeoffSignals counts the two event families the cost/quality
// detector correlates.
func countTradeoffSignals(examples []feedback.Example) (costDrops, qualityDrops int) {
	for _, example := range examples {
		if example.Features.Metric == "cost_per_item" && example.Features.DeltaPct < costDropPct {
			costDrops++
		}
		if example.EventType == feedback.EventQualityScoreChange &&
			example.Features.DeltaPct < qualityDropPct &&
			example.Labels.IsAnomaly {
			qualityDrops++
		}
	}
	return costDrops, qualityDrops
}

// driftRate is the fraction of examples labeled as drift.
func driftRate(examples []feedback.Example) float64 {
	if len(examples) == 0 {
		return 0
	}
	drifting := 0
	for _, example := range examples {
		if example.Labels.IsDrift {
			drifting++
		}
	}
	return float64(drifting) / float64(len(examples))
}

// costQualityProposal fires when cost optimization is visibly degrading
// quality: the minimize_cost objective is evolved into maximize_value
// (quality per unit cost).
func (m *Manager) costQualityProposal(set *Set, costDrops, qualityDrops int) *Proposal {
	if costDrops < minCostDrops || qualityDrops < minQualityDrops {
		return nil
	}
	if set.Find(ObjectiveMinimizeCost) < 0 {
		// Already evolved, or the operator removed it.
		return nil
	}
	return &Proposal{
		Kind:      ProposalEvolveGoal,
		Objective: ObjectiveMinimizeCost,
		Change:    fmt.Sprintf("%s -> %s", ObjectiveMinimizeCost, ObjectiveMaximizeValue),
		OldValue:  ObjectiveMinimizeCost,
		NewValue:  ObjectiveMaximizeValue,
		Reason: fmt.Sprintf(
			"%d cost decreases beyond 10%% coincided with %d failed-gate quality drops beyond 5%%; evolving toward value (quality per unit cost)",
			costDrops, qualityDrops),
		Confidence: costQualityConfidence,
		successor: &Objective{
			Name:        ObjectiveMaximizeValue,
			Formula:     "metrics.quality_score / metrics.cost_per_item",
			Direction:   DirectionMaximize,
			Description: "Maximize delivered quality per unit cost.",
		},
	}
}

// stabilityProposal fires when the drift rate leaves the healthy band:
// the stability objective's tolerance is halved above 40% drift and
// widened by half below 5%.
func (m *Manager) stabilityProposal(set *Set, rate float64) *Proposal {
	idx := set.Find(ObjectiveStability)
	if idx < 0 || set.Objectives[idx].Tolerance <= 0 {
		return nil
	}
	tolerance := set.Objectives[idx].Tolerance

	var (
		next   float64
		reason string
	)
	switch {
	case rate > driftTightenRate:
		next = tolerance / 2
		reason = fmt.Sprintf(
			"drift rate %.0f%% of recent examples exceeds %.0f%%; tightening stability tolerance",
			rate*100, driftTightenRate*100)
	case rate < driftLoosenRate:
		next = tolerance * 1.5
		reason = fmt.Sprintf(
			"drift rate %.0f%% of recent examples is under %.0f%%; loosening stability tolerance on an over-constrained system",
			rate*100, driftLoosenRate*100)
	default:
		return nil
	}

	return &Proposal{
		Kind:         ProposalAdjustTolerance,
		Objective:    ObjectiveStability,
		Change:       fmt.Sprintf("stability tolerance %.2f -> %.2f", tolerance, next),
		OldValue:     fmt.Sprintf("%.2f", tolerance),
		NewValue:     fmt.Sprintf("%.2f", next),
		Reason:       reason,
		Confidence:   stabilityConfidence,
		newTolerance: next,
	}
}

// apply rewrites the objective document for one proposal and appends the
// matching evolution record. The record is written even when the rewrite
// fails, with Applied=false, so the audit trail covers failed attempts.
func (m *Manager) apply(proposal Proposal) (Evolution, error) {
	set, rewriteErr := m.store.Rewrite(func(set *Set) error {
		idx := set.Find(proposal.Objective)
		if idx < 0 {
			return fmt.Errorf("objective %q not found", proposal.Objective)
		}
		switch proposal.Kind {
		case ProposalEvolveGoal:
			successor := *proposal.successor
			successor.Weight = set.Objectives[idx].Weight
			set.Objectives[idx] = successor
		case ProposalAdjustTolerance:
			set.Objectives[idx].Tolerance = proposal.newTolerance
		default:
			return fmt.Errorf("unknown proposal kind %q", proposal.Kind)
		}
		return nil
	})

	record := Evolution{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Objective:  proposal.Objective,
		Change:     proposal.Change,
		OldValue:   proposal.OldValue,
		NewValue:   proposal.NewValue,
		Reason:     proposal.Reason,
		Confidence: proposal.Confidence,
		Applied:    rewriteErr == nil,
	}
	if rewriteErr == nil {
		record.StoreVersion = set.Version
	}

	if err := m.evolution.Append(record); err != nil {
		return record, err
	}
	if rewriteErr != nil {
		return record, fmt.Errorf("failed to apply proposal %q: %w", proposal.Change, rewriteErr)
	}

	m.metrics.RecordAdaptationApplied(observability.ComponentObjective)
	slog.Info("objective.adaptation.applied",
		"objective", proposal.Objective,
		"change", proposal.Change,
		"confidence", proposal.Confidence,
		"store_version", record.StoreVersion)

	return record, nil
}

// History returns the full evolution log.
func (m *Manager) History() ([]Evolution, error) {
	return m.evolution.ReadAll()
}
