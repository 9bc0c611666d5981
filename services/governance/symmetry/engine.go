// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package symmetry closes the adaptation loop. It mines the policy
// adaptation log and the objective evolution log for second-order signals
// (how the system has been changing, not how it performs) and rewrites the
// policy rule set when a signal is strong enough. Changes it makes become
// new inputs for the evaluator and the objective manager on the next cycle.
package symmetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/feedback"
	"github.com/AleutianAI/AleutianGovernance/services/governance/objective"
	"github.com/AleutianAI/AleutianGovernance/services/governance/observability"
	"github.com/AleutianAI/AleutianGovernance/services/governance/policystore"
)

// ApplyConfidenceFloor is the minimum confidence a proposal needs before
// the engine edits the rule set. Proposals below the floor are still
// recorded, marked as skipped.
const ApplyConfidenceFloor = 0.70

// Mining constants. The window covers the most recent adaptations; counts
// and ratios are taken over that window only.
const (
	adaptationWindow       = 10
	repeatedPolicyMin      = 3
	strictTrendMinStricter = 3
	directionalEvidenceMin = 6

	repeatedPolicyConfidence = 0.80
	strictTrendConfidence    = 0.80
	strictTrendThinEvidence  = 0.60
	objectiveEchoConfidence  = 0.75
)

// Heuristic names, recorded on every DesignFeedback.
const (
	// HeuristicAdaptiveThreshold marks a policy whose threshold keeps
	// being re-tuned.
	HeuristicAdaptiveThreshold = "adaptive_threshold"

	// HeuristicStrictMode reacts to a sustained tightening trend.
	HeuristicStrictMode = "strict_mode"

	// HeuristicValueComposite echoes an objective shift toward value
	// into the policy layer.
	HeuristicValueComposite = "value_composite"

	// HeuristicStabilityTighten echoes an objective stability change by
	// tightening drift constants across the rule set.
	HeuristicStabilityTighten = "stability_tighten"
)

// compositePolicyName is the policy added by the value echo.
const compositePolicyName = "value-composite"

// Proposal is one second-order edit the engine wants to make.
type Proposal struct {
	Heuristic  string  `json:"heuristic"`
	Target     string  `json:"target"`
	Change     string  `json:"change"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`

	mutate func(*policystore.RuleSet) error
}

// Report is the outcome of one mining pass.
type Report struct {
	// AdaptationsSeen is how many adaptation records fell inside the
	// window.
	AdaptationsSeen int `json:"adaptations_seen"`

	// StricterCount and RelaxingCount split the window by direction.
	StricterCount int `json:"stricter_count"`
	RelaxingCount int `json:"relaxing_count"`

	// PolicyCounts maps policy name to its occurrences in the window.
	PolicyCounts map[string]int `json:"policy_counts,omitempty"`

	// LatestEvolution is the Change line of the most recent objective
	// evolution, when one exists.
	LatestEvolution string `json:"latest_evolution,omitempty"`

	Proposals []Proposal `json:"proposals,omitempty"`
}

// RunResult is the outcome of one full engine run.
type RunResult struct {
	Report Report `json:"report"`

	// Recorded holds every design feedback record written this run,
	// applied and skipped alike.
	Recorded []DesignFeedback `json:"recorded,omitempty"`
}

// =============================================================================
// Engine
// =============================================================================

// Engine mines adaptation history and edits the policy rule set.
//
// # Description
//
// Each run reads the last ten adaptation records and the most recent
// objective evolution, derives proposals from four detectors, and
// processes each proposal: confidence at or above ApplyConfidenceFloor
// rewrites the rule set through the store's mutators, anything lower is
// logged as generated-but-skipped. Every proposal leaves a DesignFeedback
// record either way.
//
// Detectors only propose edits that would change the current rule set, so
// a signal that was already acted on does not re-fire on the next run.
//
// # Thread Safety
//
// Safe for concurrent use; the policy store and the logs serialize their
// own writers. Runs are expected to be infrequent (periodic job or CLI).
type Engine struct {
	adaptations *feedback.AdaptationLog
	evolution   *objective.EvolutionLog
	policies    *policystore.Store
	design      *DesignLog
	metrics     *observability.Metrics
}

// Config carries the engine's dependencies.
type Config struct {
	// Adaptations is the policy adaptation history. Required.
	Adaptations *feedback.AdaptationLog

	// Evolution is the objective evolution history. Required.
	Evolution *objective.EvolutionLog

	// Policies is the rule set the engine edits. Required.
	Policies *policystore.Store

	// Design receives one record per processed proposal. Required.
	Design *DesignLog

	// Metrics is optional.
	Metrics *observability.Metrics
}

// NewEngine validates the configuration and returns a ready engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Adaptations == nil {
		return nil, errors.New("symmetry engine requires an adaptation log")
	}
	if cfg.Evolution == nil {
		return nil, errors.New("symmetry engine requires an evolution log")
	}
	if cfg.Policies == nil {
		return nil, errors.New("symmetry engine requires a policy store")
	}
	if cfg.Design == nil {
		return nil, errors.New("symmetry engine requires a design log")
	}
	return &Engine{
		adaptations: cfg.Adaptations,
		evolution:   cfg.Evolution,
		policies:    cfg.Policies,
		design:      cfg.Design,
		metrics:     cfg.Metrics,
	}, nil
}

// Analyze mines the logs without changing anything.
func (e *Engine) Analyze(ctx context.Context) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	window, err := e.adaptations.ReadRecent(adaptationWindow)
	if err != nil {
		return Report{}, err
	}
	set, err := e.policies.Load()
	if err != nil {
		return Report{}, err
	}
	latest, err := e.evolution.Last()
	if err != nil {
		return Report{}, err
	}

	report := Report{
		AdaptationsSeen: len(window),
		PolicyCounts:    make(map[string]int, len(window)),
	}
	for _, record := range window {
		report.PolicyCounts[record.PolicyName]++
		switch record.Direction {
		case feedback.DirectionStricter:
			report.StricterCount++
		case feedback.DirectionRelaxing:
			report.RelaxingCount++
		}
	}
	if latest != nil {
		report.LatestEvolution = latest.Change
	}

	report.Proposals = append(report.Proposals, e.repeatedPolicyProposals(&set, report.PolicyCounts)...)
	if p := e.strictTrendProposal(&set, report.StricterCount, report.RelaxingCount); p != nil {
		report.Proposals = append(report.Proposals, *p)
	}
	report.Proposals = append(report.Proposals, e.objectiveEchoProposals(&set, latest)...)

	slog.Info("symmetry.analysis.completed",
		"adaptations", report.AdaptationsSeen,
		"stricter", report.StricterCount,
		"relaxing", report.RelaxingCount,
		"proposals", len(report.Proposals))

	return report, nil
}

// Run mines the logs and processes every resulting proposal.
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	report, err := e.Analyze(ctx)
	if err != nil {
		return RunResult{}, err
	}
	result := RunResult{Report: report}

	for _, proposal := range report.Proposals {
		record, err := e.process(proposal)
		if record.ID != "" {
			result.Recorded = append(result.Recorded, record)
		}
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// History returns the full design feedback log.
func (e *Engine) History() ([]DesignFeedback, error) {
	return e.design.ReadAll()
}

// =============================================================================
// Detectors
// =============================================================================

// repeatedPolicyProposals marks policies that keep being re-tuned. A fixed
// threshold adapted three or more times inside the window is empirically
// unstable, so the policy is annotated for adaptive thresholding.
func (e *Engine) repeatedPolicyProposals(set *policystore.RuleSet, counts map[string]int) []Proposal {
	names := make([]string, 0, len(counts))
	for name, count := range counts {
		if count >= repeatedPolicyMin {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var proposals []Proposal
	for _, name := range names {
		idx := set.Find(name)
		if idx < 0 {
			// Adapted under a name the rule set no longer carries.
			continue
		}
		if set.Policies[idx].Annotations["adaptive_threshold"] == "true" {
			continue
		}
		proposals = append(proposals, Proposal{
			Heuristic: HeuristicAdaptiveThreshold,
			Target:    name,
			Change:    fmt.Sprintf("annotate %s with adaptive_threshold=true", name),
			Reason: fmt.Sprintf(
				"policy %q was adapted %d times in the last %d adaptations; its fixed threshold is unstable",
				name, counts[name], adaptationWindow),
			Confidence: repeatedPolicyConfidence,
			mutate:     policystore.SetAnnotation(name, "adaptive_threshold", "true"),
		})
	}
	return proposals
}

// strictTrendProposal reacts to a sustained tightening trend: stricter
// adaptations outnumbering relaxing ones by more than 2:1 flips the rule
// set into strict mode. Confidence drops when the window holds few
// directional records.
func (e *Engine) strictTrendProposal(set *policystore.RuleSet, stricter, relaxing int) *Proposal {
	if set.Mode == policystore.ModeStrict {
		return nil
	}
	if stricter < strictTrendMinStricter || stricter <= 2*relaxing {
		return nil
	}

	confidence := strictTrendConfidence
	if stricter+relaxing < directionalEvidenceMin {
		confidence = strictTrendThinEvidence
	}
	return &Proposal{
		Heuristic: HeuristicStrictMode,
		Target:    "rule_set",
		Change:    fmt.Sprintf("mode %s -> %s", policystore.ModeStandard, policystore.ModeStrict),
		Reason: fmt.Sprintf(
			"stricter adaptations outnumber relaxing ones %d to %d in the last %d adaptations",
			stricter, relaxing, adaptationWindow),
		Confidence: confidence,
		mutate:     policystore.SetMode(policystore.ModeStrict),
	}
}

// objectiveEchoProposals mirrors the most recent objective evolution into
// the policy layer. A shift toward value gains a composite cost-quality
// policy; a stability change tightens every 0.20 drift constant to 0.10.
func (e *Engine) objectiveEchoProposals(set *policystore.RuleSet, latest *objective.Evolution) []Proposal {
	if latest == nil {
		return nil
	}
	text := strings.ToLower(latest.Objective + " " + latest.Change + " " + latest.Reason)

	var proposals []Proposal
	if strings.Contains(text, "value") && set.Find(compositePolicyName) < 0 {
		proposals = append(proposals, Proposal{
			Heuristic: HeuristicValueComposite,
			Target:    compositePolicyName,
			Change:    fmt.Sprintf("add composite cost-quality policy %s", compositePolicyName),
			Reason: fmt.Sprintf(
				"latest objective evolution (%s) moved toward value; the policy layer should watch quality per unit cost",
				latest.Change),
			Confidence: objectiveEchoConfidence,
			mutate: policystore.AddPolicy(datatypes.Policy{
				Name:        compositePolicyName,
				Description: "Watch value delivered per unit cost after the objective shift toward value.",
				Enabled:     true,
				Priority:    70,
				Constraints: []string{
					"metrics.quality_score / metrics.cost_per_item >= baseline.quality_score / baseline.cost_per_item",
					"action: flag_for_review",
				},
			}),
		})
	}
	if strings.Contains(text, "stability") && mentionsConstant(set, "0.20") {
		proposals = append(proposals, Proposal{
			Heuristic: HeuristicStabilityTighten,
			Target:    "rule_set",
			Change:    "rewrite drift constants 0.20 -> 0.10",
			Reason: fmt.Sprintf(
				"latest objective evolution (%s) changed stability posture; tightening drift constants across the rule set",
				latest.Change),
			Confidence: objectiveEchoConfidence,
			mutate:     policystore.RewriteConstants("0.20", "0.10"),
		})
	}
	return proposals
}

// mentionsConstant reports whether any constraint in the set contains the
// literal constant.
func mentionsConstant(set *policystore.RuleSet, constant string) bool {
	for _, p := range set.Policies {
		for _, c := range p.Constraints {
			if strings.Contains(c, constant) {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// Application
// =============================================================================

// process records one proposal, rewriting the rule set first when the
// confidence floor is met. The design record is written even when the
// rewrite fails, with Applied=false.
func (e *Engine) process(proposal Proposal) (DesignFeedback, error) {
	record := DesignFeedback{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Heuristic:  proposal.Heuristic,
		Target:     proposal.Target,
		Change:     proposal.Change,
		Reason:     proposal.Reason,
		Confidence: proposal.Confidence,
	}

	if proposal.Confidence < ApplyConfidenceFloor {
		if err := e.design.Append(record); err != nil {
			return DesignFeedback{}, err
		}
		e.metrics.RecordProposalSkipped(observability.ComponentSymmetry, observability.SkipReasonLowConfidence)
		slog.Info("symmetry.proposal.skipped",
			"heuristic", proposal.Heuristic,
			"target", proposal.Target,
			"confidence", proposal.Confidence,
			"floor", ApplyConfidenceFloor)
		return record, nil
	}

	set, rewriteErr := e.policies.Rewrite(proposal.mutate)
	record.Applied = rewriteErr == nil
	if rewriteErr == nil {
		record.RuleSetVersion = set.Version
	}

	if err := e.design.Append(record); err != nil {
		return record, err
	}
	if rewriteErr != nil {
		return record, fmt.Errorf("failed to apply design proposal %q: %w", proposal.Change, rewriteErr)
	}

	e.metrics.RecordAdaptationApplied(observability.ComponentSymmetry)
	slog.Info("symmetry.adaptation.applied",
		"heuristic", proposal.Heuristic,
		"target", proposal.Target,
		"change", proposal.Change,
		"confidence", proposal.Confidence,
		"ruleset_version", record.RuleSetVersion)

	return record, nil
}
