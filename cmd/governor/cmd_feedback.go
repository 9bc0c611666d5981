// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/pkg/ux"
	"github.com/AleutianAI/AleutianGovernance/services/governance"
	"github.com/AleutianAI/AleutianGovernance/services/governance/feedback"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	feedbackEvent    string
	feedbackActor    string
	feedbackPolicy   string
	feedbackMetric   string
	feedbackOld      float64
	feedbackNew      float64
	feedbackPassed   bool
	feedbackSeverity string
	feedbackActions  []string
	feedbackLimit    int
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var feedbackRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Convert a domain event into a labeled training example",
	Long: `Record a domain event and the gate verdict it produced.

Recognized event families are threshold_change, quality_score_change,
and metric_change. Anything else responds with recorded=false instead
of an error, so emitters can send events without coordinating releases.

Examples:
  governor feedback record --event quality_score_change --old 0.91 --new 0.84 --passed=false
  governor feedback record --event threshold_change --policy cost_ceiling \
      --metric cost_per_item --old 0.50 --new 0.55 --actor symmetry_engine --passed

Exit Codes:
  0 = Example recorded
  1 = Event family not recognized, nothing recorded
  2 = Error (invalid input, service unreachable)`,
	Run: runFeedbackRecord,
}

var feedbackInsightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Summarize the recorded training dataset",
	Run:   runFeedbackInsights,
}

var feedbackRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent training examples",
	Run:   runFeedbackRecent,
}

func init() {
	feedbackRecordCmd.Flags().StringVar(&feedbackEvent, "event", "",
		"Event family: threshold_change, quality_score_change, or metric_change (required)")
	feedbackRecordCmd.Flags().StringVar(&feedbackActor, "actor", "",
		"Subsystem that emitted the event")
	feedbackRecordCmd.Flags().StringVar(&feedbackPolicy, "policy", "",
		"Policy whose threshold moved (threshold_change)")
	feedbackRecordCmd.Flags().StringVar(&feedbackMetric, "metric", "",
		"Metric name (threshold_change and metric_change)")
	feedbackRecordCmd.Flags().Float64Var(&feedbackOld, "old", 0,
		"Previous value; omit for a first observation")
	feedbackRecordCmd.Flags().Float64Var(&feedbackNew, "new", 0,
		"Latest value (required)")
	feedbackRecordCmd.Flags().BoolVar(&feedbackPassed, "passed", false,
		"Whether the quality gate passed for this state")
	feedbackRecordCmd.Flags().StringVar(&feedbackSeverity, "severity", "",
		"Gate severity: P0, P1, P2, or P3")
	feedbackRecordCmd.Flags().StringArrayVar(&feedbackActions, "action", nil,
		"Action the gate requested (repeatable)")
	feedbackRecordCmd.MarkFlagRequired("event")
	feedbackRecordCmd.MarkFlagRequired("new")

	feedbackRecentCmd.Flags().IntVar(&feedbackLimit, "limit", 10,
		"Maximum number of examples, newest last")

	feedbackCmd.AddCommand(feedbackRecordCmd)
	feedbackCmd.AddCommand(feedbackInsightsCmd)
	feedbackCmd.AddCommand(feedbackRecentCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runFeedbackRecord is the CLI handler for "governor feedback record".
func runFeedbackRecord(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	req := governance.FeedbackRequest{
		EventType:  feedbackEvent,
		Actor:      feedbackActor,
		PolicyName: feedbackPolicy,
		Metric:     feedbackMetric,
		NewValue:   feedbackNew,
		Outcome: governance.OutcomePayload{
			GatePassed: feedbackPassed,
			Severity:   feedbackSeverity,
			Actions:    feedbackActions,
		},
	}
	if cmd.Flags().Changed("old") {
		old := feedbackOld
		req.OldValue = &old
	}

	var resp governance.FeedbackResponse
	if err := apiPost("/feedback", req, &resp); err != nil {
		os.Exit(OutputResult(cfg, "feedback record", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		switch {
		case resp.Recorded && resp.Example != nil:
			ux.Success(fmt.Sprintf("Recorded example %s", resp.Example.ID))
			renderExample(*resp.Example)
		case resp.Recorded:
			ux.Success("Example recorded")
		default:
			ux.Warning(fmt.Sprintf("Event family %q not recognized, nothing recorded", feedbackEvent))
		}
	}
	os.Exit(OutputResult(cfg, "feedback record", start, resp, !resp.Recorded, nil))
}

// runFeedbackInsights is the CLI handler for "governor feedback insights".
func runFeedbackInsights(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	var summary feedback.Summary
	if err := apiGet("/feedback/insights", &summary); err != nil {
		os.Exit(OutputResult(cfg, "feedback insights", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		ux.Title("Feedback Dataset")
		fmt.Printf("  Examples:      %d\n", summary.Total)
		for eventType, n := range summary.PerEventType {
			fmt.Printf("    %-22s %d\n", eventType, n)
		}
		fmt.Printf("  Drift:         %d labeled (current rate %.2f)\n",
			summary.DriftCount, summary.CurrentDriftRate)
		fmt.Printf("  Anomalies:     %d labeled\n", summary.AnomalyCount)
		fmt.Printf("  Interventions: %d required\n", summary.InterventionCount)
		fmt.Printf("  Avg |delta|:   %.2f%%\n", summary.AvgDeltaMagnitude)
	}
	os.Exit(OutputResult(cfg, "feedback insights", start, summary, false, nil))
}

// runFeedbackRecent is the CLI handler for "governor feedback recent".
func runFeedbackRecent(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	path := fmt.Sprintf("/feedback/recent?limit=%d", feedbackLimit)
	var resp governance.RecentFeedbackResponse
	if err := apiGet(path, &resp); err != nil {
		os.Exit(OutputResult(cfg, "feedback recent", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		ux.Title("Recent Training Examples")
		if resp.Count == 0 {
			ux.Muted("No examples recorded yet.")
		}
		for _, example := range resp.Examples {
			renderExample(example)
		}
	}
	os.Exit(OutputResult(cfg, "feedback recent", start, resp, false, nil))
}

// =============================================================================
// TEXT RENDERING
// =============================================================================

func renderExample(example feedback.Example) {
	var labels []string
	if example.Labels.IsDrift {
		labels = append(labels, "drift")
	}
	if example.Labels.IsAnomaly {
		labels = append(labels, "anomaly")
	}
	if example.Labels.RequiresIntervention {
		labels = append(labels, "intervention")
	}
	labelStr := "-"
	if len(labels) > 0 {
		labelStr = strings.Join(labels, ",")
	}

	f := example.Features
	metric := f.Metric
	if metric == "" {
		metric = "quality_score"
	}
	fmt.Printf("  %s  %-22s %-16s %.3f -> %.3f (%+.1f%%)  [%s]\n",
		example.Timestamp, example.EventType, metric,
		derefOr(f.OldValue, f.NewValue-f.Delta), f.NewValue, f.DeltaPct, labelStr)
}

// derefOr returns *v, or fallback when v is nil.
func derefOr(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}
