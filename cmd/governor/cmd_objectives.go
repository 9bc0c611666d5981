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
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/pkg/ux"
	"github.com/AleutianAI/AleutianGovernance/services/governance"
	"github.com/AleutianAI/AleutianGovernance/services/governance/objective"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var objectivesAdaptYes bool

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var objectivesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the current objective function set",
	Run:   runObjectivesList,
}

var objectivesAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze the feedback dataset for objective change patterns",
	Long: `Analyze recorded feedback for patterns that justify evolving the
objective functions.

Analysis never mutates anything. Below the evidence floor no proposals
are generated at all.

Exit Codes:
  0 = No change proposals
  1 = Change proposals found
  2 = Error (service unreachable)`,
	Run: runObjectivesAnalyze,
}

var objectivesAdaptCmd = &cobra.Command{
	Use:   "adapt",
	Short: "Apply pattern-derived changes to the objective functions",
	Long: `Run one adaptation pass: analyze the feedback dataset and apply
every proposal to the versioned objective store.

Each applied change bumps the store version and appends an evolution
record, so "governor objectives history" always explains how the
current set came to be. Prompts for confirmation unless --yes is set.

Exit Codes:
  0 = Pass completed (with or without applied changes)
  2 = Error (confirmation declined, service unreachable)`,
	Run: runObjectivesAdapt,
}

var objectivesHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the objective evolution log",
	Run:   runObjectivesHistory,
}

func init() {
	objectivesAdaptCmd.Flags().BoolVar(&objectivesAdaptYes, "yes", false,
		"Apply without the interactive confirmation")

	objectivesCmd.AddCommand(objectivesListCmd)
	objectivesCmd.AddCommand(objectivesAnalyzeCmd)
	objectivesCmd.AddCommand(objectivesAdaptCmd)
	objectivesCmd.AddCommand(objectivesHistoryCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runObjectivesList is the CLI handler for "governor objectives list".
func runObjectivesList(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	var set objective.Set
	if err := apiGet("/objectives", &set); err != nil {
		os.Exit(OutputResult(cfg, "objectives list", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		renderObjectiveSet(set)
	}
	os.Exit(OutputResult(cfg, "objectives list", start, set, false, nil))
}

// runObjectivesAnalyze is the CLI handler for "governor objectives analyze".
func runObjectivesAnalyze(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	var report objective.Report
	if err := apiGet("/objectives/analysis", &report); err != nil {
		os.Exit(OutputResult(cfg, "objectives analyze", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		renderObjectiveReport(report)
	}
	os.Exit(OutputResult(cfg, "objectives analyze", start, report, len(report.Proposals) > 0, nil))
}

// runObjectivesAdapt is the CLI handler for "governor objectives adapt".
func runObjectivesAdapt(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	if !objectivesAdaptYes {
		if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			err := fmt.Errorf("stdin is not a terminal; pass --yes to adapt non-interactively")
			os.Exit(OutputResult(cfg, "objectives adapt", start, nil, false, err))
		}
		confirmed := false
		err := huh.NewConfirm().
			Title("Apply pattern-derived changes to the objective functions?").
			Description("Applied changes bump the store version and are recorded in the evolution log.").
			Affirmative("Apply").
			Negative("Cancel").
			Value(&confirmed).
			Run()
		if err != nil {
			os.Exit(OutputResult(cfg, "objectives adapt", start, nil, false, err))
		}
		if !confirmed {
			fmt.Println("Aborted.")
			os.Exit(CLIExitError)
		}
	}

	var result objective.AdaptResult
	if err := apiPost("/objectives/adapt", nil, &result); err != nil {
		os.Exit(OutputResult(cfg, "objectives adapt", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		if len(result.Applied) == 0 {
			ux.Info("No changes applied.")
			if !result.Report.Sufficient {
				ux.Muted(fmt.Sprintf("Dataset has %d examples; %d required before adaptation.",
					result.Report.SampleCount, result.Report.MinSamples))
			}
		}
		for _, evolution := range result.Applied {
			ux.Success(fmt.Sprintf("%s: %s", evolution.Objective, evolution.Change))
			fmt.Printf("  %s (confidence %.2f, store now %s)\n",
				evolution.Reason, evolution.Confidence, evolution.StoreVersion)
		}
	}
	os.Exit(OutputResult(cfg, "objectives adapt", start, result, false, nil))
}

// runObjectivesHistory is the CLI handler for "governor objectives history".
func runObjectivesHistory(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	var resp governance.EvolutionHistoryResponse
	if err := apiGet("/objectives/history", &resp); err != nil {
		os.Exit(OutputResult(cfg, "objectives history", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		ux.Title("Objective Evolution Log")
		if resp.Count == 0 {
			ux.Muted("No evolutions recorded yet.")
		}
		for _, evolution := range resp.Evolutions {
			applied := "applied"
			if !evolution.Applied {
				applied = "skipped"
			}
			fmt.Printf("  %s  %-20s %-9s %s\n",
				evolution.Timestamp, evolution.Objective, applied, evolution.Change)
			fmt.Printf("         %s (confidence %.2f)\n", evolution.Reason, evolution.Confidence)
		}
	}
	os.Exit(OutputResult(cfg, "objectives history", start, resp, false, nil))
}

// =============================================================================
// TEXT RENDERING
// =============================================================================

func renderObjectiveSet(set objective.Set) {
	ux.Title(fmt.Sprintf("Objective Functions (%s, updated %s)", set.Version, set.UpdatedAt))
	for _, obj := range set.Objectives {
		fmt.Printf("  %-22s %s %s (weight %.2f", obj.Name, obj.Direction, obj.Formula, obj.Weight)
		if obj.Tolerance > 0 {
			fmt.Printf(", tolerance %.2f", obj.Tolerance)
		}
		fmt.Println(")")
		if obj.Description != "" {
			fmt.Printf("      %s\n", obj.Description)
		}
	}
}

func renderObjectiveReport(report objective.Report) {
	ux.Title("Objective Analysis")
	fmt.Printf("  Samples:  %d (floor %d)\n", report.SampleCount, report.MinSamples)
	if !report.Sufficient {
		ux.Muted("Not enough evidence to propose changes yet.")
		return
	}
	fmt.Printf("  Signals:  drift rate %.2f, %d cost drops, %d quality drops\n",
		report.DriftRate, report.CostDrops, report.QualityDrops)
	if len(report.Proposals) == 0 {
		ux.Success("No objective changes warranted.")
		return
	}
	for _, proposal := range report.Proposals {
		ux.Warning(fmt.Sprintf("%s: %s", proposal.Objective, proposal.Change))
		fmt.Printf("  %s (confidence %.2f)\n", proposal.Reason, proposal.Confidence)
	}
}
