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
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/pkg/ux"
	"github.com/AleutianAI/AleutianGovernance/services/governance"
	"github.com/AleutianAI/AleutianGovernance/services/governance/symmetry"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var symmetryRunYes bool

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var symmetryAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Mine recent adaptations for policy design patterns",
	Long: `Mine the recent adaptation history for recurring patterns, without
touching the rule set.

Exit Codes:
  0 = No design proposals
  1 = Design proposals found
  2 = Error (service unreachable)`,
	Run: runSymmetryAnalyze,
}

var symmetryRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the symmetry engine and rewrite the policy rule set",
	Long: `Run one full symmetry pass: mine adaptation history, then apply
every proposal whose confidence clears the floor to the policy rule set.

Proposals below the floor are logged as generated-but-skipped; nothing
about them touches the rule set. Requires --yes or an interactive
confirmation because applied proposals rewrite governance policy.

Exit Codes:
  0 = Pass completed (with or without applied proposals)
  2 = Error (confirmation declined, service unreachable)`,
	Run: runSymmetryRun,
}

var symmetryHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the design feedback log",
	Run:   runSymmetryHistory,
}

func init() {
	symmetryRunCmd.Flags().BoolVar(&symmetryRunYes, "yes", false,
		"Run without the interactive confirmation")

	symmetryCmd.AddCommand(symmetryAnalyzeCmd)
	symmetryCmd.AddCommand(symmetryRunCmd)
	symmetryCmd.AddCommand(symmetryHistoryCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runSymmetryAnalyze is the CLI handler for "governor symmetry analyze".
func runSymmetryAnalyze(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	var report symmetry.Report
	if err := apiGet("/symmetry/analysis", &report); err != nil {
		os.Exit(OutputResult(cfg, "symmetry analyze", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		renderSymmetryReport(report)
	}
	os.Exit(OutputResult(cfg, "symmetry analyze", start, report, len(report.Proposals) > 0, nil))
}

// runSymmetryRun is the CLI handler for "governor symmetry run".
func runSymmetryRun(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	if !symmetryRunYes {
		fmt.Print("Run the symmetry engine? Confident proposals rewrite the policy rule set. [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			os.Exit(CLIExitError)
		}
	}

	var result symmetry.RunResult
	if err := apiPost("/symmetry/run", nil, &result); err != nil {
		os.Exit(OutputResult(cfg, "symmetry run", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		if len(result.Recorded) == 0 {
			ux.Info("No proposals this pass.")
		}
		applied := 0
		for _, record := range result.Recorded {
			renderDesignFeedback(record)
			if record.Applied {
				applied++
			}
		}
		if len(result.Recorded) > 0 {
			ux.Summary(applied, len(result.Recorded)-applied, len(result.Recorded))
		}
	}
	os.Exit(OutputResult(cfg, "symmetry run", start, result, false, nil))
}

// runSymmetryHistory is the CLI handler for "governor symmetry history".
func runSymmetryHistory(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	var resp governance.DesignHistoryResponse
	if err := apiGet("/symmetry/history", &resp); err != nil {
		os.Exit(OutputResult(cfg, "symmetry history", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		ux.Title("Design Feedback Log")
		if resp.Count == 0 {
			ux.Muted("No design feedback recorded yet.")
		}
		for _, record := range resp.Records {
			renderDesignFeedback(record)
		}
	}
	os.Exit(OutputResult(cfg, "symmetry history", start, resp, false, nil))
}

// =============================================================================
// TEXT RENDERING
// =============================================================================

func renderSymmetryReport(report symmetry.Report) {
	ux.Title("Symmetry Analysis")
	fmt.Printf("  Window:   %d adaptations (%d stricter, %d relaxing)\n",
		report.AdaptationsSeen, report.StricterCount, report.RelaxingCount)
	for policyName, n := range report.PolicyCounts {
		fmt.Printf("    %-28s %d\n", policyName, n)
	}
	if report.LatestEvolution != "" {
		fmt.Printf("  Latest objective evolution: %s\n", report.LatestEvolution)
	}
	if len(report.Proposals) == 0 {
		ux.Success("No design changes warranted.")
		return
	}
	for _, proposal := range report.Proposals {
		ux.Warning(fmt.Sprintf("[%s] %s: %s", proposal.Heuristic, proposal.Target, proposal.Change))
		fmt.Printf("  %s (confidence %.2f)\n", proposal.Reason, proposal.Confidence)
	}
}

func renderDesignFeedback(record symmetry.DesignFeedback) {
	if record.Applied {
		ux.Success(fmt.Sprintf("[%s] %s: %s (rule set now %s)",
			record.Heuristic, record.Target, record.Change, record.RuleSetVersion))
	} else {
		ux.Muted(fmt.Sprintf("[%s] %s: %s (skipped, confidence %.2f)",
			record.Heuristic, record.Target, record.Change, record.Confidence))
	}
	fmt.Printf("  %s\n", record.Reason)
}
