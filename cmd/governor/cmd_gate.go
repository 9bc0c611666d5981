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
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/phase"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	gateSessionID     string
	gateResult        string
	gateConfigVersion string
	gateResetForce    bool
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var gateTransitionCmd = &cobra.Command{
	Use:   "transition",
	Short: "Apply a gate verdict to a session and move it through the state machine",
	Long: `Apply a quality gate verdict to a pipeline session.

The service appends the decision to the ledger first, then moves the
session: PASS and WARN advance, PARTIAL retries the current phase, and
FAIL rolls back one phase (a Phase 0 failure blocks the session).

Examples:
  governor gate transition --session run-42 --result PASS --quality 0.93
  governor gate transition --session run-42 --result FAIL --quality 0.41 --cost 1.80

Exit Codes:
  0 = Session advanced or completed
  1 = Session retried, rolled back, or blocked
  2 = Error (invalid input, terminal session, service unreachable)`,
	Run: runGateTransition,
}

var gateStateCmd = &cobra.Command{
	Use:   "state [session-id]",
	Short: "Show a session's current phase and last gate verdict",
	Args:  cobra.ExactArgs(1),
	Run:   runGateState,
}

var gateSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List tracked sessions with phase and lifecycle status",
	Run:   runGateSessions,
}

var gateResetCmd = &cobra.Command{
	Use:   "reset [session-id]",
	Short: "Reset a session back to Phase 0",
	Long: `Reset a session to Phase 0 with a fresh lifecycle.

The reset itself is recorded in the decision ledger, so the session's
history stays intact. Requires --force or an interactive confirmation.

Exit Codes:
  0 = Session reset
  2 = Error (unknown session, confirmation declined, service unreachable)`,
	Args: cobra.ExactArgs(1),
	Run:  runGateReset,
}

var gateStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate transition statistics across the full ledger",
	Run:   runGateStats,
}

func init() {
	gateTransitionCmd.Flags().StringVar(&gateSessionID, "session", "",
		"Pipeline session identifier (required)")
	gateTransitionCmd.Flags().StringVar(&gateResult, "result", "",
		"Gate verdict: PASS, WARN, PARTIAL, or FAIL (required)")
	gateTransitionCmd.Flags().StringVar(&gateConfigVersion, "config-version", "",
		"Policy rule set version the verdict was produced under")
	registerMetricFlags(gateTransitionCmd, "", " observed at the gate")
	gateTransitionCmd.MarkFlagRequired("session")
	gateTransitionCmd.MarkFlagRequired("result")

	gateResetCmd.Flags().BoolVar(&gateResetForce, "force", false,
		"Skip the interactive confirmation")

	gateCmd.AddCommand(gateTransitionCmd)
	gateCmd.AddCommand(gateStateCmd)
	gateCmd.AddCommand(gateSessionsCmd)
	gateCmd.AddCommand(gateResetCmd)
	gateCmd.AddCommand(gateStatsCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runGateTransition is the CLI handler for "governor gate transition".
func runGateTransition(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	// Validate the verdict locally for a fast, clear failure.
	verdict, err := datatypes.ParseGateResult(gateResult)
	if err != nil {
		os.Exit(OutputResult(cfg, "gate transition", start, nil, false, err))
	}
	metrics, err := metricsFromFlags(cmd, "")
	if err != nil {
		os.Exit(OutputResult(cfg, "gate transition", start, nil, false, err))
	}

	req := governance.TransitionRequest{
		SessionID:     gateSessionID,
		GateResult:    string(verdict),
		Metrics:       metrics,
		ConfigVersion: gateConfigVersion,
	}
	var result phase.TransitionResult
	if err := apiPost("/transitions", req, &result); err != nil {
		os.Exit(OutputResult(cfg, "gate transition", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		renderTransition(result)
	}
	hasFindings := result.Movement != phase.MovementAdvanced &&
		result.Movement != phase.MovementCompleted
	os.Exit(OutputResult(cfg, "gate transition", start, result, hasFindings, nil))
}

// runGateState is the CLI handler for "governor gate state".
func runGateState(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	var state phase.PhaseState
	if err := apiGet("/sessions/"+args[0], &state); err != nil {
		os.Exit(OutputResult(cfg, "gate state", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		renderPhaseState(state)
	}
	os.Exit(OutputResult(cfg, "gate state", start, state, false, nil))
}

// runGateSessions is the CLI handler for "governor gate sessions".
func runGateSessions(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	var resp governance.SessionListResponse
	if err := apiGet("/sessions", &resp); err != nil {
		os.Exit(OutputResult(cfg, "gate sessions", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		ux.Title("Tracked Sessions")
		if resp.Count == 0 {
			ux.Muted("No sessions recorded yet.")
		}
		for _, rec := range resp.Sessions {
			detail := fmt.Sprintf("%s, updated %s", rec.Phase, rec.UpdatedAt)
			ux.SessionStatus(rec.SessionID, ux.StatusIcon(string(rec.Status)), detail)
		}
	}
	os.Exit(OutputResult(cfg, "gate sessions", start, resp, false, nil))
}

// runGateReset is the CLI handler for "governor gate reset".
func runGateReset(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()
	sessionID := args[0]

	if !gateResetForce {
		fmt.Printf("Reset session %q back to Phase 0? The decision history is kept. [y/N]: ", sessionID)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			os.Exit(CLIExitError)
		}
	}

	var resp governance.ResetResponse
	if err := apiPost("/sessions/"+sessionID+"/reset", nil, &resp); err != nil {
		os.Exit(OutputResult(cfg, "gate reset", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		ux.Success(fmt.Sprintf("Session %s reset to Phase 0", resp.SessionID))
	}
	os.Exit(OutputResult(cfg, "gate reset", start, resp, false, nil))
}

// runGateStats is the CLI handler for "governor gate stats".
func runGateStats(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	var stats phase.Stats
	if err := apiGet("/stats", &stats); err != nil {
		os.Exit(OutputResult(cfg, "gate stats", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		renderStats(stats)
	}
	os.Exit(OutputResult(cfg, "gate stats", start, stats, false, nil))
}

// =============================================================================
// TEXT RENDERING
// =============================================================================

func renderTransition(result phase.TransitionResult) {
	switch result.Movement {
	case phase.MovementAdvanced, phase.MovementCompleted:
		ux.Success(fmt.Sprintf("%s: %s", result.SessionID, result.Reason))
	case phase.MovementRetried:
		ux.Warning(fmt.Sprintf("%s: %s", result.SessionID, result.Reason))
	default:
		ux.Error(fmt.Sprintf("%s: %s", result.SessionID, result.Reason))
	}

	to := result.To
	if to == "" {
		to = "-"
	}
	fmt.Printf("  Movement: %s (%s -> %s)\n", result.Movement, result.From, to)
	fmt.Printf("  Status:   %s\n", result.Status)
	fmt.Printf("  Ledger:   seq %d  %s\n", result.Sequence, shortHash(result.EntryHash))
}

func renderPhaseState(state phase.PhaseState) {
	ux.Title(fmt.Sprintf("Session %s", state.SessionID))
	fmt.Printf("  Phase:     %s  %s\n", state.CurrentPhase,
		ux.ProgressBar(int(state.CurrentPhase), int(datatypes.MaxPhase), 16))
	fmt.Printf("  Status:    %s\n", state.Status)
	if state.LastGateResult != "" {
		fmt.Printf("  Last gate: %s\n", state.LastGateResult)
	}
	if !state.LastMetrics.IsZero() {
		fmt.Printf("  Metrics:   %s\n", formatMetrics(state.LastMetrics))
	}
	if state.NextPhase != nil {
		fmt.Printf("  Next:      %s\n", *state.NextPhase)
	}
	fmt.Printf("  Updated:   %s\n", state.UpdatedAt)
}

func renderStats(stats phase.Stats) {
	ux.Title("Gate Statistics")
	fmt.Printf("  Transitions: %d across %d sessions\n", stats.TotalTransitions, stats.Sessions)

	if len(stats.PerResult) > 0 {
		fmt.Println("  Per verdict:")
		for _, verdict := range []string{"PASS", "WARN", "PARTIAL", "FAIL"} {
			if n, ok := stats.PerResult[verdict]; ok {
				fmt.Printf("    %-8s %d\n", verdict, n)
			}
		}
	}
	if len(stats.PerPhase) > 0 {
		fmt.Println("  Per phase:")
		for i := 0; i <= 4; i++ {
			key := fmt.Sprintf("Phase %d", i)
			if n, ok := stats.PerPhase[key]; ok {
				fmt.Printf("    %-8s %d\n", key, n)
			}
		}
	}

	avg := stats.MetricAverages
	if avg.QualityScore != nil || avg.CostPerItem != nil || avg.LatencyMs != nil || avg.DuplicationRate != nil {
		fmt.Println("  Metric averages:")
		if avg.QualityScore != nil {
			fmt.Printf("    quality      %.3f\n", *avg.QualityScore)
		}
		if avg.CostPerItem != nil {
			fmt.Printf("    cost         %.3f\n", *avg.CostPerItem)
		}
		if avg.LatencyMs != nil {
			fmt.Printf("    latency      %.1fms\n", *avg.LatencyMs)
		}
		if avg.DuplicationRate != nil {
			fmt.Printf("    duplication  %.3f\n", *avg.DuplicationRate)
		}
	}
}

// formatMetrics renders the set fields of a metric snapshot on one line.
func formatMetrics(m datatypes.Metrics) string {
	var parts []string
	if m.QualityScore != nil {
		parts = append(parts, fmt.Sprintf("quality=%.3f", *m.QualityScore))
	}
	if m.CostPerItem != nil {
		parts = append(parts, fmt.Sprintf("cost=%.3f", *m.CostPerItem))
	}
	if m.LatencyMs != nil {
		parts = append(parts, fmt.Sprintf("latency=%.1fms", *m.LatencyMs))
	}
	if m.DuplicationRate != nil {
		parts = append(parts, fmt.Sprintf("duplication=%.3f", *m.DuplicationRate))
	}
	if len(parts) == 0 {
		return "(none)"
	}
	return strings.Join(parts, " ")
}

// shortHash abbreviates a ledger entry hash for terminal output.
func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12] + "..."
}
