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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/pkg/ux"
	"github.com/AleutianAI/AleutianGovernance/services/governance"
	"github.com/AleutianAI/AleutianGovernance/services/governance/ledger"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var ledgerShowLimit int

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the decision ledger hash chain",
	Long: `Walk the full decision ledger and recompute every entry hash.

Each entry carries the hash of its predecessor, so any edit, deletion,
or reordering after the fact breaks the chain at a detectable point.

Exit Codes:
  0 = Chain intact
  1 = Chain broken (break index reported)
  2 = Error (service unreachable, ledger unreadable)`,
	Run: runLedgerVerify,
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show recent decision ledger entries",
	Run:   runLedgerShow,
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger size and chain head",
	Run:   runLedgerStats,
}

func init() {
	ledgerShowCmd.Flags().IntVar(&ledgerShowLimit, "limit", 20,
		"Maximum number of entries, newest last (0 = all)")

	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerStatsCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runLedgerVerify is the CLI handler for "governor ledger verify".
func runLedgerVerify(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	var report governance.VerifyReport
	if err := apiGet("/ledger/verify", &report); err != nil {
		os.Exit(OutputResult(cfg, "ledger verify", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		if report.Valid {
			ux.Success(fmt.Sprintf("Ledger verification PASSED (%d entries)", report.Entries))
		} else {
			ux.Error(fmt.Sprintf("Ledger verification FAILED: chain broken at entry %d of %d",
				report.BreakIndex, report.Entries))
		}
	}
	os.Exit(OutputResult(cfg, "ledger verify", start, report, !report.Valid, nil))
}

// runLedgerShow is the CLI handler for "governor ledger show".
func runLedgerShow(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	path := "/ledger/entries"
	if ledgerShowLimit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, ledgerShowLimit)
	}
	var resp governance.EntriesResponse
	if err := apiGet(path, &resp); err != nil {
		os.Exit(OutputResult(cfg, "ledger show", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		ux.Title("Decision Ledger")
		if resp.Count == 0 {
			ux.Muted("No decisions recorded yet.")
		}
		for _, entry := range resp.Entries {
			renderLedgerEntry(entry)
		}
	}
	os.Exit(OutputResult(cfg, "ledger show", start, resp, false, nil))
}

// runLedgerStats is the CLI handler for "governor ledger stats".
func runLedgerStats(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	var report governance.LedgerReport
	if err := apiGet("/ledger/stats", &report); err != nil {
		os.Exit(OutputResult(cfg, "ledger stats", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		ux.Title("Ledger Statistics")
		fmt.Printf("  Entries:  %d (%d bytes on disk)\n", report.Entries, report.SizeBytes)
		if report.LastSequence > 0 {
			fmt.Printf("  Head:     seq %d  %s\n", report.LastSequence, shortHash(report.LastEntryHash))
			fmt.Printf("  Last at:  %s\n", report.LastTimestamp)
		}
	}
	os.Exit(OutputResult(cfg, "ledger stats", start, report, false, nil))
}

// =============================================================================
// TEXT RENDERING
// =============================================================================

func renderLedgerEntry(entry ledger.Entry) {
	next := "-"
	if entry.NextPhase != nil {
		next = entry.NextPhase.String()
	}
	fmt.Printf("  #%-5d %s  %-20s %-8s %s -> %s\n",
		entry.Sequence, entry.Timestamp, entry.SessionID,
		entry.GateResult, entry.Phase, next)
	if !entry.Metrics.IsZero() {
		fmt.Printf("         %s\n", formatMetrics(entry.Metrics))
	}
}
