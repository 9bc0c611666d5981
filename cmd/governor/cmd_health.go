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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/pkg/ux"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show health and readiness of the governance service",
	Long: `Probe the governance service's health and readiness endpoints.

Exit Codes:
  0 = Service healthy and ready
  1 = Service reachable but not ready
  2 = Error (service unreachable)`,
	Run: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runStatus is the CLI handler for "governor status".
func runStatus(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	result := StatusResult{Server: serverBase()}
	if err := probeGet("/health", &result.Health); err != nil {
		os.Exit(OutputResult(cfg, "status", start, nil, false, err))
	}
	if err := probeGet("/ready", &result.Ready); err != nil {
		os.Exit(OutputResult(cfg, "status", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		ux.Title(fmt.Sprintf("Governance Service at %s", result.Server))
		if result.Health.Status == "ok" {
			ux.Success(fmt.Sprintf("Healthy (version %s)", result.Health.Version))
		} else {
			ux.Error(fmt.Sprintf("Health status %q", result.Health.Status))
		}
		if result.Ready.Ready {
			ux.Success("Ready")
		} else {
			ux.Warning("Not ready")
		}
		fmt.Printf("  Active sessions: %d\n", result.Ready.ActiveSessions)
		fmt.Printf("  Ledger entries:  %d\n", result.Ready.LedgerEntries)
		fmt.Printf("  Rule set:        %s\n", result.Ready.RuleSetVersion)
	}
	os.Exit(OutputResult(cfg, "status", start, result, !result.Ready.Ready, nil))
}

// probeGet fetches a probe endpoint with a short timeout.
func probeGet(path string, out interface{}) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(apiURL(path))
	if err != nil {
		return fmt.Errorf("failed to reach governance service at %s: %w", serverBase(), err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	// Readiness probes may return 503 with a decodable body.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("governance service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
