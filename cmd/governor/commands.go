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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/pkg/logging"
	"github.com/AleutianAI/AleutianGovernance/pkg/ux"
)

// --- Global Command Variables ---
var (
	cliServer        string // governance service base URL override
	cliJSON          bool
	cliCompact       bool
	cliQuiet         bool
	cliVerbose       bool
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "governor",
		Short: "A cli to operate the Aleutian governance service",
		Long: `Governor drives the Aleutian governance service: phase gate
				transitions, the decision ledger, sandboxed policy evaluation,
				and the feedback loops that adapt objectives and policies
				over time.

				The service address comes from --server, then the
				ALEUTIAN_GOVERNANCE_SERVER environment variable, and defaults
				to http://localhost:12280.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}

			level := logging.LevelWarn
			if cliVerbose {
				level = logging.LevelDebug
			}
			logger = logging.New(logging.Config{
				Level:   level,
				LogDir:  os.Getenv("ALEUTIAN_GOVERNANCE_LOG_DIR"),
				Service: "governor",
				// The watch dashboard owns the terminal; JSON output must
				// stay machine-parseable.
				Quiet: cliJSON || cliQuiet || cmd.Name() == "watch",
			})
		},
	}

	// --- Command Groups ---
	// Leaf commands register themselves from their cmd_*.go files.
	gateCmd = &cobra.Command{
		Use:   "gate",
		Short: "Drive phase gate sessions through the quality state machine",
	}
	ledgerCmd = &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and verify the append-only decision ledger",
	}
	policyCmd = &cobra.Command{
		Use:   "policy",
		Short: "List governance policies and evaluate constraint expressions",
	}
	feedbackCmd = &cobra.Command{
		Use:   "feedback",
		Short: "Record domain events and inspect the training dataset",
	}
	objectivesCmd = &cobra.Command{
		Use:   "objectives",
		Short: "Inspect and adapt the versioned objective functions",
	}
	symmetryCmd = &cobra.Command{
		Use:   "symmetry",
		Short: "Mine adaptation history for policy design feedback",
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&cliServer, "server", "",
		"Governance service base URL (default http://localhost:12280)")
	rootCmd.PersistentFlags().BoolVar(&cliJSON, "json", false,
		"Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&cliCompact, "compact", false,
		"Compact JSON output, no indentation")
	rootCmd.PersistentFlags().BoolVar(&cliQuiet, "quiet", false,
		"Only exit code, no output")
	rootCmd.PersistentFlags().BoolVar(&cliVerbose, "verbose", false,
		"Enable debug logging to stderr")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, or machine (env ALEUTIAN_GOVERNANCE_PERSONALITY)")

	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(objectivesCmd)
	rootCmd.AddCommand(symmetryCmd)
}

// outputConfig assembles the output settings shared by every leaf command.
func outputConfig() OutputConfig {
	return OutputConfig{JSON: cliJSON, Compact: cliCompact, Quiet: cliQuiet}
}
