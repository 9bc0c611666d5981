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
	"github.com/AleutianAI/AleutianGovernance/services/governance/policystore"
	"github.com/AleutianAI/AleutianGovernance/services/governance/sandbox"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	policyEvalVars    []string
	policyEvalFlags   []string
	policyEvalTimeout int64
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the governance rule set in priority order",
	Run:   runPolicyList,
}

var policyEvalCmd = &cobra.Command{
	Use:   "eval [expression]",
	Short: "Evaluate a constraint expression in the sandbox",
	Long: `Evaluate a boolean constraint expression against a metric snapshot.

The expression runs in the service's sandboxed evaluator: no loops, no
assignments, no I/O, and only the min, max, and abs functions. Metric
flags populate the "metrics.*" namespace, --baseline-* flags the
"baseline.*" namespace, and --var / --flag add extra variables.

Examples:
  governor policy eval 'metrics.quality_score >= 0.9' --quality 0.93
  governor policy eval 'metrics.cost_per_item <= baseline.cost_per_item * 1.1' \
      --cost 0.52 --baseline-cost 0.50
  governor policy eval 'volume > 100 and enabled' --var volume=250 --flag enabled=true

Exit Codes:
  0 = Expression evaluated true
  1 = Expression evaluated false
  2 = Error (parse failure, limit exceeded, service unreachable)`,
	Args: cobra.ExactArgs(1),
	Run:  runPolicyEval,
}

var policyCheckCmd = &cobra.Command{
	Use:   "check [policy-name]",
	Short: "Evaluate one named policy against a metric snapshot",
	Long: `Evaluate a single policy from the rule set against metric flags.

All of the policy's conditions must hold for the policy to pass; the
actions it would request are listed but never executed.

Exit Codes:
  0 = Policy conditions hold
  1 = Policy conditions violated
  2 = Error (unknown policy, evaluation failure, service unreachable)`,
	Args: cobra.ExactArgs(1),
	Run:  runPolicyCheck,
}

func init() {
	registerMetricFlags(policyEvalCmd, "", "")
	registerMetricFlags(policyEvalCmd, "baseline-", " baseline")
	policyEvalCmd.Flags().StringArrayVar(&policyEvalVars, "var", nil,
		"Extra numeric variable as name=value (repeatable)")
	policyEvalCmd.Flags().StringArrayVar(&policyEvalFlags, "flag", nil,
		"Extra boolean variable as name=value (repeatable)")
	policyEvalCmd.Flags().Int64Var(&policyEvalTimeout, "timeout-ms", 0,
		"Tighten the evaluation budget in milliseconds (0 = service default)")

	registerMetricFlags(policyCheckCmd, "", "")
	registerMetricFlags(policyCheckCmd, "baseline-", " baseline")

	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyEvalCmd)
	policyCmd.AddCommand(policyCheckCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runPolicyList is the CLI handler for "governor policy list".
func runPolicyList(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	var ruleSet policystore.RuleSet
	if err := apiGet("/policies", &ruleSet); err != nil {
		os.Exit(OutputResult(cfg, "policy list", start, nil, false, err))
	}

	if !cfg.JSON && !cfg.Quiet {
		renderRuleSet(ruleSet)
	}
	os.Exit(OutputResult(cfg, "policy list", start, ruleSet, false, nil))
}

// runPolicyEval is the CLI handler for "governor policy eval".
func runPolicyEval(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	req, err := buildEvalRequest(cmd, args[0])
	if err != nil {
		os.Exit(OutputResult(cfg, "policy eval", start, nil, false, err))
	}

	var result sandbox.Result
	if err := apiPost("/policies/eval", req, &result); err != nil {
		os.Exit(OutputResult(cfg, "policy eval", start, nil, false, err))
	}

	if !result.Success {
		err := fmt.Errorf("evaluation failed: %s", result.Error)
		os.Exit(OutputResult(cfg, "policy eval", start, result, false, err))
	}
	if !cfg.JSON && !cfg.Quiet {
		renderEvalResult(args[0], result)
	}
	os.Exit(OutputResult(cfg, "policy eval", start, result, !result.Value, nil))
}

// runPolicyCheck is the CLI handler for "governor policy check".
func runPolicyCheck(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := outputConfig()

	req, err := buildEvalRequest(cmd, "")
	if err != nil {
		os.Exit(OutputResult(cfg, "policy check", start, nil, false, err))
	}
	body := governance.PolicyEvalRequest{
		Metrics:   req.Metrics,
		Baseline:  req.Baseline,
		Extra:     req.Extra,
		Flags:     req.Flags,
		TimeoutMs: req.TimeoutMs,
	}

	var resp governance.PolicyEvalResponse
	if err := apiPost("/policies/"+args[0]+"/eval", body, &resp); err != nil {
		os.Exit(OutputResult(cfg, "policy check", start, nil, false, err))
	}

	if !resp.Result.Success {
		err := fmt.Errorf("evaluation failed: %s", resp.Result.Error)
		os.Exit(OutputResult(cfg, "policy check", start, resp, false, err))
	}
	if !cfg.JSON && !cfg.Quiet {
		renderEvalResult(resp.Policy, resp.Result)
	}
	os.Exit(OutputResult(cfg, "policy check", start, resp, !resp.Result.Value, nil))
}

// buildEvalRequest assembles an evaluation request from the shared metric
// and variable flags. Expression may be empty for named-policy checks.
func buildEvalRequest(cmd *cobra.Command, expression string) (governance.EvalRequest, error) {
	metrics, err := metricsFromFlags(cmd, "")
	if err != nil {
		return governance.EvalRequest{}, err
	}
	baseline, err := metricsFromFlags(cmd, "baseline-")
	if err != nil {
		return governance.EvalRequest{}, err
	}
	extra, err := parseNumericAssignments(policyEvalVars)
	if err != nil {
		return governance.EvalRequest{}, fmt.Errorf("invalid --var: %w", err)
	}
	flags, err := parseBoolAssignments(policyEvalFlags)
	if err != nil {
		return governance.EvalRequest{}, fmt.Errorf("invalid --flag: %w", err)
	}
	return governance.EvalRequest{
		Expression: expression,
		Metrics:    metrics,
		Baseline:   baseline,
		Extra:      extra,
		Flags:      flags,
		TimeoutMs:  policyEvalTimeout,
	}, nil
}

// =============================================================================
// TEXT RENDERING
// =============================================================================

func renderRuleSet(ruleSet policystore.RuleSet) {
	ux.Title(fmt.Sprintf("Governance Policies (%s, mode %s)", ruleSet.Version, ruleSet.Mode))
	if len(ruleSet.Policies) == 0 {
		ux.Muted("Rule set is empty.")
	}
	for _, policy := range ruleSet.Policies {
		enabled := "enabled"
		if !policy.Enabled {
			enabled = "disabled"
		}
		fmt.Printf("  [%3d] %-28s %s\n", policy.Priority, policy.Name, enabled)
		if policy.Description != "" {
			fmt.Printf("        %s\n", policy.Description)
		}
		for _, constraint := range policy.Constraints {
			fmt.Printf("        - %s\n", constraint)
		}
		if len(policy.Annotations) > 0 {
			var notes []string
			for k, v := range policy.Annotations {
				notes = append(notes, k+"="+v)
			}
			fmt.Printf("        annotations: %s\n", strings.Join(notes, " "))
		}
	}
}

func renderEvalResult(label string, result sandbox.Result) {
	if result.Value {
		ux.Success(fmt.Sprintf("%s => true", label))
	} else {
		ux.Warning(fmt.Sprintf("%s => false", label))
	}
	if len(result.Actions) > 0 {
		fmt.Printf("  Actions requested (not executed): %s\n", strings.Join(result.Actions, ", "))
	}
	fmt.Printf("  Evaluated in %dms", result.DurationMs)
	if result.MemoryBytes > 0 {
		fmt.Printf(", %d bytes allocated", result.MemoryBytes)
	}
	fmt.Println()
}
