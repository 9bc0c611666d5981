// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// generate_policy_docs generates a markdown reference for the default
// governance policy pack from the in-code seed documents.
//
// Usage:
//
//	go run scripts/generate_policy_docs.go > docs/policy_reference.md
//
// The generated documentation includes:
//   - The default rule set with conditions, actions, and YAML forms
//   - The default objective functions and their weights
//   - The expression language available inside policy constraints
//   - Sandbox evaluation limits
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/objective"
	"github.com/AleutianAI/AleutianGovernance/services/governance/policystore"
	"github.com/AleutianAI/AleutianGovernance/services/governance/sandbox"
)

func main() {
	rules := policystore.DefaultRuleSet()
	objectives := objective.DefaultSet()
	generateMarkdown(rules, objectives)
}

// generateMarkdown outputs the full markdown documentation.
func generateMarkdown(rules policystore.RuleSet, objectives objective.Set) {
	fmt.Println("# Governance Policy Reference")
	fmt.Println()
	fmt.Println("## Overview")
	fmt.Println()
	fmt.Println("This document describes the default policy pack the governance service seeds")
	fmt.Println("on first start. The live documents are rewritten by the adaptive components,")
	fmt.Println("so a running installation may have diverged from what is shown here; use")
	fmt.Println("`governor policy list` and `governor objectives list` to inspect live state.")
	fmt.Println()
	fmt.Printf("**Generated:** %s\n", time.Now().Format("2006-01-02 15:04:05 UTC"))
	fmt.Println()

	// Statistics
	totalConditions := 0
	totalActions := 0
	for _, p := range rules.Policies {
		totalConditions += len(p.Conditions())
		totalActions += len(p.Actions())
	}

	fmt.Println("## Summary Statistics")
	fmt.Println()
	fmt.Println("| Metric | Count |")
	fmt.Println("|--------|-------|")
	fmt.Printf("| Default Policies | %d |\n", len(rules.Policies))
	fmt.Printf("| Conditions | %d |\n", totalConditions)
	fmt.Printf("| Actions | %d |\n", totalActions)
	fmt.Printf("| Default Objectives | %d |\n", len(objectives.Objectives))
	fmt.Println()

	// Table of contents
	fmt.Println("## Table of Contents")
	fmt.Println()
	fmt.Println("1. [Default Rule Set](#default-rule-set)")
	fmt.Println("2. [Objective Functions](#objective-functions)")
	fmt.Println("3. [Expression Language](#expression-language)")
	fmt.Println("4. [Evaluation Limits](#evaluation-limits)")
	fmt.Println()

	// Quick reference table (all policies)
	fmt.Println("---")
	fmt.Println()
	fmt.Println("## Default Rule Set")
	fmt.Println()
	fmt.Printf("Seed version `%s`, mode `%s`. Policies are evaluated highest priority first;\n", rules.Version, rules.Mode)
	fmt.Println("all conditions within a policy are joined with logical AND. Actions are")
	fmt.Println("collected for the caller, never executed by the evaluator.")
	fmt.Println()
	fmt.Println("| Policy | Priority | Enabled | Actions |")
	fmt.Println("|--------|----------|---------|---------|")
	for _, p := range rules.Policies {
		fmt.Printf("| `%s` | %d | %t | %s |\n",
			p.Name, p.Priority, p.Enabled, strings.Join(p.Actions(), ", "))
	}
	fmt.Println()

	for _, p := range rules.Policies {
		printPolicyDetails(p)
	}

	// Objectives
	fmt.Println("---")
	fmt.Println()
	fmt.Println("## Objective Functions")
	fmt.Println()
	fmt.Printf("Seed version `%s`. The adaptive manager rewrites this set when recorded\n", objectives.Version)
	fmt.Println("feedback shows a sustained pattern, bumping the minor version on every change.")
	fmt.Println()
	fmt.Println("| Objective | Direction | Weight | Formula |")
	fmt.Println("|-----------|-----------|--------|---------|")
	for _, o := range objectives.Objectives {
		fmt.Printf("| `%s` | %s | %.2f | `%s` |\n", o.Name, o.Direction, o.Weight, o.Formula)
	}
	fmt.Println()

	for _, o := range objectives.Objectives {
		fmt.Printf("### `%s`\n", o.Name)
		fmt.Println()
		fmt.Println(o.Description)
		fmt.Println()
		if o.Tolerance > 0 {
			fmt.Printf("Tolerated drift fraction: %.2f\n", o.Tolerance)
			fmt.Println()
		}
	}

	// Expression language
	fmt.Println("---")
	fmt.Println()
	fmt.Println("## Expression Language")
	fmt.Println()
	fmt.Println("Policy conditions and objective formulas share one grammar, evaluated by the")
	fmt.Println("sandboxed interpreter against a frozen copy of the run's context. Expressions")
	fmt.Println("cannot mutate state, reach the filesystem, or call the network.")
	fmt.Println()
	fmt.Println("**Variables:**")
	fmt.Println()
	fmt.Println("| Namespace | Contents |")
	fmt.Println("|-----------|----------|")
	fmt.Println("| `metrics.*` | The metric snapshot under evaluation (`quality_score`, `cost_per_item`, `latency_ms`, `duplication_rate`) |")
	fmt.Println("| `baseline.*` | The comparison baseline for the same metrics |")
	fmt.Println()
	fmt.Println("**Functions:**")
	fmt.Println()
	fmt.Println("| Function | Meaning |")
	fmt.Println("|----------|---------|")
	fmt.Println("| `min(a, b, ...)` | Smallest argument |")
	fmt.Println("| `max(a, b, ...)` | Largest argument |")
	fmt.Println("| `abs(x)` | Absolute value |")
	fmt.Println()
	fmt.Println("**Operators:** `+` `-` `*` `/`, comparisons (`<` `<=` `>` `>=` `==` `!=`),")
	fmt.Println("and boolean logic (`&&` `||` `!`) with parentheses for grouping.")
	fmt.Println()

	// Limits
	fmt.Println("---")
	fmt.Println()
	fmt.Println("## Evaluation Limits")
	fmt.Println()
	fmt.Println("| Limit | Value |")
	fmt.Println("|-------|-------|")
	fmt.Printf("| Wall-clock timeout | %s |\n", sandbox.DefaultTimeout)
	fmt.Printf("| Allocation ceiling | %d MB |\n", sandbox.DefaultMemoryLimit/(1024*1024))
	fmt.Printf("| Max expression size | %d KB |\n", sandbox.MaxExpressionBytes/1024)
	fmt.Println()

	// Footer
	fmt.Println("---")
	fmt.Println()
	fmt.Println("*This document is auto-generated from the seed documents in the codebase.*")
	fmt.Println()
	fmt.Println("*To regenerate: `go run scripts/generate_policy_docs.go > docs/policy_reference.md`*")
}

// printPolicyDetails prints one policy section with its YAML form, suitable
// for copying into an override document.
func printPolicyDetails(p datatypes.Policy) {
	fmt.Printf("### `%s`\n", p.Name)
	fmt.Println()
	fmt.Println(p.Description)
	fmt.Println()

	if conditions := p.Conditions(); len(conditions) > 0 {
		fmt.Println("**Conditions:**")
		fmt.Println()
		for _, c := range conditions {
			fmt.Printf("- `%s`\n", c)
		}
		fmt.Println()
	}
	if actions := p.Actions(); len(actions) > 0 {
		fmt.Println("**Actions:**")
		fmt.Println()
		for _, a := range actions {
			fmt.Printf("- `%s`\n", a)
		}
		fmt.Println()
	}

	data, err := yaml.Marshal([]datatypes.Policy{p})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling policy %q: %v\n", p.Name, err)
		os.Exit(1)
	}
	fmt.Println("**YAML form:**")
	fmt.Println()
	fmt.Println("```yaml")
	fmt.Print(string(data))
	fmt.Println("```")
	fmt.Println()
}
