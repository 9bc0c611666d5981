// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

func testEnv() Context {
	return Context{
		Metrics: datatypes.Metrics{
			QualityScore: datatypes.Float64Ptr(0.85),
			CostPerItem:  datatypes.Float64Ptr(0.40),
		},
		Baseline: datatypes.Metrics{
			QualityScore: datatypes.Float64Ptr(0.80),
		},
	}
}

// TestEvaluateExpressionSuccess verifies a straightforward condition over
// metric variables.
func TestEvaluateExpressionSuccess(t *testing.T) {
	e := NewEvaluator(DefaultConfig())

	result := e.EvaluateExpression(context.Background(),
		"metrics.quality_score >= baseline.quality_score && metrics.cost_per_item < 1.0",
		testEnv())

	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if !result.Value {
		t.Error("expected condition to hold")
	}
	if result.Error != "" {
		t.Errorf("expected empty error, got %q", result.Error)
	}
}

// TestEvaluateExpressionRuntimeError verifies runtime failures become
// results, never panics or Go errors.
func TestEvaluateExpressionRuntimeError(t *testing.T) {
	e := NewEvaluator(DefaultConfig())

	result := e.EvaluateExpression(context.Background(), "1 / 0 == 1", Context{})

	if result.Success {
		t.Fatal("expected failure for division by zero")
	}
	if !strings.Contains(result.Error, "division by zero") {
		t.Errorf("expected division-by-zero error, got %q", result.Error)
	}
}

// TestEvaluateExpressionParseError verifies parse failures become results.
func TestEvaluateExpressionParseError(t *testing.T) {
	e := NewEvaluator(DefaultConfig())

	result := e.EvaluateExpression(context.Background(), "quality >=", Context{})

	if result.Success {
		t.Fatal("expected failure for malformed expression")
	}
	if result.Error == "" {
		t.Error("expected an error description")
	}
}

// TestEvaluateNonBooleanRejected verifies a numeric expression is not a
// valid condition.
func TestEvaluateNonBooleanRejected(t *testing.T) {
	e := NewEvaluator(DefaultConfig())

	result := e.EvaluateExpression(context.Background(), "1 + 1", Context{})

	if result.Success {
		t.Fatal("expected failure for non-boolean expression")
	}
	if !strings.Contains(result.Error, "must evaluate to a boolean") {
		t.Errorf("unexpected error: %q", result.Error)
	}
}

// TestEvaluateTimeout verifies the timeout produces the timeout-specific
// error rather than a crash or a generic failure.
func TestEvaluateTimeout(t *testing.T) {
	e := NewEvaluator(Config{Timeout: time.Nanosecond})

	result := e.EvaluateExpression(context.Background(), "1 > 0", Context{})

	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Errorf("expected timeout-specific error, got %q", result.Error)
	}
}

// TestEvaluateTimeoutLongExpression verifies a genuinely slow expression is
// preempted within the budget.
func TestEvaluateTimeoutLongExpression(t *testing.T) {
	e := NewEvaluator(Config{Timeout: time.Millisecond})

	var b strings.Builder
	for i := 0; i < 100000; i++ {
		b.WriteString("1+")
	}
	b.WriteString("1 > 0")

	start := time.Now()
	result := e.EvaluateExpression(context.Background(), b.String(), Context{})
	elapsed := time.Since(start)

	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Errorf("expected timeout-specific error, got %q", result.Error)
	}
	if elapsed > 2*time.Second {
		t.Errorf("evaluation was not preempted promptly: took %s", elapsed)
	}
}

// TestEvaluateMemoryCeiling verifies the measured allocation guard.
func TestEvaluateMemoryCeiling(t *testing.T) {
	e := NewEvaluator(Config{MemoryLimit: 1})

	result := e.EvaluateExpression(context.Background(), "1 + 2 + 3 > 0", Context{})

	if result.Success {
		t.Fatal("expected memory ceiling failure")
	}
	if !strings.Contains(result.Error, "memory limit exceeded") {
		t.Errorf("expected memory error, got %q", result.Error)
	}
}

// TestEvaluateCallerCancellation verifies parent context cancellation is
// honored.
func TestEvaluateCallerCancellation(t *testing.T) {
	e := NewEvaluator(DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := e.EvaluateExpression(ctx, "1 > 0", Context{})

	if result.Success {
		t.Fatal("expected failure under canceled context")
	}
	if !strings.Contains(result.Error, "canceled") {
		t.Errorf("expected cancellation error, got %q", result.Error)
	}
}

// TestEvaluateOversizeExpression verifies the source length guard.
func TestEvaluateOversizeExpression(t *testing.T) {
	e := NewEvaluator(DefaultConfig())

	huge := strings.Repeat("1+", MaxExpressionBytes) + "1 > 0"
	result := e.EvaluateExpression(context.Background(), huge, Context{})

	if result.Success {
		t.Fatal("expected oversize rejection")
	}
	if !strings.Contains(result.Error, "exceeds") {
		t.Errorf("unexpected error: %q", result.Error)
	}
}

// TestEvaluatePolicyJoinsConstraintsWithAnd verifies conjunctive semantics
// and action collection.
func TestEvaluatePolicyJoinsConstraintsWithAnd(t *testing.T) {
	e := NewEvaluator(DefaultConfig())

	policy := datatypes.Policy{
		Name:    "quality-floor",
		Enabled: true,
		Constraints: []string{
			"metrics.quality_score >= 0.8",
			"metrics.cost_per_item < 1.0",
			"action: flag_for_review",
			"action: notify_oncall",
		},
	}

	result := e.EvaluatePolicy(context.Background(), policy, testEnv())
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Error)
	}
	if !result.Value {
		t.Fatal("expected condition to hold")
	}
	want := []string{"flag_for_review", "notify_oncall"}
	if !reflect.DeepEqual(result.Actions, want) {
		t.Errorf("actions = %v, want %v", result.Actions, want)
	}
}

// TestEvaluatePolicyFalseConditionCollectsNoActions verifies actions only
// surface when the condition holds.
func TestEvaluatePolicyFalseConditionCollectsNoActions(t *testing.T) {
	e := NewEvaluator(DefaultConfig())

	policy := datatypes.Policy{
		Name: "cost-ceiling",
		Constraints: []string{
			"metrics.cost_per_item > 10.0",
			"action: halt_generation",
		},
	}

	result := e.EvaluatePolicy(context.Background(), policy, testEnv())
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Error)
	}
	if result.Value {
		t.Fatal("expected condition to be false")
	}
	if result.Actions != nil {
		t.Errorf("expected no actions, got %v", result.Actions)
	}
}

// TestEvaluatePolicyNoConditionsIsVacuouslyTrue verifies alert-only
// policies.
func TestEvaluatePolicyNoConditionsIsVacuouslyTrue(t *testing.T) {
	e := NewEvaluator(DefaultConfig())

	policy := datatypes.Policy{
		Name:        "always-notify",
		Constraints: []string{"action: notify_oncall"},
	}

	result := e.EvaluatePolicy(context.Background(), policy, Context{})
	if !result.Success || !result.Value {
		t.Fatalf("expected vacuous truth, got success=%v value=%v err=%s",
			result.Success, result.Value, result.Error)
	}
	if len(result.Actions) != 1 || result.Actions[0] != "notify_oncall" {
		t.Errorf("expected [notify_oncall], got %v", result.Actions)
	}
}

// TestEvaluatePolicyMissingCapabilityFailsSafe verifies a policy touching
// an unavailable variable fails closed without surfacing actions.
func TestEvaluatePolicyMissingCapabilityFailsSafe(t *testing.T) {
	e := NewEvaluator(DefaultConfig())

	policy := datatypes.Policy{
		Name: "latency-guard",
		Constraints: []string{
			"metrics.latency_ms < 2000",
			"action: throttle",
		},
	}

	// testEnv reports no latency metric.
	result := e.EvaluatePolicy(context.Background(), policy, testEnv())
	if result.Success {
		t.Fatal("expected failure for unknown identifier")
	}
	if !strings.Contains(result.Error, "unknown identifier") {
		t.Errorf("unexpected error: %q", result.Error)
	}
	if result.Actions != nil {
		t.Errorf("expected no actions on failure, got %v", result.Actions)
	}
}

// TestEvaluatorReusableAfterFailure verifies a failure leaves the evaluator
// and caller data untouched.
func TestEvaluatorReusableAfterFailure(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	env := testEnv()

	if r := e.EvaluateExpression(context.Background(), "1 / 0 == 1", env); r.Success {
		t.Fatal("expected failure")
	}

	if *env.Metrics.QualityScore != 0.85 {
		t.Error("caller metrics mutated by failed evaluation")
	}

	r := e.EvaluateExpression(context.Background(), "metrics.quality_score > 0.8", env)
	if !r.Success || !r.Value {
		t.Fatalf("evaluator unusable after failure: success=%v err=%s", r.Success, r.Error)
	}
}
