// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox evaluates policy condition expressions against a frozen
// snapshot of metrics and context data, under a wall-clock timeout and a
// memory ceiling.
//
// The sandbox is the kernel's trust boundary: every policy condition,
// whatever its source, is evaluated here and nowhere else. Safety comes
// from capability absence rather than filtering. The expression language is
// a purpose-built grammar (arithmetic, comparison, logical operators, and
// the pure helpers min/max/abs over named variables) with no I/O, process,
// property-assignment, loop, or code-loading constructs, so there is
// nothing to escape to. Action directives attached to a policy are
// collected as identifiers only and never executed.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/observability"
)

// =============================================================================
// Configuration
// =============================================================================

const (
	// DefaultTimeout is the wall-clock budget for a single evaluation.
	DefaultTimeout = 5 * time.Second

	// DefaultMemoryLimit is the measured allocation ceiling for a single
	// evaluation (50 MB).
	DefaultMemoryLimit int64 = 50 * 1024 * 1024

	// MaxExpressionBytes bounds the source length of an expression.
	MaxExpressionBytes = 256 * 1024
)

// Config controls evaluation limits. Zero values take the defaults.
type Config struct {
	// Timeout is the wall-clock budget per evaluation.
	Timeout time.Duration

	// MemoryLimit is the measured allocation ceiling per evaluation, bytes.
	MemoryLimit int64

	// Metrics receives sandbox counters; nil disables recording.
	Metrics *observability.Metrics
}

// DefaultConfig returns the stock limits (5s, 50 MB).
func DefaultConfig() Config {
	return Config{
		Timeout:     DefaultTimeout,
		MemoryLimit: DefaultMemoryLimit,
	}
}

// =============================================================================
// Evaluation Context and Result
// =============================================================================

// Context carries the data an expression may read. It is deep-copied into
// an immutable snapshot before evaluation starts, so the expression sees a
// frozen view even if the caller keeps mutating its maps.
//
// Variables are exposed under dotted paths: metric fields as
// "metrics.quality_score" etc., baseline fields as "baseline.*", and Extra
// and Flags entries under their own keys.
type Context struct {
	Metrics  datatypes.Metrics
	Baseline datatypes.Metrics
	Extra    map[string]float64
	Flags    map[string]bool
}

// Result is the outcome of one sandboxed evaluation. Failures of any kind,
// including parse errors, runtime errors, timeouts, and memory ceiling
// breaches, are reported here; evaluation never panics into the caller.
type Result struct {
	// Success is true when the expression evaluated to completion within
	// the limits.
	Success bool `json:"success"`

	// Value is the boolean outcome of the condition; meaningful only when
	// Success is true.
	Value bool `json:"value"`

	// Actions lists the action identifiers collected from the policy when
	// its condition held. Never populated by plain expression evaluation.
	Actions []string `json:"actions,omitempty"`

	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`

	// DurationMs is the wall-clock evaluation time.
	DurationMs int64 `json:"duration_ms"`

	// MemoryBytes is the measured allocation delta, when available.
	MemoryBytes int64 `json:"memory_bytes"`
}

// =============================================================================
// Evaluator
// =============================================================================

// Evaluator runs expressions and policies under the configured limits.
//
// # Thread Safety
//
// An Evaluator is immutable after construction and safe for concurrent use.
// Each evaluation runs in its own goroutine against its own frozen
// snapshot. On timeout the caller gets a result immediately; the worker
// goroutine notices the expired context at its next step check and exits,
// so no goroutine outlives the evaluation by more than a bounded number of
// interpreter steps.
type Evaluator struct {
	timeout     time.Duration
	memoryLimit int64
	metrics     *observability.Metrics
}

// NewEvaluator builds an evaluator, filling unset limits from the defaults.
func NewEvaluator(cfg Config) *Evaluator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}
	return &Evaluator{
		timeout:     cfg.Timeout,
		memoryLimit: cfg.MemoryLimit,
		metrics:     cfg.Metrics,
	}
}

// EvaluateExpression evaluates a single boolean condition expression.
//
// # Inputs
//
//   - ctx: Caller context; cancellation is honored in addition to the
//     evaluator's own timeout.
//   - expression: Condition source, e.g. "metrics.quality_score >= 0.8".
//   - env: Data the expression may read; frozen before evaluation.
//
// # Outputs
//
//   - Result: Success plus the boolean value, or a failure description.
//     Errors never propagate as panics or Go errors.
func (e *Evaluator) EvaluateExpression(ctx context.Context, expression string, env Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := startEvalSpan(ctx, len(expression))
	defer span.End()

	start := time.Now()
	result := e.run(ctx, expression, env)
	result.DurationMs = time.Since(start).Milliseconds()

	setEvalSpanResult(span, result)
	recordEvalMetrics(ctx, time.Since(start), result)
	e.metrics.RecordSandboxEvaluation(classifyOutcome(result), time.Since(start))

	if result.Success {
		slog.Debug("sandbox.evaluation.ok",
			"value", result.Value,
			"duration_ms", result.DurationMs,
		)
	} else {
		slog.Warn("sandbox.evaluation.failed",
			"error", result.Error,
			"duration_ms", result.DurationMs,
		)
	}

	return result
}

// EvaluatePolicy evaluates a policy's condition and, when it holds,
// collects the policy's action directives.
//
// # Description
//
// The policy's non-action constraints are joined with logical AND into a
// single conjunctive condition. A policy with no boolean constraints is
// vacuously true (alert-only policies). Action directives are returned as
// identifiers only; executing them requires a separately authorized path
// outside this package.
func (e *Evaluator) EvaluatePolicy(ctx context.Context, policy datatypes.Policy, env Context) Result {
	conditions := policy.Conditions()

	var expression string
	switch len(conditions) {
	case 0:
		expression = "true"
	case 1:
		expression = conditions[0]
	default:
		parts := make([]string, len(conditions))
		for i, c := range conditions {
			parts[i] = "(" + c + ")"
		}
		expression = strings.Join(parts, " && ")
	}

	result := e.EvaluateExpression(ctx, expression, env)
	if result.Success && result.Value {
		result.Actions = policy.Actions()
	}
	return result
}

// run executes one evaluation under the limits and converts every failure
// mode into a Result.
func (e *Evaluator) run(parent context.Context, expression string, env Context) Result {
	if len(expression) > MaxExpressionBytes {
		return Result{
			Success: false,
			Error:   fmt.Sprintf("expression length %d exceeds %d bytes", len(expression), MaxExpressionBytes),
		}
	}
	if strings.TrimSpace(expression) == "" {
		return Result{Success: false, Error: "empty expression"}
	}

	if parent == nil {
		parent = context.Background()
	}
	if err := parent.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{Success: false, Error: "evaluation canceled"}
		}
		return Result{Success: false, Error: e.timeoutError()}
	}
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	frozen := freeze(env)

	type outcome struct {
		truth    bool
		memBytes uint64
		err      error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("expression evaluation panicked: %v", r)}
			}
		}()

		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)

		node, err := parse(expression)
		if err != nil {
			done <- outcome{err: err}
			return
		}

		it := &interpreter{ctx: ctx, env: frozen}
		v, err := it.eval(node)

		runtime.ReadMemStats(&after)
		mem := after.TotalAlloc - before.TotalAlloc

		if err != nil {
			done <- outcome{memBytes: mem, err: err}
			return
		}
		if v.kind != boolValue {
			done <- outcome{
				memBytes: mem,
				err:      fmt.Errorf("expression must evaluate to a boolean, got %s", v.kind),
			}
			return
		}
		done <- outcome{truth: v.truth, memBytes: mem}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return Result{Success: false, Error: e.timeoutError(), MemoryBytes: int64(out.memBytes)}
			}
			if errors.Is(out.err, context.Canceled) {
				return Result{Success: false, Error: "evaluation canceled", MemoryBytes: int64(out.memBytes)}
			}
			return Result{Success: false, Error: out.err.Error(), MemoryBytes: int64(out.memBytes)}
		}
		if out.memBytes > uint64(e.memoryLimit) {
			return Result{
				Success:     false,
				Error:       fmt.Sprintf("memory limit exceeded: measured %d bytes, limit %d", out.memBytes, e.memoryLimit),
				MemoryBytes: int64(out.memBytes),
			}
		}
		return Result{Success: true, Value: out.truth, MemoryBytes: int64(out.memBytes)}

	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return Result{Success: false, Error: "evaluation canceled"}
		}
		return Result{Success: false, Error: e.timeoutError()}
	}
}

func (e *Evaluator) timeoutError() string {
	return fmt.Sprintf("evaluation timed out after %s", e.timeout)
}

// classifyOutcome maps a result onto the metric outcome labels.
func classifyOutcome(r Result) observability.SandboxOutcome {
	switch {
	case r.Success:
		return observability.SandboxOutcomeOK
	case strings.Contains(r.Error, "timed out"):
		return observability.SandboxOutcomeTimeout
	case strings.Contains(r.Error, "memory limit"):
		return observability.SandboxOutcomeMemory
	default:
		return observability.SandboxOutcomeError
	}
}

// freeze deep-copies the evaluation context into the immutable snapshot the
// interpreter reads. Metric fields are only exposed when present, so an
// expression touching an unreported metric fails with "unknown identifier"
// instead of silently reading a default.
func freeze(env Context) *snapshot {
	s := &snapshot{
		numbers: make(map[string]float64, 8+len(env.Extra)),
		bools:   make(map[string]bool, len(env.Flags)),
	}

	addMetrics := func(prefix string, m datatypes.Metrics) {
		if m.QualityScore != nil {
			s.numbers[prefix+".quality_score"] = *m.QualityScore
		}
		if m.CostPerItem != nil {
			s.numbers[prefix+".cost_per_item"] = *m.CostPerItem
		}
		if m.LatencyMs != nil {
			s.numbers[prefix+".latency_ms"] = *m.LatencyMs
		}
		if m.DuplicationRate != nil {
			s.numbers[prefix+".duplication_rate"] = *m.DuplicationRate
		}
	}
	addMetrics("metrics", env.Metrics)
	addMetrics("baseline", env.Baseline)

	for k, v := range env.Extra {
		s.numbers[k] = v
	}
	for k, v := range env.Flags {
		s.bools[k] = v
	}

	return s
}
