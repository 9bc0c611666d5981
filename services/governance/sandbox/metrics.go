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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for sandboxed evaluations.
var (
	tracer = otel.Tracer("aleutian.governance.sandbox")
	meter  = otel.Meter("aleutian.governance.sandbox")
)

// Metrics for sandboxed evaluations.
var (
	evalLatency metric.Float64Histogram
	evalTotal   metric.Int64Counter
	evalMemory  metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		evalLatency, err = meter.Float64Histogram(
			"sandbox_eval_duration_seconds",
			metric.WithDescription("Duration of sandboxed expression evaluations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evalTotal, err = meter.Int64Counter(
			"sandbox_eval_total",
			metric.WithDescription("Total number of sandboxed expression evaluations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evalMemory, err = meter.Int64Histogram(
			"sandbox_eval_memory_bytes",
			metric.WithDescription("Measured allocation per sandboxed evaluation"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startEvalSpan creates a span for one sandboxed evaluation.
func startEvalSpan(ctx context.Context, exprBytes int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Evaluator.EvaluateExpression",
		trace.WithAttributes(
			attribute.Int("sandbox.expression_bytes", exprBytes),
		),
	)
}

// setEvalSpanResult sets the result attributes on an evaluation span.
func setEvalSpanResult(span trace.Span, r Result) {
	span.SetAttributes(
		attribute.Bool("sandbox.success", r.Success),
		attribute.Bool("sandbox.value", r.Value),
		attribute.Int64("sandbox.memory_bytes", r.MemoryBytes),
	)
}

// recordEvalMetrics records metrics for one sandboxed evaluation.
func recordEvalMetrics(ctx context.Context, duration time.Duration, r Result) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("success", r.Success),
	)

	evalLatency.Record(ctx, duration.Seconds(), attrs)
	evalTotal.Add(ctx, 1, attrs)
	evalMemory.Record(ctx, r.MemoryBytes)
}
