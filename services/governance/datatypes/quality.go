// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the shared data structures for the governance
// kernel: quality phases, gate results, metric snapshots, domain events, and
// policy definitions. Types here are plain data; behavior lives in the
// component packages that consume them.
package datatypes

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Quality Phases
// =============================================================================

// QualityPhase identifies a stage of the quality pipeline. Phases are ordered
// 0 through 4; the phase machine advances, retries, or rolls back between them
// based on gate results.
type QualityPhase int

const (
	// MinPhase is the entry phase of the pipeline.
	MinPhase QualityPhase = 0

	// MaxPhase is the final phase; passing its gate completes the pipeline.
	MaxPhase QualityPhase = 4
)

// String renders the phase in its canonical display form ("Phase 2").
func (p QualityPhase) String() string {
	return fmt.Sprintf("Phase %d", int(p))
}

// Valid reports whether the phase is within the pipeline's range.
func (p QualityPhase) Valid() bool {
	return p >= MinPhase && p <= MaxPhase
}

// ParsePhase parses a phase from either its display form ("Phase 2") or a
// bare integer ("2").
//
// # Inputs
//
//   - s: Phase string, case-insensitive on the "Phase" prefix.
//
// # Outputs
//
//   - QualityPhase: Parsed phase.
//   - error: Non-nil if the string is not a phase or is out of range.
func ParsePhase(s string) (QualityPhase, error) {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	lower = strings.TrimPrefix(lower, "phase")
	lower = strings.TrimSpace(lower)

	n, err := strconv.Atoi(lower)
	if err != nil {
		return 0, fmt.Errorf("invalid phase %q: %w", s, err)
	}

	phase := QualityPhase(n)
	if !phase.Valid() {
		return 0, fmt.Errorf("phase %d out of range [%d, %d]", n, MinPhase, MaxPhase)
	}
	return phase, nil
}

// =============================================================================
// Gate Results
// =============================================================================

// GateResult is the verdict a quality gate returns for a phase's output.
// The phase machine maps each verdict to a movement through the pipeline.
type GateResult string

const (
	// GatePass means the phase output met all gate criteria.
	GatePass GateResult = "PASS"

	// GateWarn means the output met criteria with non-blocking findings.
	GateWarn GateResult = "WARN"

	// GatePartial means some criteria were met; the phase should be retried.
	GatePartial GateResult = "PARTIAL"

	// GateFail means the output did not meet criteria; the pipeline rolls back.
	GateFail GateResult = "FAIL"
)

// Valid reports whether the result is one of the four recognized verdicts.
func (g GateResult) Valid() bool {
	switch g {
	case GatePass, GateWarn, GatePartial, GateFail:
		return true
	}
	return false
}

// Passed reports whether the result allows the pipeline to move forward.
func (g GateResult) Passed() bool {
	return g == GatePass || g == GateWarn
}

// ParseGateResult parses a gate result case-insensitively.
func ParseGateResult(s string) (GateResult, error) {
	result := GateResult(strings.ToUpper(strings.TrimSpace(s)))
	if !result.Valid() {
		return "", fmt.Errorf("invalid gate result %q (expected PASS, WARN, PARTIAL, or FAIL)", s)
	}
	return result, nil
}

// =============================================================================
// Metric Snapshots
// =============================================================================

// Metrics is a snapshot of the upstream scoring subsystem's measurements at
// the moment of a gate decision. All fields are nullable: upstream producers
// report only the metrics they computed, and the kernel never invents values.
type Metrics struct {
	// QualityScore is the composite quality score in [0, 1].
	QualityScore *float64 `json:"quality_score,omitempty"`

	// CostPerItem is the generation cost in USD per output item.
	CostPerItem *float64 `json:"cost_per_item,omitempty"`

	// LatencyMs is the end-to-end generation latency in milliseconds.
	LatencyMs *float64 `json:"latency_ms,omitempty"`

	// DuplicationRate is the fraction of near-duplicate outputs in [0, 1].
	DuplicationRate *float64 `json:"duplication_rate,omitempty"`
}

// IsZero reports whether no metric was reported at all.
func (m Metrics) IsZero() bool {
	return m.QualityScore == nil && m.CostPerItem == nil &&
		m.LatencyMs == nil && m.DuplicationRate == nil
}

// Float64Ptr returns a pointer to v. Convenience for building snapshots.
func Float64Ptr(v float64) *float64 {
	return &v
}

// =============================================================================
// Severity
// =============================================================================

// Severity classifies how urgent an outcome is, P0 (most urgent) to P3.
type Severity string

const (
	SeverityP0 Severity = "P0"
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
)

// Valid reports whether the severity is one of the recognized levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityP0, SeverityP1, SeverityP2, SeverityP3:
		return true
	}
	return false
}

// RequiresIntervention reports whether the severity demands a human in the
// loop (P0 and P1 only).
func (s Severity) RequiresIntervention() bool {
	return s == SeverityP0 || s == SeverityP1
}
